package duckduckgo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memorymesh/search"
)

const page = `<!DOCTYPE html><html><body>
<div class="results">
  <div class="result results_links result--ad">
    <a class="result__a" href="https://ads.example.com">Ad</a>
  </div>
  <div class="result results_links">
    <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2Fgo1.24&amp;rut=x">Go 1.24 <b>Release</b> Notes</a></h2>
    <a class="result__snippet" href="#">Go 1.24 is
    a major release.</a>
  </div>
  <div class="result results_links">
    <a class="result__a" href="https://example.com/two">Second</a>
    <a class="result__snippet" href="#">Second snippet</a>
  </div>
  <div class="result results_links">
    <a class="result__a" href="https://example.com/three">Third</a>
  </div>
</div>
</body></html>`

func newProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(func(o *Options) {
		o.Endpoint = srv.URL
		o.RatePerSecond = 0
	})
}

func TestSearch_ParsesResults(t *testing.T) {
	var gotQuery string
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotQuery = r.PostForm.Get("q")
		io.WriteString(w, page)
	})

	results, err := p.Search(context.Background(), "go 1.24", 2)
	require.NoError(t, err)
	assert.Equal(t, "go 1.24", gotQuery)

	require.Len(t, results, 2)
	assert.Equal(t, search.Result{
		URL:     "https://go.dev/doc/go1.24",
		Title:   "Go 1.24 Release Notes",
		Snippet: "Go 1.24 is\n    a major release.",
	}, results[0])
	assert.Equal(t, "https://example.com/two", results[1].URL)
}

func TestSearch_RateLimited(t *testing.T) {
	for _, status := range []int{http.StatusAccepted, http.StatusTooManyRequests} {
		p := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})
		_, err := p.Search(context.Background(), "q", 3)
		assert.ErrorIs(t, err, search.ErrRateLimited)
	}
}

func TestSearch_ServerError(t *testing.T) {
	p := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := p.Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.NotErrorIs(t, err, search.ErrRateLimited)
}

func TestResolveLink(t *testing.T) {
	assert.Equal(t, "https://a.b/c", resolveLink("//duckduckgo.com/l/?uddg=https%3A%2F%2Fa.b%2Fc"))
	assert.Equal(t, "https://x.y/z", resolveLink("https://x.y/z"))
	assert.Equal(t, "https://x.y/z", resolveLink("//x.y/z"))
	assert.Empty(t, resolveLink(""))
}
