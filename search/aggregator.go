package search

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/memorymesh/logging"
)

// MaxQueryLimit is the upper bound on concurrent queries per search.
const MaxQueryLimit = 3

// Options configure an Aggregator.
type Options struct {
	// MaxQueries caps accepted queries; extras are dropped. Default and
	// upper bound MaxQueryLimit.
	MaxQueries int
	// Attempts per query, initial try included. Default 3.
	Attempts int
	// BaseDelay is multiplied by the attempt number before every attempt.
	BaseDelay time.Duration
	// RateLimitDelay is added after a rate-limited attempt.
	RateLimitDelay time.Duration
	Logger         logging.Logger
}

// Aggregator fans queries out to a Provider, retries each one independently
// and merges the hits with URL deduplication.
type Aggregator struct {
	provider Provider
	opts     Options
}

// NewAggregator creates an Aggregator over provider.
func NewAggregator(provider Provider, optFns ...func(o *Options)) *Aggregator {
	opts := Options{
		MaxQueries:     MaxQueryLimit,
		Attempts:       3,
		BaseDelay:      200 * time.Millisecond,
		RateLimitDelay: time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxQueries <= 0 || opts.MaxQueries > MaxQueryLimit {
		opts.MaxQueries = MaxQueryLimit
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return &Aggregator{provider: provider, opts: opts}
}

// Search runs the accepted queries concurrently and returns the deduplicated
// hits in query order, first-seen URL winning. A query that exhausts its
// attempts contributes nothing; it never fails the others. Only a cancelled
// ctx is returned as an error.
func (a *Aggregator) Search(ctx context.Context, queries []string, maxResults int) ([]Result, error) {
	if len(queries) > a.opts.MaxQueries {
		queries = queries[:a.opts.MaxQueries]
	}
	if len(queries) == 0 {
		return nil, nil
	}

	perQuery := make([][]Result, len(queries))

	g := new(errgroup.Group)
	g.SetLimit(len(queries))
	for i, q := range queries {
		g.Go(func() error {
			perQuery[i] = a.searchOne(ctx, q, maxResults)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Dedup(perQuery...), nil
}

func (a *Aggregator) searchOne(ctx context.Context, query string, maxResults int) []Result {
	for attempt := 0; attempt < a.opts.Attempts; attempt++ {
		if !sleep(ctx, a.opts.BaseDelay*time.Duration(attempt+1)) {
			return nil
		}

		results, err := a.provider.Search(ctx, query, maxResults)
		if err == nil {
			return results
		}

		a.opts.Logger.Warn("search.attempt.failed", "query", query, "attempt", attempt+1, "error", err.Error())
		if errors.Is(err, ErrRateLimited) && attempt+1 < a.opts.Attempts {
			if !sleep(ctx, a.opts.RateLimitDelay) {
				return nil
			}
		}
	}
	return nil
}

// Dedup merges result lists keeping the first occurrence of every URL.
// Results without a URL are dropped.
func Dedup(lists ...[]Result) []Result {
	seen := make(map[string]struct{})
	var out []Result
	for _, list := range lists {
		for _, r := range list {
			if r.URL == "" {
				continue
			}
			if _, dup := seen[r.URL]; dup {
				continue
			}
			seen[r.URL] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
