package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/memorymesh/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.MemoryStore = (*SQLiteStore)(nil)
	_ Cache            = (*MapCache)(nil)
	_ Cache            = (*RistrettoCache)(nil)
)

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	clock := &tickingClock{now: time.Unix(1_700_000_000, 0)}
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "memories.db"), func(o *SQLiteOptions) {
		o.Now = clock.Now
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_UpsertIsIdempotent(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "u1", "user_name", "张三"))
	first, err := s.List(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, "u1", "user_name", "张三"))
	second, err := s.List(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, "张三", second[0].Content)
	assert.True(t, second[0].UpdatedAt.After(first[0].UpdatedAt))
}

func TestSQLiteStore_DeleteAbsentIsNoop(t *testing.T) {
	s := newSQLite(t)
	assert.NoError(t, s.Delete(context.Background(), "u1", "never"))
}

func TestSQLiteStore_ListOrderedByRecency(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "u1", "a", "1"))
	require.NoError(t, s.Upsert(ctx, "u1", "b", "2"))
	require.NoError(t, s.Upsert(ctx, "u1", "a", "3"))
	require.NoError(t, s.Upsert(ctx, "u2", "z", "other user"))

	recs, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].MemoryID)
	assert.Equal(t, "3", recs[0].Content)
	assert.Equal(t, "b", recs[1].MemoryID)
}

func caches(t *testing.T) map[string]func() Cache {
	return map[string]func() Cache{
		"map": func() Cache { return NewMapCache() },
		"ristretto": func() Cache {
			c, err := NewRistrettoCache(func(o *RistrettoOptions) { o.MaxEntries = 1000 })
			require.NoError(t, err)
			t.Cleanup(c.Close)
			return c
		},
	}
}

func TestManager_ReadAfterWriteIsCoherent(t *testing.T) {
	for name, newCache := range caches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(newSQLite(t), func(o *Options) { o.Cache = newCache() })

			// warm the cache before writing
			snap, err := m.Snapshot(ctx, "u1")
			require.NoError(t, err)
			assert.Empty(t, snap)

			require.NoError(t, m.Upsert(ctx, "u1", "user_job", "科技公司"))
			got, ok, err := m.Get(ctx, "u1", "user_job")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "科技公司", got)

			require.NoError(t, m.Upsert(ctx, "u1", "user_job", "教育行业"))
			got, _, err = m.Get(ctx, "u1", "user_job")
			require.NoError(t, err)
			assert.Equal(t, "教育行业", got)

			snap, err = m.Snapshot(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, []Entry{{MemoryID: "user_job", Content: "教育行业"}}, snap)

			require.NoError(t, m.Delete(ctx, "u1", "user_job"))
			_, ok, err = m.Get(ctx, "u1", "user_job")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestManager_LazyLoadPerUser(t *testing.T) {
	ctx := context.Background()
	store := newSQLite(t)
	require.NoError(t, store.Upsert(ctx, "u1", "user_name", "张三"))

	cache := NewMapCache()
	m := NewManager(store, func(o *Options) { o.Cache = cache })

	_, cached := cache.Get("u1")
	assert.False(t, cached)

	snap, err := m.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []Entry{{MemoryID: "user_name", Content: "张三"}}, snap)

	entries, cached := cache.Get("u1")
	assert.True(t, cached)
	assert.Equal(t, "张三", entries["user_name"])
}

func TestManager_DeleteDropsEmptyUser(t *testing.T) {
	ctx := context.Background()
	cache := NewMapCache()
	m := NewManager(newSQLite(t), func(o *Options) { o.Cache = cache })

	require.NoError(t, m.Upsert(ctx, "u1", "k", "v"))
	_, err := m.Snapshot(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "u1", "k"))
	_, cached := cache.Get("u1")
	assert.False(t, cached)
}

type failingStore struct{ core.MemoryStore }

func (failingStore) Upsert(context.Context, string, string, string) error {
	return errors.New("disk full")
}

func TestManager_FailedWriteLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	base := newSQLite(t)
	require.NoError(t, base.Upsert(ctx, "u1", "user_name", "张三"))

	cache := NewMapCache()
	m := NewManager(failingStore{MemoryStore: base}, func(o *Options) { o.Cache = cache })
	_, err := m.Snapshot(ctx, "u1")
	require.NoError(t, err)

	err = m.Upsert(ctx, "u1", "user_name", "李四")
	require.Error(t, err)

	got, _, err := m.Get(ctx, "u1", "user_name")
	require.NoError(t, err)
	assert.Equal(t, "张三", got)
}

func TestManager_RejectsEmptyKeys(t *testing.T) {
	m := NewManager(newSQLite(t))
	assert.ErrorIs(t, m.Upsert(context.Background(), "u1", " ", "x"), ErrInvalidArgument)
	assert.ErrorIs(t, m.Delete(context.Background(), "", "k"), ErrInvalidArgument)
}

func TestFormatPanel(t *testing.T) {
	assert.Equal(t, EmptyPanel, FormatPanel(nil))
	out := FormatPanel([]core.MemoryRecord{{MemoryID: "user_name", Content: "张三"}, {MemoryID: "user_job", Content: "教育行业"}})
	assert.Equal(t, "📌 user_name\n   └ 张三\n\n📌 user_job\n   └ 教育行业", out)
}
