package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// storageFactory returns an empty store for one test
type storageFactory func(t *testing.T) Storage

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// addBookmark stores a bookmark created hour hours after baseTime
func addBookmark(t *testing.T, s Storage, userID int64, url, title, summary string, hour int, tags ...string) *Bookmark {
	t.Helper()
	ctx := context.Background()
	b := &Bookmark{
		UserID:    userID,
		URL:       url,
		Title:     title,
		Summary:   summary,
		CreatedAt: baseTime.Add(time.Duration(hour) * time.Hour),
	}
	require.NoError(t, s.UpsertBookmark(ctx, b))
	if len(tags) > 0 {
		require.NoError(t, s.AttachTags(ctx, userID, b.ID, tags, types.ProvenanceUser))
	}
	return b
}

func tagIDs(results []TagResult) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.BookmarkID
	}
	return ids
}

func textIDs(results []TextResult) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.BookmarkID
	}
	return ids
}

func vectorIDs(results []VectorResult) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.BookmarkID
	}
	return ids
}

func runStorageSuite(t *testing.T, newStore storageFactory) {
	t.Run("UpsertBookmark", func(t *testing.T) { testUpsertBookmark(t, newStore(t)) })
	t.Run("SearchTags", func(t *testing.T) { testSearchTags(t, newStore(t)) })
	t.Run("SearchText", func(t *testing.T) { testSearchText(t, newStore(t)) })
	t.Run("SearchVector", func(t *testing.T) { testSearchVector(t, newStore(t)) })
	t.Run("GetBookmarks", func(t *testing.T) { testGetBookmarks(t, newStore(t)) })
	t.Run("DetachTags", func(t *testing.T) { testDetachTags(t, newStore(t)) })
	t.Run("DeleteBookmark", func(t *testing.T) { testDeleteBookmark(t, newStore(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("PendingAndStatus", func(t *testing.T) { testPendingAndStatus(t, newStore(t)) })
}

func testUpsertBookmark(t *testing.T, s Storage) {
	ctx := context.Background()

	b := addBookmark(t, s, 1, "https://www.Example.com/post", "First", "summary", 0)
	assert.Greater(t, b.ID, int64(0))
	assert.Equal(t, "example.com", b.Domain)
	assert.Equal(t, types.StatusPending, b.Status)
	assert.True(t, baseTime.Equal(b.CreatedAt))

	// Same URL updates in place and keeps the original creation time
	again := &Bookmark{UserID: 1, URL: b.URL, Title: "Renamed", CreatedAt: baseTime.Add(48 * time.Hour)}
	require.NoError(t, s.UpsertBookmark(ctx, again))
	assert.Equal(t, b.ID, again.ID)
	assert.True(t, baseTime.Equal(again.CreatedAt))

	got, err := s.GetBookmarks(ctx, 1, []int64{b.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Renamed", got[0].Title)

	// Same URL for another user is a separate bookmark
	other := addBookmark(t, s, 2, b.URL, "Other", "", 0)
	assert.NotEqual(t, b.ID, other.ID)
}

func testSearchTags(t *testing.T, s Storage) {
	ctx := context.Background()

	both := addBookmark(t, s, 1, "https://a.dev/1", "both", "", 1, "a", "b")
	onlyA := addBookmark(t, s, 1, "https://a.dev/2", "only a", "", 2, "a")
	addBookmark(t, s, 1, "https://a.dev/3", "only b", "", 3, "b")
	newerBoth := addBookmark(t, s, 1, "https://a.dev/4", "both newer", "", 4, "B", "#a")
	addBookmark(t, s, 2, "https://a.dev/5", "other user", "", 5, "a", "b")

	t.Run("every tag required", func(t *testing.T) {
		results, err := s.SearchTags(ctx, 1, []string{"a", "b"}, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{newerBoth.ID, both.ID}, tagIDs(results))
	})

	t.Run("single tag newest first", func(t *testing.T) {
		results, err := s.SearchTags(ctx, 1, []string{"a"}, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{newerBoth.ID, onlyA.ID, both.ID}, tagIDs(results))
		assert.True(t, baseTime.Add(4*time.Hour).Equal(results[0].CreatedAt))
	})

	t.Run("duplicate query tags count once", func(t *testing.T) {
		results, err := s.SearchTags(ctx, 1, []string{"a", "A", "b"}, 10)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("limit", func(t *testing.T) {
		results, err := s.SearchTags(ctx, 1, []string{"a"}, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{newerBoth.ID}, tagIDs(results))
	})

	t.Run("unknown tag", func(t *testing.T) {
		results, err := s.SearchTags(ctx, 1, []string{"a", "zzz"}, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func testSearchText(t *testing.T, s Storage) {
	ctx := context.Background()

	hooks := addBookmark(t, s, 1, "https://react.dev/hooks", "React Hooks", "Using state in components", 1)
	vue := addBookmark(t, s, 1, "https://vuejs.org/guide", "Vue guide", "Reactive components", 2)
	gh := addBookmark(t, s, 1, "https://github.com/golang/go", "The Go repo", "", 3)
	addBookmark(t, s, 1, "https://example.com/none", "Nothing", "unrelated", 4)

	t.Run("coverage ordering", func(t *testing.T) {
		results, err := s.SearchText(ctx, 1, TextQuery{Tokens: []string{"react", "hooks"}}, 10)
		require.NoError(t, err)
		// "react" is a substring of "reactive", so vue matches one token of two
		require.Equal(t, []int64{hooks.ID, vue.ID}, textIDs(results))
		assert.Equal(t, 2, results[0].Matched)
		assert.Equal(t, 1, results[1].Matched)
	})

	t.Run("case folded text", func(t *testing.T) {
		results, err := s.SearchText(ctx, 1, TextQuery{Tokens: []string{"guide"}}, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{vue.ID}, textIDs(results))
	})

	t.Run("exact domain", func(t *testing.T) {
		results, err := s.SearchText(ctx, 1, TextQuery{
			Tokens:      []string{"github.com"},
			Domain:      "github.com",
			DomainBonus: 0.5,
		}, 10)
		require.NoError(t, err)
		require.Equal(t, []int64{gh.ID}, textIDs(results))
		assert.True(t, results[0].ExactDomain)
	})

	t.Run("domain bonus outranks coverage", func(t *testing.T) {
		// hooks covers both tokens (1.0); vue covers one plus the bonus (1.25)
		results, err := s.SearchText(ctx, 1, TextQuery{
			Tokens:      []string{"components", "state"},
			Domain:      "vuejs.org",
			DomainBonus: 0.75,
		}, 10)
		require.NoError(t, err)
		require.Equal(t, []int64{vue.ID, hooks.ID}, textIDs(results))
		assert.True(t, results[0].ExactDomain)
		assert.False(t, results[1].ExactDomain)
	})

	t.Run("ties newest first", func(t *testing.T) {
		results, err := s.SearchText(ctx, 1, TextQuery{Tokens: []string{"components"}}, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{vue.ID, hooks.ID}, textIDs(results))
	})

	t.Run("other users are invisible", func(t *testing.T) {
		results, err := s.SearchText(ctx, 2, TextQuery{Tokens: []string{"react"}}, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func testSearchVector(t *testing.T, s Storage) {
	ctx := context.Background()

	near := addBookmark(t, s, 1, "https://v.dev/near", "near", "", 1)
	far := addBookmark(t, s, 1, "https://v.dev/far", "far", "", 2)
	twin := addBookmark(t, s, 1, "https://v.dev/twin", "twin", "", 3)
	addBookmark(t, s, 1, "https://v.dev/none", "no embedding", "", 4)
	odd := addBookmark(t, s, 1, "https://v.dev/odd", "other dimension", "", 5)

	for _, e := range []*Embedding{
		{BookmarkID: near.ID, Vector: []float32{1, 0, 0}},
		{BookmarkID: far.ID, Vector: []float32{0, 1, 0}},
		{BookmarkID: twin.ID, Vector: []float32{2, 0, 0}},
		{BookmarkID: odd.ID, Vector: []float32{1, 0}},
	} {
		e.Provider, e.Model = "test", "test"
		require.NoError(t, s.UpsertEmbedding(ctx, e))
	}

	results, err := s.SearchVector(ctx, 1, []float32{1, 0.1, 0}, 10)
	require.NoError(t, err)
	// near and twin have equal cosine; the newer one wins the tie
	require.Equal(t, []int64{twin.ID, near.ID, far.ID}, vectorIDs(results))
	assert.InDelta(t, results[0].Similarity, results[1].Similarity, 1e-6)
	assert.Greater(t, results[1].Similarity, results[2].Similarity)

	results, err = s.SearchVector(ctx, 1, []float32{1, 0.1, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = s.SearchVector(ctx, 2, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testGetBookmarks(t *testing.T, s Storage) {
	ctx := context.Background()

	a := addBookmark(t, s, 1, "https://h.dev/a", "A", "sa", 1, "zeta", "alpha")
	b := addBookmark(t, s, 1, "https://h.dev/b", "B", "sb", 2)
	foreign := addBookmark(t, s, 2, "https://h.dev/c", "C", "", 3, "alpha")

	got, err := s.GetBookmarks(ctx, 1, []int64{b.ID, a.ID, foreign.ID, 99999})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[int64]*Bookmark{}
	for _, bm := range got {
		byID[bm.ID] = bm
	}
	require.Contains(t, byID, a.ID)
	assert.Equal(t, []string{"alpha", "zeta"}, byID[a.ID].Tags)
	assert.Equal(t, "h.dev", byID[a.ID].Domain)
	assert.Equal(t, "sa", byID[a.ID].Summary)
	assert.Empty(t, byID[b.ID].Tags)

	summary := byID[a.ID].ToSummary()
	assert.Equal(t, a.ID, summary.ID)
	assert.Equal(t, "A", summary.Title)

	empty, err := s.GetBookmarks(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testDetachTags(t *testing.T, s Storage) {
	ctx := context.Background()

	b := addBookmark(t, s, 1, "https://t.dev/a", "A", "", 1, "go", "rust", "zig")

	n, err := s.DetachTags(ctx, 1, b.ID, []string{"Rust", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := s.SearchTags(ctx, 1, []string{"rust"}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = s.DetachTags(ctx, 2, b.ID, []string{"go"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.AttachTags(ctx, 2, b.ID, []string{"go"}, types.ProvenanceAI)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testDeleteBookmark(t *testing.T, s Storage) {
	ctx := context.Background()

	b := addBookmark(t, s, 1, "https://d.dev/a", "Delete me", "", 1, "go")
	require.NoError(t, s.UpsertEmbedding(ctx, &Embedding{BookmarkID: b.ID, Vector: []float32{1, 0}, Provider: "p", Model: "m"}))

	assert.ErrorIs(t, s.DeleteBookmark(ctx, 2, b.ID), ErrNotFound)
	require.NoError(t, s.DeleteBookmark(ctx, 1, b.ID))
	assert.ErrorIs(t, s.DeleteBookmark(ctx, 1, b.ID), ErrNotFound)

	tags, err := s.SearchTags(ctx, 1, []string{"go"}, 10)
	require.NoError(t, err)
	assert.Empty(t, tags)

	vecs, err := s.SearchVector(ctx, 1, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, vecs)

	assert.ErrorIs(t, s.UpsertEmbedding(ctx, &Embedding{BookmarkID: b.ID, Vector: []float32{1}}), ErrNotFound)
}

func testTransactions(t *testing.T, s Storage) {
	ctx := context.Background()

	t.Run("rollback discards", func(t *testing.T) {
		tx, err := s.BeginTx(ctx)
		require.NoError(t, err)
		b := &Bookmark{UserID: 1, URL: "https://tx.dev/rollback", Title: "gone"}
		require.NoError(t, tx.UpsertBookmark(ctx, b))
		require.NoError(t, tx.AttachTags(ctx, 1, b.ID, []string{"tx"}, types.ProvenanceUser))
		require.NoError(t, tx.Rollback())

		got, err := s.GetBookmarks(ctx, 1, []int64{b.ID})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("commit persists", func(t *testing.T) {
		tx, err := s.BeginTx(ctx)
		require.NoError(t, err)
		b := &Bookmark{UserID: 1, URL: "https://tx.dev/commit", Title: "kept"}
		require.NoError(t, tx.UpsertBookmark(ctx, b))
		require.NoError(t, tx.AttachTags(ctx, 1, b.ID, []string{"tx"}, types.ProvenanceUser))
		require.NoError(t, tx.UpsertEmbedding(ctx, &Embedding{BookmarkID: b.ID, Vector: []float32{0.5, 0.5}, Provider: "p", Model: "m"}))
		require.NoError(t, tx.Commit())

		got, err := s.GetBookmarks(ctx, 1, []int64{b.ID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []string{"tx"}, got[0].Tags)
		assert.Equal(t, types.StatusReady, got[0].Status)
	})
}

func testPendingAndStatus(t *testing.T, s Storage) {
	ctx := context.Background()

	a := addBookmark(t, s, 1, "https://p.dev/a", "A", "", 1, "x", "y")
	b := addBookmark(t, s, 1, "https://p.dev/b", "B", "", 2, "x")
	require.NoError(t, s.UpsertEmbedding(ctx, &Embedding{BookmarkID: a.ID, Vector: []float32{1}, Provider: "p", Model: "m"}))

	pending, err := s.ListPendingEmbeddings(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	status, err := s.GetStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Bookmarks)
	assert.Equal(t, 2, status.Tags)
	assert.Equal(t, 1, status.Embedded)
	assert.Equal(t, 1, status.Pending)
	assert.False(t, status.LastUpdated.IsZero())
	assert.Equal(t, s.Backend(), status.Backend)

	empty, err := s.GetStatus(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, empty.Bookmarks)
	assert.True(t, empty.LastUpdated.IsZero())
}
