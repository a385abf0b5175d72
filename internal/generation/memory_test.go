package generation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/narration-api/internal/chunker"
)

func TestMemoryStore_SaveAndFind(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	g := New("u1", "text")

	require.NoError(t, store.Save(ctx, g))

	saved, err := store.FindByID(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, saved.ID)
	assert.Equal(t, StatusPending, saved.Status)
}

func TestMemoryStore_SaveUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	g := New("u1", "text")
	_ = store.Save(ctx, g)

	_ = g.TransitionTo(StatusAnalyzing)
	g.SetSegmentCount(4)
	_ = store.Save(ctx, g)

	saved, _ := store.FindByID(ctx, g.ID)
	assert.Equal(t, StatusAnalyzing, saved.Status)
	assert.Equal(t, 4, saved.SegmentCount)
}

func TestMemoryStore_FindByID_NotFound(t *testing.T) {
	_, err := NewMemoryStore().FindByID(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrGenerationNotFound)
}

func TestMemoryStore_ReturnsClones(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	g := New("u1", "text")
	_ = store.Save(ctx, g)

	g.Progress = 80
	found, _ := store.FindByID(ctx, g.ID)
	assert.Equal(t, 0, found.Progress, "mutating the original does not touch the store")

	found.Progress = 90
	again, _ := store.FindByID(ctx, g.ID)
	assert.Equal(t, 0, again.Progress, "mutating a read does not touch the store")
}

func TestMemoryStore_ListByUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	older := New("u1", "a")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := New("u1", "b")
	other := New("u2", "c")
	for _, g := range []*Generation{older, newer, other} {
		require.NoError(t, store.Save(ctx, g))
	}

	list, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)

	empty, err := store.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_Segments(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	segs := []*Segment{
		NewSegment("gen_1", chunker.Segment{Index: 1, Text: "b"}),
		NewSegment("gen_1", chunker.Segment{Index: 0, Text: "a"}),
		NewSegment("gen_2", chunker.Segment{Index: 0, Text: "z"}),
	}
	require.NoError(t, store.SaveSegments(ctx, segs))

	_ = segs[0].Start("google")
	require.NoError(t, store.UpdateSegment(ctx, segs[0]))

	list, err := store.ListSegments(ctx, "gen_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Text)
	assert.Equal(t, "b", list[1].Text)
	assert.Equal(t, SegmentProcessing, list[1].Status)

	none, err := store.ListSegments(ctx, "gen_3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_UpdateSegment_NotFound(t *testing.T) {
	err := NewMemoryStore().UpdateSegment(context.Background(), NewSegment("gen_1", chunker.Segment{Text: "x"}))
	assert.ErrorIs(t, err, ErrSegmentNotFound)
}
