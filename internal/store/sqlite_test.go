package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/narration-api/internal/chunker"
	"github.com/maauso/narration-api/internal/generation"
	"github.com/maauso/narration-api/internal/provider"
	"github.com/maauso/narration-api/internal/router"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "narration.db"), newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveAndFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := generation.NewWithID("gen_1", "user-1", "Hello world.")
	g.VoiceID = "rachel"
	g.Preference = router.PreferenceCost
	g.PreferredProvider = provider.OpenAI
	g.Provider = provider.ElevenLabs
	g.OutputFormat = "mp3"
	g.EstimatedCost = decimal.RequireFromString("0.0036")
	g.Currency = "USD"
	require.NoError(t, s.Save(ctx, g))

	got, err := s.FindByID(ctx, "gen_1")
	require.NoError(t, err)

	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "Hello world.", got.Text)
	assert.Equal(t, 12, got.CharacterCount)
	assert.Equal(t, "rachel", got.VoiceID)
	assert.Equal(t, router.PreferenceCost, got.Preference)
	assert.Equal(t, provider.OpenAI, got.PreferredProvider)
	assert.Equal(t, provider.ElevenLabs, got.Provider)
	assert.Equal(t, generation.StatusPending, got.Status)
	assert.True(t, got.EstimatedCost.Equal(decimal.RequireFromString("0.0036")))
	assert.True(t, got.ActualCost.IsZero())
	assert.True(t, got.StartedAt.IsZero())
	assert.Equal(t, g.CreatedAt.UnixNano(), got.CreatedAt.UnixNano())
}

func TestSQLiteStore_SaveUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := generation.NewWithID("gen_1", "user-1", "Hello world.")
	require.NoError(t, s.Save(ctx, g))

	require.NoError(t, g.TransitionTo(generation.StatusAnalyzing))
	require.NoError(t, g.Fail("provider unavailable"))
	require.NoError(t, s.Save(ctx, g))

	got, err := s.FindByID(ctx, "gen_1")
	require.NoError(t, err)
	assert.Equal(t, generation.StatusFailed, got.Status)
	assert.Equal(t, "provider unavailable", got.Error)
	assert.False(t, got.StartedAt.IsZero())
	assert.False(t, got.CompletedAt.IsZero())
}

func TestSQLiteStore_FindMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, generation.ErrGenerationNotFound)
}

func TestSQLiteStore_ListByUserNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, genID := range []string{"gen_a", "gen_b", "gen_c"} {
		g := generation.NewWithID(genID, "user-1", "text")
		g.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Save(ctx, g))
	}
	require.NoError(t, s.Save(ctx, generation.NewWithID("gen_other", "user-2", "text")))

	list, err := s.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "gen_c", list[0].ID)
	assert.Equal(t, "gen_b", list[1].ID)
	assert.Equal(t, "gen_a", list[2].ID)

	none, err := s.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStore_Segments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	g := generation.NewWithID("gen_1", "user-1", "One. Two.")
	require.NoError(t, s.Save(ctx, g))

	second := generation.NewSegment("gen_1", chunker.Segment{Index: 1, Text: "Two.", StartOffset: 5, EndOffset: 9})
	first := generation.NewSegment("gen_1", chunker.Segment{Index: 0, Text: "One.", StartOffset: 0, EndOffset: 4})
	require.NoError(t, s.SaveSegments(ctx, []*generation.Segment{second, first}))

	require.NoError(t, first.Start(provider.OpenAI))
	require.NoError(t, first.Complete([]byte("RIFFdata"), "wav", 1200, decimal.RequireFromString("0.00006")))
	require.NoError(t, s.UpdateSegment(ctx, first))

	segs, err := s.ListSegments(ctx, "gen_1")
	require.NoError(t, err)
	require.Len(t, segs, 2)

	assert.Equal(t, 0, segs[0].Index)
	assert.Equal(t, generation.SegmentCompleted, segs[0].Status)
	assert.Equal(t, provider.OpenAI, segs[0].Provider)
	assert.Equal(t, []byte("RIFFdata"), segs[0].Audio)
	assert.Equal(t, int64(1200), segs[0].DurationMs)
	assert.True(t, segs[0].Cost.Equal(decimal.RequireFromString("0.00006")))
	assert.False(t, segs[0].CompletedAt.IsZero())

	assert.Equal(t, 1, segs[1].Index)
	assert.Equal(t, generation.SegmentPending, segs[1].Status)
	assert.Equal(t, 5, segs[1].StartOffset)
	assert.Empty(t, segs[1].Audio)
}

func TestSQLiteStore_UpdateMissingSegment(t *testing.T) {
	s := openTestStore(t)

	seg := generation.NewSegment("gen_1", chunker.Segment{Index: 0, Text: "x"})
	err := s.UpdateSegment(context.Background(), seg)
	assert.ErrorIs(t, err, generation.ErrSegmentNotFound)
}

func TestSQLiteStore_SegmentsRequireGeneration(t *testing.T) {
	s := openTestStore(t)

	seg := generation.NewSegment("gen_missing", chunker.Segment{Index: 0, Text: "x"})
	err := s.SaveSegments(context.Background(), []*generation.Segment{seg})
	assert.Error(t, err)

	segs, err := s.ListSegments(context.Background(), "gen_missing")
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "narration.db")
	ctx := context.Background()

	s, err := OpenSQLite(ctx, path, newLogger())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, generation.NewWithID("gen_1", "user-1", "persisted")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.FindByID(ctx, "gen_1")
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Text)
}
