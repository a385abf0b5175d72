package generation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/narration-api/internal/chunker"
	"github.com/maauso/narration-api/internal/router"
)

func TestNew(t *testing.T) {
	g := New("user-1", "Привет, мир")

	if g.ID == "" {
		t.Error("expected generation to have an ID")
	}
	if g.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, g.Status)
	}
	if g.CharacterCount != 11 {
		t.Errorf("expected 11 characters, got %d", g.CharacterCount)
	}
	if g.Preference != router.PreferenceBalanced {
		t.Errorf("expected balanced preference, got %s", g.Preference)
	}
	if g.CreatedAt.IsZero() || g.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestGeneration_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"PENDING to ANALYZING", StatusPending, StatusAnalyzing, false},
		{"ANALYZING to CHUNKING", StatusAnalyzing, StatusChunking, false},
		{"CHUNKING to PROCESSING", StatusChunking, StatusProcessing, false},
		{"PROCESSING to MERGING", StatusProcessing, StatusMerging, false},
		{"MERGING to COMPLETED", StatusMerging, StatusCompleted, false},
		{"PENDING to CANCELLED", StatusPending, StatusCancelled, false},
		{"PROCESSING to CANCELLED", StatusProcessing, StatusCancelled, false},
		{"MERGING to CANCELLED", StatusMerging, StatusCancelled, false},
		{"PENDING to FAILED", StatusPending, StatusFailed, false},
		{"CHUNKING to FAILED", StatusChunking, StatusFailed, false},
		{"MERGING to FAILED", StatusMerging, StatusFailed, false},
		// Invalid transitions
		{"PENDING to PROCESSING", StatusPending, StatusProcessing, true},
		{"ANALYZING to MERGING", StatusAnalyzing, StatusMerging, true},
		{"PROCESSING to COMPLETED", StatusProcessing, StatusCompleted, true},
		{"COMPLETED to FAILED", StatusCompleted, StatusFailed, true},
		{"FAILED to PENDING", StatusFailed, StatusPending, true},
		{"FAILED to PROCESSING", StatusFailed, StatusProcessing, true},
		{"CANCELLED to ANALYZING", StatusCancelled, StatusAnalyzing, true},
		{"CANCELLED to CANCELLED", StatusCancelled, StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithID("gen_test", "u", "text")
			g.Status = tt.from

			err := g.TransitionTo(tt.to)

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, g.Status)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, g.Status)
			}
		})
	}
}

func TestGeneration_Timestamps(t *testing.T) {
	g := NewWithID("gen_test", "u", "text")

	require.NoError(t, g.TransitionTo(StatusAnalyzing))
	assert.False(t, g.StartedAt.IsZero(), "StartedAt set on ANALYZING")
	assert.True(t, g.CompletedAt.IsZero())

	require.NoError(t, g.Cancel())
	assert.False(t, g.CompletedAt.IsZero(), "CompletedAt set on terminal state")
	assert.True(t, g.IsTerminal())
}

func TestGeneration_Fail(t *testing.T) {
	g := NewWithID("gen_test", "u", "text")
	require.NoError(t, g.Fail("provider exploded"))
	assert.Equal(t, StatusFailed, g.Status)
	assert.Equal(t, "provider exploded", g.Error)

	// A second failure neither transitions nor overwrites the message.
	assert.ErrorIs(t, g.Fail("again"), ErrInvalidTransition)
	assert.Equal(t, "provider exploded", g.Error)
}

func TestGeneration_Complete(t *testing.T) {
	g := NewWithID("gen_test", "u", "text")
	for _, s := range []Status{StatusAnalyzing, StatusChunking, StatusProcessing, StatusMerging} {
		require.NoError(t, g.TransitionTo(s))
	}
	require.NoError(t, g.Complete())
	assert.Equal(t, StatusCompleted, g.Status)
	assert.Equal(t, 100, g.Progress)
}

func TestGeneration_RecordSegmentCompleted(t *testing.T) {
	g := NewWithID("gen_test", "u", "text")
	g.SetSegmentCount(3)

	var progress []int
	for range 4 {
		_, p := g.RecordSegmentCompleted()
		progress = append(progress, p)
	}

	assert.Equal(t, []int{33, 66, 100, 100}, progress)
	assert.Equal(t, 3, g.SegmentsCompleted, "counter never exceeds the segment count")
}

func TestGeneration_Clone(t *testing.T) {
	g := NewWithID("gen_test", "u", "text")
	g.EstimatedCost = decimal.RequireFromString("1.25")

	c := g.Clone()
	c.Status = StatusFailed
	c.Progress = 50

	assert.Equal(t, StatusPending, g.Status)
	assert.Equal(t, 0, g.Progress)
	assert.True(t, c.EstimatedCost.Equal(g.EstimatedCost))
}

func TestSegment_Lifecycle(t *testing.T) {
	s := NewSegment("gen_1", chunker.Segment{Index: 2, Text: "héllo", StartOffset: 10, EndOffset: 15})
	assert.Equal(t, SegmentPending, s.Status)
	assert.Equal(t, 5, s.CharacterCount)
	assert.Equal(t, 2, s.Index)

	require.NoError(t, s.Start("google"))
	require.NoError(t, s.Fail("timeout"))
	assert.Equal(t, 1, s.RetryCount)
	assert.Equal(t, "timeout", s.Error)

	require.NoError(t, s.Retry())
	assert.Equal(t, SegmentRetrying, s.Status)

	require.NoError(t, s.Start("polly"))
	assert.Empty(t, s.Error, "a new attempt clears the previous error")
	require.NoError(t, s.Complete([]byte("audio"), "mp3", 900, decimal.RequireFromString("0.02")))
	assert.Equal(t, SegmentCompleted, s.Status)
	assert.Equal(t, "polly", string(s.Provider))
	assert.Equal(t, int64(900), s.DurationMs)
}

func TestSegment_InvalidTransitions(t *testing.T) {
	s := NewSegment("gen_1", chunker.Segment{Text: "x"})

	assert.ErrorIs(t, s.Fail("x"), ErrInvalidTransition, "PENDING cannot fail")
	assert.ErrorIs(t, s.Retry(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Complete(nil, "", 0, decimal.Zero), ErrInvalidTransition)

	require.NoError(t, s.Start("google"))
	assert.ErrorIs(t, s.Start("google"), ErrInvalidTransition)
}
