// Package server provides the HTTP server for the narration API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/narration-api/internal/generation"
	"github.com/maauso/narration-api/internal/pricing"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// CreateGenerationRequest is the HTTP request body for creating a new generation.
type CreateGenerationRequest struct {
	// Text is the full text to narrate.
	Text string `json:"text" validate:"required"`
	// VoiceID selects the narration voice; empty selects the default voice.
	VoiceID string `json:"voice_id" validate:"omitempty,max=128"`
	// Preference is the routing preference.
	Preference string `json:"preference" validate:"omitempty,oneof=cost speed quality balanced"`
	// PreferredProvider receives a routing bonus.
	PreferredProvider string `json:"preferred_provider" validate:"omitempty,max=64"`
	// OutputFormat is the container of the final audio, e.g. "mp3".
	OutputFormat string `json:"output_format" validate:"omitempty,max=16"`
}

// CreateGenerationResponse is the HTTP response after creating a generation.
type CreateGenerationResponse struct {
	// ID is the unique identifier for the created generation.
	ID string `json:"id"`
	// Status is the initial generation status.
	Status string `json:"status"`
	// Provider is the provider chosen when the whole text was quoted.
	Provider string `json:"provider"`
	// EstimatedCost is the quoted price.
	EstimatedCost string `json:"estimated_cost"`
	// Currency of the estimate.
	Currency string `json:"currency"`
}

// QuoteRequest is the HTTP request body for pricing a text.
type QuoteRequest struct {
	Text              string `json:"text" validate:"required"`
	VoiceID           string `json:"voice_id" validate:"omitempty,max=128"`
	Preference        string `json:"preference" validate:"omitempty,oneof=cost speed quality balanced"`
	PreferredProvider string `json:"preferred_provider" validate:"omitempty,max=64"`
}

// QuoteResponse is the HTTP response for a quote.
type QuoteResponse struct {
	VoiceID           string             `json:"voice_id"`
	Preference        string             `json:"preference"`
	CharacterCount    int                `json:"character_count"`
	EstimatedSegments int                `json:"estimated_segments"`
	Provider          string             `json:"provider"`
	Reason            string             `json:"reason"`
	Estimate          pricing.Estimate   `json:"estimate"`
	Alternatives      []pricing.Estimate `json:"alternatives"`
}

// GenerationResponse is the HTTP response for getting generation details.
type GenerationResponse struct {
	ID                string `json:"id"`
	UserID            string `json:"user_id"`
	Status            string `json:"status"`
	VoiceID           string `json:"voice_id"`
	Preference        string `json:"preference"`
	Provider          string `json:"provider"`
	OutputFormat      string `json:"output_format"`
	CharacterCount    int    `json:"character_count"`
	SegmentCount      int    `json:"segment_count"`
	SegmentsCompleted int    `json:"segments_completed"`
	// Progress is the percentage of completion (0-100).
	Progress   int    `json:"progress"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`

	EstimatedCost string `json:"estimated_cost"`
	ActualCost    string `json:"actual_cost,omitempty"`
	Currency      string `json:"currency"`

	// AudioURL is where the final audio can be fetched once completed.
	AudioURL        string `json:"audio_url,omitempty"`
	AudioFormat     string `json:"audio_format,omitempty"`
	AudioDurationMs int64  `json:"audio_duration_ms,omitempty"`
	AudioSizeBytes  int64  `json:"audio_size_bytes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GenerationListResponse wraps a list of generations.
type GenerationListResponse struct {
	Generations []GenerationResponse `json:"generations"`
}

// SegmentResponse describes one segment of a generation.
type SegmentResponse struct {
	ID             string `json:"id"`
	Index          int    `json:"index"`
	Status         string `json:"status"`
	Provider       string `json:"provider,omitempty"`
	CharacterCount int    `json:"character_count"`
	StartOffset    int    `json:"start_offset"`
	EndOffset      int    `json:"end_offset"`
	DurationMs     int64  `json:"duration_ms,omitempty"`
	Cost           string `json:"cost"`
	RetryCount     int    `json:"retry_count"`
	Error          string `json:"error,omitempty"`
}

// SegmentListResponse wraps the segments of a generation.
type SegmentListResponse struct {
	GenerationID string            `json:"generation_id"`
	Segments     []SegmentResponse `json:"segments"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Checks reports each dependency check, "ok" or the failure.
	Checks map[string]string `json:"checks,omitempty"`
}

func newGenerationResponse(g *generation.Generation) GenerationResponse {
	resp := GenerationResponse{
		ID:                g.ID,
		UserID:            g.UserID,
		Status:            string(g.Status),
		VoiceID:           g.VoiceID,
		Preference:        string(g.Preference),
		Provider:          string(g.Provider),
		OutputFormat:      g.OutputFormat,
		CharacterCount:    g.CharacterCount,
		SegmentCount:      g.SegmentCount,
		SegmentsCompleted: g.SegmentsCompleted,
		Progress:          g.Progress,
		RetryCount:        g.RetryCount,
		Error:             g.Error,
		EstimatedCost:     g.EstimatedCost.String(),
		Currency:          g.Currency,
		CreatedAt:         g.CreatedAt,
	}
	if g.Status == generation.StatusCompleted {
		resp.ActualCost = g.ActualCost.String()
		resp.AudioURL = g.AudioURL
		resp.AudioFormat = g.AudioFormat
		resp.AudioDurationMs = g.AudioDurationMs
		resp.AudioSizeBytes = g.AudioSizeBytes
	}
	if !g.StartedAt.IsZero() {
		t := g.StartedAt
		resp.StartedAt = &t
	}
	if !g.CompletedAt.IsZero() {
		t := g.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

func newSegmentResponse(s *generation.Segment) SegmentResponse {
	return SegmentResponse{
		ID:             s.ID,
		Index:          s.Index,
		Status:         string(s.Status),
		Provider:       string(s.Provider),
		CharacterCount: s.CharacterCount,
		StartOffset:    s.StartOffset,
		EndOffset:      s.EndOffset,
		DurationMs:     s.DurationMs,
		Cost:           s.Cost.String(),
		RetryCount:     s.RetryCount,
		Error:          s.Error,
	}
}
