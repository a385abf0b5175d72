// Package id provides prefixed unique identifiers for generations and segments.
package id

import "github.com/google/uuid"

const (
	generationPrefix = "gen_"
	segmentPrefix    = "seg_"
)

// Generation creates a new generation ID.
// Format: gen_<uuid>
func Generation() string {
	return generationPrefix + uuid.NewString()
}

// Segment creates a new segment ID.
// Format: seg_<uuid>
func Segment() string {
	return segmentPrefix + uuid.NewString()
}
