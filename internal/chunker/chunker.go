// Package chunker splits long text into bounded segments suitable for a single
// speech-synthesis request. Breaks prefer paragraph, then sentence, then word
// boundaries, searching backward from the size limit.
//
// All sizes and offsets are measured in runes.
package chunker

import (
	"errors"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrEmptyText is returned by Validate for zero-length or whitespace-only input.
var ErrEmptyText = errors.New("chunker: text is empty")

const (
	// DefaultMaxSegmentSize is the default upper bound of a segment in characters.
	DefaultMaxSegmentSize = 5000
	// DefaultMinSegmentSize is the default lower bound for a soft break.
	DefaultMinSegmentSize = 100

	// estimateFill is the assumed average segment fill used by EstimateCount.
	estimateFill = 0.85
)

// Options controls how text is split.
type Options struct {
	// MaxSegmentSize is the maximum number of characters per segment.
	MaxSegmentSize int
	// MinSegmentSize is the minimum number of characters before a soft break is accepted.
	MinSegmentSize int
	// PreserveParagraphs enables breaking at blank lines.
	PreserveParagraphs bool
	// PreserveSentences enables breaking after sentence terminators.
	PreserveSentences bool
	// PreserveWords enables breaking at whitespace.
	PreserveWords bool
}

// DefaultOptions returns the default chunking options.
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize:     DefaultMaxSegmentSize,
		MinSegmentSize:     DefaultMinSegmentSize,
		PreserveParagraphs: true,
		PreserveSentences:  true,
		PreserveWords:      true,
	}
}

func (o Options) normalized() Options {
	if o.MaxSegmentSize <= 0 {
		o.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if o.MinSegmentSize < 0 || o.MinSegmentSize >= o.MaxSegmentSize {
		o.MinSegmentSize = 0
	}
	return o
}

// Segment is a contiguous slice of the input text.
// StartOffset is inclusive and EndOffset exclusive, both in runes.
type Segment struct {
	Index       int
	Text        string
	StartOffset int
	EndOffset   int
}

// Len returns the segment length in characters.
func (s Segment) Len() int {
	return s.EndOffset - s.StartOffset
}

// Validate rejects text that cannot produce any segment.
func Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

// Split divides text into ordered segments no longer than opts.MaxSegmentSize.
// Whitespace between two segments is consumed and belongs to neither.
// The last segment always ends at the end of the input.
func Split(text string, opts Options) []Segment {
	opts = opts.normalized()

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= opts.MaxSegmentSize {
		return []Segment{{Index: 0, Text: text, StartOffset: 0, EndOffset: n}}
	}

	var segments []Segment
	pos := 0
	for pos < n {
		end := n
		if n-pos > opts.MaxSegmentSize {
			end = findBreak(runes, pos, opts)
		}

		segments = append(segments, Segment{
			Index:       len(segments),
			Text:        string(runes[pos:end]),
			StartOffset: pos,
			EndOffset:   end,
		})

		pos = end
		for pos < n && unicode.IsSpace(runes[pos]) {
			pos++
		}
	}

	last := &segments[len(segments)-1]
	if last.EndOffset < n {
		last.EndOffset = n
		last.Text = string(runes[last.StartOffset:n])
	}

	return segments
}

// EstimateCount approximates the number of segments Split would produce,
// assuming segments are filled to about 85% of the maximum size.
func EstimateCount(text string, opts Options) int {
	opts = opts.normalized()

	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	if n <= opts.MaxSegmentSize {
		return 1
	}
	return int(math.Ceil(float64(n) / (float64(opts.MaxSegmentSize) * estimateFill)))
}

// findBreak returns the exclusive end of the segment starting at pos.
// Candidate break positions b are searched from pos+max down to pos+min;
// a break at b means the segment ends just after runes[b-1].
func findBreak(runes []rune, pos int, opts Options) int {
	windowEnd := pos + opts.MaxSegmentSize
	lo := pos + opts.MinSegmentSize
	if lo < pos+1 {
		lo = pos + 1
	}

	if opts.PreserveParagraphs {
		for b := windowEnd; b >= lo; b-- {
			if isParagraphBreak(runes, pos, b) {
				return b
			}
		}
	}

	if opts.PreserveSentences {
		for b := windowEnd; b >= lo; b-- {
			if isSentenceBreak(runes, pos, b) {
				return b
			}
		}
	}

	if opts.PreserveWords {
		for b := windowEnd; b >= lo; b-- {
			if unicode.IsSpace(runes[b-1]) {
				return b
			}
		}
	}

	return windowEnd
}

// isParagraphBreak reports whether runes[b-1] ends a blank line ("\n\n" or "\n\r\n").
func isParagraphBreak(runes []rune, pos, b int) bool {
	if b-2 < pos || runes[b-1] != '\n' {
		return false
	}
	if runes[b-2] == '\n' {
		return true
	}
	return runes[b-2] == '\r' && b-3 >= pos && runes[b-3] == '\n'
}

func isSentenceBreak(runes []rune, pos, b int) bool {
	if b >= len(runes) {
		return false
	}
	switch runes[b-1] {
	case '.':
		if isAbbreviation(runes, pos, b-1) {
			return false
		}
	case '!', '?':
	default:
		return false
	}
	return unicode.IsSpace(runes[b]) || isQuote(runes[b])
}

var titles = map[string]struct{}{
	"Mr": {}, "Mrs": {}, "Ms": {}, "Dr": {}, "Prof": {}, "Sr": {}, "Jr": {}, "St": {},
}

// isAbbreviation reports whether the period at index dot terminates an
// initial ("J.") or a common title ("Dr.") rather than a sentence.
func isAbbreviation(runes []rune, pos, dot int) bool {
	start := dot
	for start > pos && unicode.IsLetter(runes[start-1]) {
		start--
	}
	if start == dot {
		return false
	}
	if start > pos && !unicode.IsSpace(runes[start-1]) {
		return false
	}

	word := runes[start:dot]
	if len(word) == 1 && unicode.IsUpper(word[0]) {
		return true
	}
	_, ok := titles[string(word)]
	return ok
}

func isQuote(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '»':
		return true
	}
	return false
}
