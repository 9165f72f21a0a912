// Package chunk splits long texts into numbered fragments that fit a chat
// channel's per-message size ceiling.
//
// Lengths are counted in Unicode code points. Concatenating the Body of every
// chunk in index order reproduces the input exactly; the numbering prefix is
// never part of Body.
package chunk

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"unicode/utf8"
)

// DefaultCeiling is the per-message limit of the Telegram Bot API.
const DefaultCeiling = 4096

// ErrCeilingTooSmall is returned when the ceiling cannot hold a numbering
// prefix plus at least one character of body.
var ErrCeilingTooSmall = errors.New("chunk: ceiling too small")

// Chunk is one transport-safe fragment of a longer text.
type Chunk struct {
	// Index is 1-based.
	Index int
	Total int
	Body  string
}

// Text returns the chunk as it should be delivered. Multi-chunk output is
// prefixed with "Part i/total"; a single chunk is delivered unchanged.
func (c Chunk) Text() string {
	return Prefix(c.Index, c.Total) + c.Body
}

// Prefix returns the numbering prefix for chunk index of total.
func Prefix(index, total int) string {
	if total <= 1 {
		return ""
	}
	return fmt.Sprintf("📄 Part %d/%d:\n\n", index, total)
}

// Split divides text into chunks whose delivered Text never exceeds ceiling
// code points. Boundaries prefer paragraph breaks, then line breaks, and fall
// back to a hard cut.
//
// The returned sequence is lazy and can be ranged over only once.
func Split(text string, ceiling int) (iter.Seq[Chunk], error) {
	if ceiling < 1 {
		return nil, ErrCeilingTooSmall
	}

	runes := []rune(text)
	bounds, err := boundaries(runes, ceiling)
	if err != nil {
		return nil, err
	}

	total := len(bounds) - 1
	consumed := false
	return func(yield func(Chunk) bool) {
		if consumed {
			return
		}
		consumed = true
		for i := 0; i < total; i++ {
			c := Chunk{
				Index: i + 1,
				Total: total,
				Body:  string(runes[bounds[i]:bounds[i+1]]),
			}
			if !yield(c) {
				return
			}
		}
	}, nil
}

// All is Split collected into a slice.
func All(text string, ceiling int) ([]Chunk, error) {
	seq, err := Split(text, ceiling)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// boundaries returns cut offsets (in runes) starting at 0 and ending at
// len(runes). A text that fits the ceiling yields a single chunk.
func boundaries(runes []rune, ceiling int) ([]int, error) {
	if len(runes) <= ceiling {
		return []int{0, len(runes)}, nil
	}

	// The prefix length depends on the total, which depends on the body
	// budget. Grow the assumed total until the split fits it.
	assumed := 2
	for {
		budget := ceiling - utf8.RuneCountInString(Prefix(assumed, assumed))
		if budget < 1 {
			return nil, fmt.Errorf("%w: %d cannot hold prefix for %d parts", ErrCeilingTooSmall, ceiling, assumed)
		}
		bounds := cut(runes, budget)
		if n := len(bounds) - 1; n > assumed {
			assumed = n
			continue
		}
		return bounds, nil
	}
}

func cut(runes []rune, budget int) []int {
	bounds := []int{0}
	start := 0
	for start < len(runes) {
		end := len(runes)
		if end-start > budget {
			end = breakPoint(runes[start:start+budget]) + start
		}
		bounds = append(bounds, end)
		start = end
	}
	return bounds
}

// breakPoint returns the length of the longest prefix of window that ends on a
// paragraph break, else on a line break, else after a space or tab, else the
// whole window.
func breakPoint(window []rune) int {
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' && window[i-1] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == ' ' || window[i] == '\t' {
			return i + 1
		}
	}
	return len(window)
}
