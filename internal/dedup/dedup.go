// Package dedup finds the origin of near-duplicate messages by fuzzy
// text similarity against a source's previously stored originals.
package dedup

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/avykov/telescan/internal/store"
)

// Threshold is the normalized similarity (percent) at or above which two
// texts count as duplicates.
const Threshold = 95.0

// Similarity returns (maxLen − editDistance) / maxLen × 100 using
// case-sensitive character edit distance. Two empty strings are 100%
// similar.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return float64(maxLen-dist) / float64(maxLen) * 100
}

// Compare reports whether two texts are near-duplicates.
func Compare(a, b string) bool {
	return Similarity(a, b) >= Threshold
}

// Store lists a source's un-superseded originals: non-null text, no
// duplicate link.
type Store interface {
	UnlinkedMessages(ctx context.Context, sourceID int64) ([]store.Message, error)
}

type Engine struct {
	store Store
}

func NewEngine(s Store) *Engine {
	return &Engine{store: s}
}

// FindOrigin returns the first stored origin whose similarity to the
// candidate meets the threshold, or nil when the candidate is novel.
// First match wins; no ranking beyond the store's iteration order.
func (e *Engine) FindOrigin(ctx context.Context, sourceID int64, candidate string) (*store.Message, error) {
	messages, err := e.store.UnlinkedMessages(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list origins: %w", err)
	}
	for i := range messages {
		m := &messages[i]
		if m.Text == nil {
			continue
		}
		if Compare(*m.Text, candidate) {
			return m, nil
		}
	}
	return nil, nil
}
