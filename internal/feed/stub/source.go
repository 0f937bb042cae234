package stub

import (
	"context"

	"escrow-engine/internal/feed"
)

// Source implements feed.Source for testing.
type Source struct {
	Pairs map[string][]feed.Pair // keyed by mint
	Err   error                  // returned by every call when set
}

// NewSource creates a new stub feed source.
func NewSource() *Source {
	return &Source{Pairs: make(map[string][]feed.Pair)}
}

// PairsForToken returns the configured pairs for the mint.
func (s *Source) PairsForToken(_ context.Context, mint string) ([]feed.Pair, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Pairs[mint], nil
}

// Verify interface compliance at compile time.
var _ feed.Source = (*Source)(nil)
