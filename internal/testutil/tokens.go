package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokenSource hands out valid session tokens in a fixed order:
// the seed in the high 64 bits and a counter starting at 1 in the low 64 bits,
// both as uppercase hex.
//
// Two sources with the same seed produce the same tokens; Reset rewinds one.
// Safe for concurrent use.
type SequenceTokenSource struct {
	seed uint64

	mu sync.Mutex
	n  uint64
}

// NewSequenceTokenSource returns a source for seed.
func NewSequenceTokenSource(seed uint64) *SequenceTokenSource {
	return &SequenceTokenSource{seed: seed}
}

// Next returns the next token.
func (s *SequenceTokenSource) Next() string {
	s.mu.Lock()
	s.n++
	n := s.n
	s.mu.Unlock()
	return fmt.Sprintf("%016X%016X", s.seed, n)
}

// Reset rewinds the counter so the next token is the first one again.
func (s *SequenceTokenSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
