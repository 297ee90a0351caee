package service

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// CodeFilter remembers codes known to be taken so allocation can skip them
// without a store round trip. A negative answer is never trusted: the store
// is always asked before a candidate is used. Deleted codes stay in the
// filter and are only skipped, never reported as conflicts.
type CodeFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewCodeFilter sizes the filter for expected entries at the given false positive rate.
func NewCodeFilter(expected uint, falsePositiveRate float64) *CodeFilter {
	if expected == 0 {
		expected = 1_000_000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.001
	}
	return &CodeFilter{filter: bloom.NewWithEstimates(expected, falsePositiveRate)}
}

// Add records code as taken. Safe on a nil receiver.
func (f *CodeFilter) Add(code string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.filter.AddString(code)
	f.mu.Unlock()
}

// MaybeTaken reports whether code may already be in use.
func (f *CodeFilter) MaybeTaken(code string) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter.TestString(code)
}
