package numerator

import (
	"context"
	"sync"
)

// MockAllocator is an in-memory Allocator for unit tests.
// Sequences start at 1 unless seeded with SetNext.
type MockAllocator struct {
	mu   sync.Mutex
	next map[Key]int64

	// ReserveFunc overrides Reserve when set.
	ReserveFunc func(ctx context.Context, key Key) (int64, error)

	// Reserved records every reserved number in order.
	Reserved []int64
}

// NewMockAllocator creates an empty MockAllocator.
func NewMockAllocator() *MockAllocator {
	return &MockAllocator{next: make(map[Key]int64)}
}

func (m *MockAllocator) current(key Key) int64 {
	if m.next == nil {
		m.next = make(map[Key]int64)
	}
	n, ok := m.next[key]
	if !ok {
		return 1
	}
	return n
}

// Peek implements Allocator.
func (m *MockAllocator) Peek(_ context.Context, key Key) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current(key), nil
}

// Reserve implements Allocator.
func (m *MockAllocator) Reserve(ctx context.Context, key Key) (int64, error) {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.current(key)
	m.next[key] = n + 1
	m.Reserved = append(m.Reserved, n)
	return n, nil
}

// SetNext implements Allocator.
func (m *MockAllocator) SetNext(_ context.Context, key Key, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next == nil {
		m.next = make(map[Key]int64)
	}
	m.next[key] = value
	return nil
}

// ReservedCount returns how many numbers were reserved.
func (m *MockAllocator) ReservedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Reserved)
}

// Ensure compile-time interface compliance.
var _ Allocator = (*MockAllocator)(nil)
