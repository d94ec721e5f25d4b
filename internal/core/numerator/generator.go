package numerator

import (
	"context"
)

// Allocator hands out fiscal numbers per Key.
// Implementations live in infrastructure layer.
//
// Numbers are reserved only after the provider authorized the document,
// so the sequence never has gaps caused by rejected submissions.
type Allocator interface {
	// Peek returns the number the next Reserve will hand out, without advancing.
	Peek(ctx context.Context, key Key) (int64, error)

	// Reserve returns the current number and advances the sequence by one.
	Reserve(ctx context.Context, key Key) (int64, error)

	// SetNext overrides the next number (operator correction, migration).
	SetNext(ctx context.Context, key Key, value int64) error
}
