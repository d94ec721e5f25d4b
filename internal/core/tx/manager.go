// Package tx defines transaction boundaries independent of the storage driver.
package tx

import (
	"context"
)

// Manager runs fn inside a transaction. A non-nil error from fn rolls back;
// nested calls reuse the transaction already on ctx.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager adds read-only transactions.
type ReadOnlyManager interface {
	Manager
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
