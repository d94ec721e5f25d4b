// Package numerator provides the PostgreSQL implementation of fiscal numbering.
// This is the infrastructure layer - it implements core/numerator.Allocator.
package numerator

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	corenumerator "hotelfiscal/internal/core/numerator"
)

// Querier interface for database operations.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SeedFunc returns the first number of a sequence that has no row yet,
// typically the next_number configured for the integration.
type SeedFunc func(ctx context.Context, key corenumerator.Key) int64

// Service allocates numbers with INSERT ... ON CONFLICT DO UPDATE ... RETURNING,
// so every Reserve is a single atomic statement.
type Service struct {
	querier Querier
	seed    SeedFunc

	// keyMu serializes Reserve per key inside this process.
	keyMu sync.Map
}

// Ensure compile-time interface compliance.
var _ corenumerator.Allocator = (*Service)(nil)

// New creates a numerator service.
func New(querier Querier) *Service {
	return &Service{querier: querier}
}

// WithSeed sets the initial value source for unseen sequences.
func (s *Service) WithSeed(seed SeedFunc) *Service {
	s.seed = seed
	return s
}

// Schema is the DDL for the sequence table.
const Schema = `
CREATE TABLE IF NOT EXISTS fiscal_sequences (
    cnpj        TEXT    NOT NULL,
    model       TEXT    NOT NULL,
    series      INTEGER NOT NULL,
    next_number BIGINT  NOT NULL CHECK (next_number > 0),
    PRIMARY KEY (cnpj, model, series)
)`

func (s *Service) initial(ctx context.Context, key corenumerator.Key) int64 {
	if s.seed != nil {
		if n := s.seed(ctx, key); n > 0 {
			return n
		}
	}
	return 1
}

func (s *Service) lock(key corenumerator.Key) func() {
	v, _ := s.keyMu.LoadOrStore(key.String(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Peek implements Allocator.
func (s *Service) Peek(ctx context.Context, key corenumerator.Key) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("numerator service is not initialized")
	}
	var num int64
	err := s.querier.QueryRow(ctx, `
        SELECT COALESCE(
            (SELECT next_number FROM fiscal_sequences WHERE cnpj = $1 AND model = $2 AND series = $3),
            $4)
	`, key.CNPJ, string(key.Model), key.Series, s.initial(ctx, key)).Scan(&num)
	if err != nil {
		return 0, fmt.Errorf("peek %s: %w", key, err)
	}
	return num, nil
}

// Reserve implements Allocator.
func (s *Service) Reserve(ctx context.Context, key corenumerator.Key) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("numerator service is not initialized")
	}
	unlock := s.lock(key)
	defer unlock()

	var next int64
	err := s.querier.QueryRow(ctx, `
        INSERT INTO fiscal_sequences (cnpj, model, series, next_number)
        VALUES ($1, $2, $3, $4 + 1)
        ON CONFLICT (cnpj, model, series) DO UPDATE SET next_number = fiscal_sequences.next_number + 1
        RETURNING next_number
	`, key.CNPJ, string(key.Model), key.Series, s.initial(ctx, key)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("reserve %s: %w", key, err)
	}
	return next - 1, nil
}

// SetNext implements Allocator.
func (s *Service) SetNext(ctx context.Context, key corenumerator.Key, value int64) error {
	if value < 1 {
		return fmt.Errorf("next number must be positive, got %d", value)
	}
	unlock := s.lock(key)
	defer unlock()

	var result int64
	err := s.querier.QueryRow(ctx, `
		INSERT INTO fiscal_sequences (cnpj, model, series, next_number)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cnpj, model, series) DO UPDATE SET next_number = $4
		RETURNING next_number
	`, key.CNPJ, string(key.Model), key.Series, value).Scan(&result)
	if err != nil {
		return fmt.Errorf("set next %s: %w", key, err)
	}
	return nil
}
