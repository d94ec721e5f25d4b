package numerator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corenumerator "hotelfiscal/internal/core/numerator"
)

// Mock objects
type mockRow struct {
	val int64
	err error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		if ptr, ok := dest[0].(*int64); ok {
			*ptr = m.val
		}
	}
	return nil
}

// mockQuerier simulates fiscal_sequences keyed by (cnpj, model, series).
type mockQuerier struct {
	mu    sync.Mutex
	rows  map[string]int64
	calls int
	err   error
}

func newMockQuerier() *mockQuerier {
	return &mockQuerier{rows: make(map[string]int64)}
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return &mockRow{err: m.err}
	}

	key := args[0].(string) + ":" + args[1].(string)
	value := args[3].(int64)
	cur, exists := m.rows[key]

	switch {
	case strings.Contains(sql, "SELECT COALESCE"):
		if exists {
			return &mockRow{val: cur}
		}
		return &mockRow{val: value}
	case strings.Contains(sql, "next_number + 1"):
		if exists {
			m.rows[key] = cur + 1
		} else {
			m.rows[key] = value + 1
		}
		return &mockRow{val: m.rows[key]}
	default:
		m.rows[key] = value
		return &mockRow{val: value}
	}
}

var testKey = corenumerator.Key{CNPJ: "12345678000199", Model: corenumerator.ModelNFCe, Series: 1}

func TestReserve_Sequential(t *testing.T) {
	q := newMockQuerier()
	svc := New(q)
	ctx := context.Background()

	first, err := svc.Reserve(ctx, testKey)
	require.NoError(t, err)
	second, err := svc.Reserve(ctx, testKey)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	next, err := svc.Peek(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)
}

func TestReserve_UsesSeedForUnseenSequence(t *testing.T) {
	q := newMockQuerier()
	svc := New(q).WithSeed(func(ctx context.Context, key corenumerator.Key) int64 { return 150 })
	ctx := context.Background()

	peek, err := svc.Peek(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(150), peek)

	n, err := svc.Reserve(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(150), n)
}

func TestSetNext(t *testing.T) {
	q := newMockQuerier()
	svc := New(q)
	ctx := context.Background()

	require.NoError(t, svc.SetNext(ctx, testKey, 42))
	n, err := svc.Reserve(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	assert.Error(t, svc.SetNext(ctx, testKey, 0))
}

func TestReserve_Concurrent(t *testing.T) {
	q := newMockQuerier()
	svc := New(q)
	ctx := context.Background()

	const workers = 20
	results := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := svc.Reserve(ctx, testKey)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for n := range results {
		if seen[n] {
			t.Errorf("number %d reserved twice", n)
		}
		seen[n] = true
	}
	assert.Len(t, seen, workers)
	for i := int64(1); i <= workers; i++ {
		assert.True(t, seen[i], "missing %d", i)
	}
}

func TestReserve_Error(t *testing.T) {
	q := newMockQuerier()
	q.err = errors.New("connection refused")
	svc := New(q)

	_, err := svc.Reserve(context.Background(), testKey)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserve 12345678000199:nfce:1")
}
