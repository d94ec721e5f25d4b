package jsonfile

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/core/numerator"
	"hotelfiscal/internal/domain/integration"
	"hotelfiscal/internal/domain/routing"
	"hotelfiscal/pkg/logger"
)

func openRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fiscal_settings.json")
	r, err := OpenRegistry(path, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, r.Save(t.Context(), integration.Settings{
		ClientID:     "client",
		ClientSecret: "secret",
		CNPJEmitente: "12.345.678/0001-99",
		IEEmitente:   "0123456",
		CRT:          1,
		NextNumber:   41,
	}))
	return r, path
}

func TestRegistry_SaveNormalizesAndGets(t *testing.T) {
	r, _ := openRegistry(t)

	s, err := r.Get(t.Context(), testCNPJ)
	require.NoError(t, err)
	assert.Equal(t, testCNPJ, s.CNPJEmitente)
	assert.Equal(t, integration.EnvHomologation, s.Environment)
	assert.Equal(t, 1, s.Series)

	_, err = r.Get(t.Context(), "99999999000199")
	assert.True(t, apperror.IsNotFound(err))
}

func TestRegistry_ReserveAdvancesAndPersists(t *testing.T) {
	r, path := openRegistry(t)
	ctx := t.Context()
	key := numerator.Key{CNPJ: testCNPJ, Model: numerator.ModelNFCe, Series: 1}

	peek, err := r.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(41), peek)

	n, err := r.Reserve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(41), n)

	reopened, err := OpenRegistry(path, logger.Nop())
	require.NoError(t, err)
	next, err := reopened.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(42), next)
}

func TestRegistry_NFSeSequenceIsIndependent(t *testing.T) {
	r, _ := openRegistry(t)
	ctx := t.Context()

	n, err := r.Reserve(ctx, numerator.Key{CNPJ: testCNPJ, Model: numerator.ModelNFSe, Series: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	s, err := r.Get(ctx, testCNPJ)
	require.NoError(t, err)
	assert.Equal(t, int64(41), s.NextNumber)
	assert.Equal(t, int64(2), s.NFSeNextNumber)
}

func TestRegistry_ReserveRejectsUnknownSeries(t *testing.T) {
	r, _ := openRegistry(t)

	_, err := r.Reserve(t.Context(), numerator.Key{CNPJ: testCNPJ, Model: numerator.ModelNFCe, Series: 9})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestRegistry_ConcurrentReservationsAreUnique(t *testing.T) {
	r, _ := openRegistry(t)
	ctx := t.Context()
	key := numerator.Key{CNPJ: testCNPJ, Model: numerator.ModelNFCe, Series: 1}

	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := r.Reserve(ctx, key)
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 10)
	for n := int64(41); n < 51; n++ {
		assert.True(t, seen[n], "missing %d", n)
	}
}

func TestRegistry_SetNext(t *testing.T) {
	r, _ := openRegistry(t)
	ctx := t.Context()
	key := numerator.Key{CNPJ: testCNPJ, Model: numerator.ModelNFCe, Series: 1}

	require.NoError(t, r.SetNext(ctx, key, 100))
	n, err := r.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)

	assert.Error(t, r.SetNext(ctx, key, 0))
}

func TestRegistry_HotReload(t *testing.T) {
	r, path := openRegistry(t)
	ctx := t.Context()

	other, err := OpenRegistry(path, logger.Nop())
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, other.SaveRouting(ctx, routing.Config{DefaultNFCeCNPJ: testCNPJ}))

	cfg, err := r.Routing(ctx)
	require.NoError(t, err)
	assert.Equal(t, testCNPJ, cfg.DefaultNFCeCNPJ)
}

func TestRegistry_RejectsShortCNPJ(t *testing.T) {
	r, _ := openRegistry(t)
	err := r.Save(t.Context(), integration.Settings{CNPJEmitente: "123"})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}
