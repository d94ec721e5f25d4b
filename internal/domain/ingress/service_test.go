package ingress

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
	"hotelfiscal/internal/domain/routing"
	"hotelfiscal/internal/infrastructure/storage/jsonfile"
	"hotelfiscal/pkg/logger"
)

const (
	restaurantCNPJ = "11111111000111"
	hotelCNPJ      = "22222222000122"
)

type stubRegistry map[string]integration.Settings

func (r stubRegistry) Get(_ context.Context, cnpj string) (*integration.Settings, error) {
	s, ok := r[cnpj]
	if !ok {
		return nil, apperror.NewNotFound("integration", cnpj)
	}
	return &s, nil
}

func (r stubRegistry) List(context.Context) ([]integration.Settings, error) { return nil, nil }
func (r stubRegistry) Save(context.Context, integration.Settings) error     { return nil }

type recorder struct {
	mu         sync.Mutex
	replicated []string
	events     []fiscal.StatusEvent
	wakes      int
}

func (r *recorder) Replicate(_ context.Context, e *fiscal.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replicated = append(r.replicated, e.ID)
}

func (r *recorder) Notify(_ context.Context, ev fiscal.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Wake() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakes++
}

func newService(t *testing.T) (*Service, *jsonfile.FiscalStore, *recorder) {
	t.Helper()
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, fiscal.Location)
	store, err := jsonfile.OpenFiscalStore(filepath.Join(t.TempDir(), "pool.json"), logger.Nop(),
		jsonfile.WithStoreClock(func() time.Time { return now }))
	require.NoError(t, err)

	rec := &recorder{}
	svc := NewService(Config{
		Repo: store,
		Registry: stubRegistry{restaurantCNPJ: {
			CNPJEmitente: restaurantCNPJ, Environment: integration.EnvHomologation,
			SefazEnvironment: integration.EnvHomologation, Series: 1, CRT: 1, IEEmitente: "123",
		}},
		Router: routing.NewResolver(nil, routing.Config{
			DefaultNFCeCNPJ: restaurantCNPJ,
			DefaultNFSeCNPJ: hotelCNPJ,
			Rules:           routing.DefaultRules,
		}),
		Replicator: rec,
		Notifier:   rec,
		Waker:      rec,
		Logger:     logger.Nop(),
		Now:        func() time.Time { return now },
	})
	return svc, store, rec
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func restaurantSale(id string) Sale {
	return Sale{
		Origin:      fiscal.OriginRestaurant,
		OriginalID:  id,
		TotalAmount: d("50.00"),
		Items: []fiscal.LineItem{
			{ID: "1", Name: "Prato do dia", Qty: d("1"), Price: d("30.00")},
			{ID: "2", Name: "Suco", Qty: d("2"), Price: d("10.00")},
		},
		PaymentMethods: []fiscal.PaymentMethod{
			{Method: "pix", Amount: d("40.00"), IsFiscal: true},
			{Method: "cash", Amount: d("10.00")},
		},
		User:     "maria",
		ClosedAt: time.Date(2026, 2, 10, 11, 30, 0, 0, fiscal.Location),
	}
}

func TestAppend_CreatesPendingEntry(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := t.Context()

	res, err := svc.Append(ctx, restaurantSale("order-1"))
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Len(t, res.IDs, 1)

	e, err := store.Get(ctx, res.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, fiscal.StatusPending, e.Status)
	assert.Equal(t, fiscal.DocNFCe, e.FiscalType)
	assert.Equal(t, restaurantCNPJ, e.CNPJEmitente)
	assert.Equal(t, "40", e.FiscalAmount.String())
	assert.Equal(t, fiscal.SchemaVersion, e.SchemaVersion)
	assert.Equal(t, "maria", e.ClosedBy)
	require.NotNil(t, e.FiscalSnapshot)
	assert.Equal(t, 1, e.FiscalSnapshot.Series)
	require.Len(t, e.History, 1)
	assert.Equal(t, fiscal.ActionCreated, e.History[0].Action)

	// item identity is preserved verbatim
	assert.Equal(t, "Prato do dia", e.Items[0].Name)
	assert.True(t, d("2").Equal(e.Items[1].Qty))
	assert.True(t, d("10.00").Equal(e.Items[1].Price))

	assert.Equal(t, res.IDs, rec.replicated)
	assert.Len(t, rec.events, 1)
	assert.Equal(t, 1, rec.wakes)
}

func TestAppend_IsIdempotentPerOriginalID(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := t.Context()

	first, err := svc.Append(ctx, restaurantSale("order-7"))
	require.NoError(t, err)
	second, err := svc.Append(ctx, restaurantSale("order-7"))
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.IDs, second.IDs)

	all, err := store.Query(ctx, fiscal.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, rec.replicated, 1)
	assert.Equal(t, 1, rec.wakes)
}

func TestAppend_RoutesDailyRatesToNFSe(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := t.Context()

	sale := Sale{
		Origin:      fiscal.OriginDailyRates,
		OriginalID:  "stay-3",
		TotalAmount: d("300.00"),
		Items:       []fiscal.LineItem{{ID: "d", Name: "Diária", Qty: d("2"), Price: d("150.00"), IsService: true}},
		PaymentMethods: []fiscal.PaymentMethod{
			{Method: "credit", Amount: d("300.00"), IsFiscal: true},
		},
	}
	res, err := svc.Append(ctx, sale)
	require.NoError(t, err)

	e, err := store.Get(ctx, res.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, fiscal.DocNFSe, e.FiscalType)
	assert.Equal(t, hotelCNPJ, e.CNPJEmitente)
	assert.Equal(t, "Sistema", e.ClosedBy)
	assert.Nil(t, e.FiscalSnapshot, "no integration configured for the hotel emitter")
}

func TestAppend_SplitsTendersAcrossEmitters(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := t.Context()

	sale := Sale{
		Origin:      fiscal.OriginReception,
		OriginalID:  "bill-9",
		TotalAmount: d("100.00"),
		Items: []fiscal.LineItem{
			{ID: "a", Name: "Agua", Qty: d("2"), Price: d("5.00")},
			{ID: "b", Name: "Vinho", Qty: d("1"), Price: d("90.00")},
		},
		PaymentMethods: []fiscal.PaymentMethod{
			{Method: "pix", Amount: d("60.00"), IsFiscal: true, FiscalCNPJ: restaurantCNPJ},
			{Method: "credit", Amount: d("40.00"), IsFiscal: true, FiscalCNPJ: hotelCNPJ},
		},
	}
	res, err := svc.Append(ctx, sale)
	require.NoError(t, err)
	require.Len(t, res.IDs, 2)

	sum := decimal.Zero
	byCNPJ := map[string]*fiscal.Entry{}
	for _, id := range res.IDs {
		e, err := store.Get(ctx, id)
		require.NoError(t, err)
		byCNPJ[e.CNPJEmitente] = e
		sum = sum.Add(e.FiscalAmount)
		assert.Equal(t, "bill-9", e.OriginalID)
		assert.True(t, e.FiscalAmount.Equal(e.TotalAmount))

		items := decimal.Zero
		for _, it := range e.Items {
			items = items.Add(it.Total())
		}
		assert.True(t, items.Sub(e.FiscalAmount).Abs().LessThanOrEqual(d("0.01")),
			"items %s vs fiscal %s", items, e.FiscalAmount)
	}
	assert.True(t, d("100.00").Equal(sum))
	assert.True(t, d("60.00").Equal(byCNPJ[restaurantCNPJ].FiscalAmount))
	assert.True(t, d("40.00").Equal(byCNPJ[hotelCNPJ].FiscalAmount))
	assert.Len(t, rec.replicated, 2)

	again, err := svc.Append(ctx, sale)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.ElementsMatch(t, res.IDs, again.IDs)
}

func TestAppend_RejectsInvalidSales(t *testing.T) {
	svc, _, rec := newService(t)
	ctx := t.Context()

	cases := map[string]func(*Sale){
		"origin":      func(s *Sale) { s.Origin = "bar" },
		"original id": func(s *Sale) { s.OriginalID = "" },
		"no items":    func(s *Sale) { s.Items = nil },
		"negative":    func(s *Sale) { s.TotalAmount = d("-1") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sale := restaurantSale("order-x")
			mutate(&sale)
			_, err := svc.Append(ctx, sale)
			assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "got %v", err)
		})
	}
	assert.Empty(t, rec.replicated)
}

func TestReceive_IsIdempotentByID(t *testing.T) {
	svc, store, rec := newService(t)
	ctx := t.Context()

	remote, peerStore, _ := newService(t)
	res, err := remote.Append(ctx, restaurantSale("order-remote"))
	require.NoError(t, err)
	entry, err := peerStore.Get(ctx, res.IDs[0])
	require.NoError(t, err)

	created, err := svc.Receive(ctx, entry)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.Receive(ctx, entry)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, fiscal.StatusPending, got.Status)
	assert.True(t, got.Replica)
	require.Len(t, got.History, 2)
	assert.Equal(t, fiscal.ActionReceived, got.History[1].Action)
	assert.Empty(t, rec.replicated, "received entries are not replicated back")
	assert.Zero(t, rec.wakes, "replicas are emitted by the peer")
}

func TestReceive_EmitReceived(t *testing.T) {
	svc, store, rec := newService(t)
	svc.cfg.EmitReceived = true
	ctx := t.Context()

	remote, peerStore, _ := newService(t)
	res, err := remote.Append(ctx, restaurantSale("order-remote"))
	require.NoError(t, err)
	entry, err := peerStore.Get(ctx, res.IDs[0])
	require.NoError(t, err)

	created, err := svc.Receive(ctx, entry)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := store.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, got.Replica)
	assert.Equal(t, 1, rec.wakes)
}

func TestReceive_RejectsInconsistentStatus(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := t.Context()

	remote, peerStore, _ := newService(t)
	res, err := remote.Append(ctx, restaurantSale("order-remote"))
	require.NoError(t, err)
	entry, err := peerStore.Get(ctx, res.IDs[0])
	require.NoError(t, err)

	unknown := entry.Clone()
	unknown.Status = "printed"
	_, err = svc.Receive(ctx, unknown)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	emitted := entry.Clone()
	emitted.Status = fiscal.StatusEmitted
	_, err = svc.Receive(ctx, emitted)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = store.Get(ctx, entry.ID)
	assert.True(t, apperror.IsNotFound(err))

	emitted.FiscalDocUUID = "nfc_9"
	emitted.FiscalNumber = 9
	created, err := svc.Receive(ctx, emitted)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestReceive_RequiresID(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Receive(t.Context(), &fiscal.Entry{})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}
