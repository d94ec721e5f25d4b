package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelfiscal/internal/domain/fiscal"
)

const (
	restaurantCNPJ = "11111111000111"
	hotelCNPJ      = "22222222000122"
)

func testRouter(t *testing.T, rules ...Rule) *Router {
	t.Helper()
	r, err := New(Config{
		DefaultNFCeCNPJ: restaurantCNPJ,
		DefaultNFSeCNPJ: hotelCNPJ,
		OriginCNPJ:      map[string]string{"reception_charge": "33.333.333/0001-33"},
		Rules:           rules,
	})
	require.NoError(t, err)
	return r
}

func TestRoute_Defaults(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		name     string
		origin   fiscal.Origin
		items    []fiscal.LineItem
		wantType fiscal.DocType
		wantCNPJ string
	}{
		{"restaurant goods", fiscal.OriginRestaurant, []fiscal.LineItem{{Name: "Coca"}}, fiscal.DocNFCe, restaurantCNPJ},
		{"daily rates", fiscal.OriginDailyRates, []fiscal.LineItem{{Name: "Quarto 12"}}, fiscal.DocNFSe, hotelCNPJ},
		{"lodging by name", fiscal.OriginReception, []fiscal.LineItem{{Name: "DIÁRIA Suite"}}, fiscal.DocNFSe, hotelCNPJ},
		{"hospedagem", fiscal.OriginReceptionCharge, []fiscal.LineItem{{Name: "Hospedagem extra"}}, fiscal.DocNFSe, hotelCNPJ},
		{"reception service flag", fiscal.OriginReception, []fiscal.LineItem{{Name: "Lavanderia", IsService: true}}, fiscal.DocNFSe, hotelCNPJ},
		{"reception charge goods", fiscal.OriginReceptionCharge, []fiscal.LineItem{{Name: "Frigobar"}}, fiscal.DocNFCe, "33333333000133"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Route(tt.origin, tt.items, 10)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, d.FiscalType)
			assert.Equal(t, tt.wantCNPJ, d.CNPJ)
		})
	}
}

func TestRoute_CustomRuleWithFixedEmitter(t *testing.T) {
	r := testRouter(t, Rule{
		Name:       "big-events",
		When:       `origin == "restaurant" && total > 1000.0`,
		FiscalType: fiscal.DocNFCe,
		CNPJ:       "44444444000144",
	})

	d, err := r.Route(fiscal.OriginRestaurant, nil, 1500)
	require.NoError(t, err)
	assert.Equal(t, "44444444000144", d.CNPJ)
	assert.Equal(t, "big-events", d.Rule)

	d, err = r.Route(fiscal.OriginRestaurant, nil, 50)
	require.NoError(t, err)
	assert.Equal(t, restaurantCNPJ, d.CNPJ)
	assert.Empty(t, d.Rule)
}

func TestNew_RejectsBadRules(t *testing.T) {
	_, err := New(Config{Rules: []Rule{{Name: "syntax", When: `origin ==`, FiscalType: fiscal.DocNFCe}}})
	assert.Error(t, err)

	_, err = New(Config{Rules: []Rule{{Name: "not-bool", When: `origin`, FiscalType: fiscal.DocNFCe}}})
	assert.Error(t, err)

	_, err = New(Config{Rules: []Rule{{Name: "bad-type", When: `true`, FiscalType: "nfe"}}})
	assert.Error(t, err)
}

type staticSource struct {
	cfg   Config
	calls int
}

func (s *staticSource) Routing(context.Context) (Config, error) {
	s.calls++
	return s.cfg, nil
}

func TestResolver_FollowsSourceChanges(t *testing.T) {
	src := &staticSource{cfg: Config{DefaultNFCeCNPJ: "11111111000111"}}
	r := NewResolver(src, Config{DefaultNFSeCNPJ: "22222222000122"})
	ctx := context.Background()

	d, err := r.Route(ctx, fiscal.OriginRestaurant, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, "11111111000111", d.CNPJ)

	d, err = r.Route(ctx, fiscal.OriginDailyRates, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, fiscal.DocNFSe, d.FiscalType)
	assert.Equal(t, "22222222000122", d.CNPJ)

	src.cfg.DefaultNFCeCNPJ = "33333333000133"
	d, err = r.Route(ctx, fiscal.OriginRestaurant, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, "33333333000133", d.CNPJ)
}

func TestResolver_RejectsBadRules(t *testing.T) {
	src := &staticSource{cfg: Config{Rules: []Rule{{Name: "bad", When: `origin +`, FiscalType: fiscal.DocNFCe}}}}
	_, err := NewResolver(src, Config{}).Route(context.Background(), fiscal.OriginRestaurant, nil, 1)
	assert.Error(t, err)
}
