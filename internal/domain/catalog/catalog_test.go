package catalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelfiscal/internal/core/types"
	"hotelfiscal/internal/domain/fiscal"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	var products []Product
	raw := `[
		{"id": 1, "name": "Coca-Cola Lata", "ncm": "2202.10.00", "cfop": "5405", "origin": "0", "tax_situation": "500", "cest": "03.007.00"},
		{"id": "2", "name": "Água Tônica", "ncm": "22021000", "cfop": "5102", "origin": 2},
		{"id": "3", "name": "Coxinha"}
	]`
	require.NoError(t, json.Unmarshal([]byte(raw), &products))
	return NewIndex(products)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  Água  Tônica ", "agua tonica"},
		{"DIÁRIA Hospedagem", "diaria hospedagem"},
		{"Pão de Queijo", "pao de queijo"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIndex_Lookup(t *testing.T) {
	idx := testIndex(t)
	ctx := context.Background()

	p, ok := idx.Lookup(ctx, "1", "whatever")
	require.True(t, ok)
	assert.Equal(t, "Coca-Cola Lata", p.Name)
	require.NotNil(t, p.Origin)
	assert.Equal(t, 0, *p.Origin)

	p, ok = idx.Lookup(ctx, "unknown", "agua tonica")
	require.True(t, ok)
	assert.Equal(t, "2", p.ID)
	assert.Equal(t, 2, *p.Origin)

	_, ok = idx.Lookup(ctx, "", "")
	assert.False(t, ok)
}

func TestEnrich_FillsMissingFieldsOnly(t *testing.T) {
	idx := testIndex(t)
	item := fiscal.LineItem{
		ID: "1", Name: "Coca", Qty: types.MustMoney("2"), Price: types.MustMoney("5"),
		CFOP: "5102",
	}
	got := Enrich(context.Background(), idx, item)

	assert.Equal(t, "22021000", got.NCM, "sanitized from catalog")
	assert.Equal(t, "0300700", got.CEST)
	assert.Equal(t, "5102", got.CFOP, "item value wins over catalog")
	assert.Equal(t, "500", got.CSOSN)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, item.Name, got.Name)
	assert.True(t, item.Qty.Equal(got.Qty))
	assert.True(t, item.Price.Equal(got.Price))
}

func TestEnrich_FallbackForUnclassified(t *testing.T) {
	idx := testIndex(t)

	got := Enrich(context.Background(), idx, fiscal.LineItem{ID: "3", Name: "Coxinha"})
	assert.Equal(t, FallbackNCM, got.NCM)
	assert.Equal(t, FallbackCFOP, got.CFOP)

	partial := Enrich(context.Background(), nil, fiscal.LineItem{ID: "9", Name: "Suco", CFOP: "5102"})
	assert.Empty(t, partial.NCM, "partially classified items keep their gaps")

	service := Enrich(context.Background(), nil, fiscal.LineItem{ID: "d1", Name: "Diária", IsService: true})
	assert.Empty(t, service.NCM)
}

func TestProduct_MarshalRoundTripKeepsOrigin(t *testing.T) {
	origin := 1
	b, err := json.Marshal(Product{ID: "7", Name: "Vinho", Origin: &origin})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"origin":1`)
}
