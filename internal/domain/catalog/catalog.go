// Package catalog provides product fiscal data used to complete line items.
package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"hotelfiscal/internal/domain/fiscal"
)

// Fallback classification for items that carry no fiscal data at all.
const (
	FallbackNCM  = "21069090"
	FallbackCFOP = "5102"
)

// Product is the fiscal view of a menu or stock product.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NCM         string `json:"ncm,omitempty"`
	CEST        string `json:"cest,omitempty"`
	CFOP        string `json:"cfop,omitempty"`
	Origin      *int   `json:"-"`
	CSOSN       string `json:"tax_situation,omitempty"`
	PISCST      string `json:"pis_cst,omitempty"`
	COFINSCST   string `json:"cofins_cst,omitempty"`
	ServiceCode string `json:"service_code,omitempty"`
}

// UnmarshalJSON accepts ids and origin as strings or numbers, as stored by the menu editor.
func (p *Product) UnmarshalJSON(data []byte) error {
	type alias Product
	aux := struct {
		*alias
		ID     json.RawMessage `json:"id"`
		Origin json.RawMessage `json:"origin"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.ID = rawText(aux.ID)
	if o := fiscal.Digits(rawText(aux.Origin)); o != "" {
		v := int(o[0] - '0')
		p.Origin = &v
	}
	return nil
}

// MarshalJSON writes origin back as a number.
func (p Product) MarshalJSON() ([]byte, error) {
	type alias Product
	return json.Marshal(struct {
		alias
		Origin *int `json:"origin,omitempty"`
	}{alias: alias(p), Origin: p.Origin})
}

func rawText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if json.Unmarshal(raw, &str) == nil {
		return str
	}
	return s
}

// Catalog resolves products by id, then by normalized name.
type Catalog interface {
	Lookup(ctx context.Context, id, name string) (*Product, bool)
}

// Index is an in-memory Catalog.
type Index struct {
	byID   map[string]*Product
	byName map[string]*Product
}

// NewIndex builds an Index. Later products win on duplicate keys.
func NewIndex(products []Product) *Index {
	idx := &Index{
		byID:   make(map[string]*Product, len(products)),
		byName: make(map[string]*Product, len(products)),
	}
	for i := range products {
		p := &products[i]
		if p.ID != "" {
			idx.byID[p.ID] = p
		}
		if n := NormalizeName(p.Name); n != "" {
			idx.byName[n] = p
		}
	}
	return idx
}

// Lookup implements Catalog.
func (idx *Index) Lookup(_ context.Context, id, name string) (*Product, bool) {
	if p, ok := idx.byID[id]; ok && id != "" {
		return p, true
	}
	if p, ok := idx.byName[NormalizeName(name)]; ok && name != "" {
		return p, true
	}
	return nil, false
}

// Len returns the number of products indexed by id.
func (idx *Index) Len() int { return len(idx.byID) }

// NormalizeName lowercases, strips accents and collapses whitespace:
// "  Água  Tônica " -> "agua tonica".
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Enrich fills the empty fiscal fields of item from the catalog, sanitizes
// codes, and applies the fallback classification when the item is still
// entirely unclassified. Identity fields (id, name, qty, price) are never touched.
func Enrich(ctx context.Context, c Catalog, item fiscal.LineItem) fiscal.LineItem {
	if c != nil {
		if p, ok := c.Lookup(ctx, item.ID, item.Name); ok {
			item.NCM = firstNonEmpty(item.NCM, p.NCM)
			item.CEST = firstNonEmpty(item.CEST, p.CEST)
			item.CFOP = firstNonEmpty(item.CFOP, p.CFOP)
			item.CSOSN = firstNonEmpty(item.CSOSN, p.CSOSN)
			item.PISCST = firstNonEmpty(item.PISCST, p.PISCST)
			item.COFINSCST = firstNonEmpty(item.COFINSCST, p.COFINSCST)
			item.ServiceCode = firstNonEmpty(item.ServiceCode, p.ServiceCode)
			if item.Origin == nil && p.Origin != nil {
				o := *p.Origin
				item.Origin = &o
			}
		}
	}

	item = Sanitize(item)
	if item.Unclassified() && !item.IsService {
		item.NCM = FallbackNCM
		item.CFOP = FallbackCFOP
	}
	return item
}

// EnrichAll applies Enrich to every item, returning a new slice.
func EnrichAll(ctx context.Context, c Catalog, items []fiscal.LineItem) []fiscal.LineItem {
	out := make([]fiscal.LineItem, len(items))
	for i, it := range items {
		out[i] = Enrich(ctx, c, it)
	}
	return out
}

// Sanitize strips non-digits from classification codes.
func Sanitize(item fiscal.LineItem) fiscal.LineItem {
	item.NCM = fiscal.Digits(item.NCM)
	item.CEST = fiscal.Digits(item.CEST)
	item.CFOP = fiscal.Digits(item.CFOP)
	item.CSOSN = fiscal.Digits(item.CSOSN)
	item.PISCST = fiscal.Digits(item.PISCST)
	item.COFINSCST = fiscal.Digits(item.COFINSCST)
	item.ServiceCode = fiscal.Digits(item.ServiceCode)
	return item
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
