// Package proration splits one sale across several fiscal emitters.
//
// Each emitter group receives every item with its unit price scaled by the
// group's share of the sale total. Rounding drift is absorbed by the line with
// the highest value.
package proration

import (
	"github.com/shopspring/decimal"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/core/types"
	"hotelfiscal/internal/domain/fiscal"
)

// absorbThreshold is the drift below which no line is adjusted.
var absorbThreshold = decimal.New(1, -3)

// Group is the set of fiscal payments issued under one emitter.
type Group struct {
	CNPJ     string
	Amount   decimal.Decimal
	Payments []fiscal.PaymentMethod
}

// Slice is the prorated share of one emitter.
type Slice struct {
	CNPJ         string
	FiscalAmount decimal.Decimal
	Items        []fiscal.LineItem
	Payments     []fiscal.PaymentMethod
}

// GroupPayments groups fiscal payments by emitter in first-seen order.
// Payments without fiscal_cnpj go to defaultCNPJ.
func GroupPayments(payments []fiscal.PaymentMethod, defaultCNPJ string) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, pm := range payments {
		if !pm.IsFiscal {
			continue
		}
		cnpj := fiscal.Digits(pm.FiscalCNPJ)
		if cnpj == "" {
			cnpj = defaultCNPJ
		}
		i, ok := index[cnpj]
		if !ok {
			i = len(groups)
			index[cnpj] = i
			groups = append(groups, Group{CNPJ: cnpj, Amount: decimal.Zero})
		}
		groups[i].Amount = groups[i].Amount.Add(pm.Amount)
		groups[i].Payments = append(groups[i].Payments, pm)
	}
	return groups
}

// Prorate builds one slice per group with a positive amount.
func Prorate(total decimal.Decimal, items []fiscal.LineItem, groups []Group) ([]Slice, error) {
	if !total.IsPositive() {
		return nil, apperror.NewValidation("cannot prorate a sale with non-positive total")
	}
	slices := make([]Slice, 0, len(groups))
	for _, g := range groups {
		if !g.Amount.IsPositive() {
			continue
		}
		slices = append(slices, Slice{
			CNPJ:         g.CNPJ,
			FiscalAmount: g.Amount,
			Items:        prorateItems(total, g.Amount, items),
			Payments:     append([]fiscal.PaymentMethod(nil), g.Payments...),
		})
	}
	return slices, nil
}

func prorateItems(total, share decimal.Decimal, items []fiscal.LineItem) []fiscal.LineItem {
	out := make([]fiscal.LineItem, len(items))
	sum := decimal.Zero
	for i, it := range items {
		orig := it.Price
		if it.OriginalPrice != nil {
			orig = *it.OriginalPrice
		}
		it.OriginalPrice = &orig
		it.Price = types.Round2(it.Price.Mul(share).Div(total))
		out[i] = it
		sum = sum.Add(it.Total())
	}

	diff := share.Sub(sum)
	if diff.Abs().LessThanOrEqual(absorbThreshold) || len(out) == 0 {
		return out
	}

	target := 0
	for i := range out {
		if out[i].Total().GreaterThan(out[target].Total()) {
			target = i
		}
	}
	t := &out[target]
	if t.Qty.IsPositive() {
		t.Price = types.Round2(t.Total().Add(diff).Div(t.Qty))
	}
	return out
}

// Sum returns Σ line totals of items.
func Sum(items []fiscal.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Total())
	}
	return sum
}
