package dto

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/emission"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/ingress"
)

// AppendRequest is a closed sale posted by a collaborator.
type AppendRequest struct {
	Origin         string                 `json:"origin" binding:"required"`
	OriginalID     string                 `json:"original_id" binding:"required"`
	TotalAmount    decimal.Decimal        `json:"total_amount"`
	Items          []fiscal.LineItem      `json:"items" binding:"required"`
	PaymentMethods []fiscal.PaymentMethod `json:"payment_methods"`
	Customer       *fiscal.Customer       `json:"customer"`
	User           string                 `json:"user"`
	Notes          string                 `json:"notes"`
	ClosedAt       *time.Time             `json:"closed_at"`
}

// ToSale converts the request into an ingress sale.
func (r AppendRequest) ToSale() ingress.Sale {
	s := ingress.Sale{
		Origin:         fiscal.Origin(r.Origin),
		OriginalID:     strings.TrimSpace(r.OriginalID),
		TotalAmount:    r.TotalAmount,
		Items:          r.Items,
		PaymentMethods: r.PaymentMethods,
		Customer:       r.Customer,
		User:           r.User,
		Notes:          r.Notes,
	}
	if r.ClosedAt != nil {
		s.ClosedAt = *r.ClosedAt
	}
	return s
}

// ListEntriesQuery filters GET /fiscal/entries.
type ListEntriesQuery struct {
	Status   string `form:"status"`
	Origin   string `form:"origin"`
	CNPJ     string `form:"cnpj"`
	Month    string `form:"month"`
	DateFrom string `form:"date_from"`
	DateTo   string `form:"date_to"`
	Limit    int    `form:"limit" binding:"min=0,max=1000"`
}

// ToFilter validates the query. Dates are YYYY-MM-DD in the fiscal zone;
// date_to is inclusive.
func (q ListEntriesQuery) ToFilter() (fiscal.Filter, error) {
	f := fiscal.Filter{
		Origin: fiscal.Origin(q.Origin),
		CNPJ:   fiscal.Digits(q.CNPJ),
		Limit:  q.Limit,
	}
	if q.Origin != "" && !f.Origin.Valid() {
		return f, apperror.NewValidation("unknown origin").WithDetail("origin", q.Origin)
	}
	for _, s := range strings.Split(q.Status, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		st := fiscal.Status(s)
		if !st.Valid() {
			return f, apperror.NewValidation("unknown status").WithDetail("status", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	if q.Month != "" {
		return f.WithMonth(q.Month)
	}
	if q.DateFrom != "" {
		from, err := time.ParseInLocation(time.DateOnly, q.DateFrom, fiscal.Location)
		if err != nil {
			return f, apperror.NewValidation("date_from must be YYYY-MM-DD")
		}
		f.From = from
	}
	if q.DateTo != "" {
		to, err := time.ParseInLocation(time.DateOnly, q.DateTo, fiscal.Location)
		if err != nil {
			return f, apperror.NewValidation("date_to must be YYYY-MM-DD")
		}
		f.To = to.AddDate(0, 0, 1)
	}
	return f, nil
}

// EntrySummary is one row of the entry list.
type EntrySummary struct {
	ID           string          `json:"id"`
	Origin       fiscal.Origin   `json:"origin"`
	FiscalType   fiscal.DocType  `json:"fiscal_type"`
	CNPJEmitente string          `json:"cnpj_emitente"`
	OriginalID   string          `json:"original_id"`
	ClosedAt     time.Time       `json:"closed_at"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	FiscalAmount decimal.Decimal `json:"fiscal_amount"`
	Status       fiscal.Status   `json:"status"`
	FiscalNumber int64           `json:"fiscal_number,omitempty"`
	FiscalSerie  int             `json:"fiscal_serie,omitempty"`
	XMLReady     bool            `json:"xml_ready"`
	PDFReady     bool            `json:"pdf_ready"`
	LastError    string          `json:"last_error,omitempty"`
}

// FromEntry builds the list row of e.
func FromEntry(e *fiscal.Entry) EntrySummary {
	return EntrySummary{
		ID:           e.ID,
		Origin:       e.Origin,
		FiscalType:   e.FiscalType,
		CNPJEmitente: e.CNPJEmitente,
		OriginalID:   e.OriginalID,
		ClosedAt:     e.ClosedAt,
		TotalAmount:  e.TotalAmount,
		FiscalAmount: e.FiscalAmount,
		Status:       e.Status,
		FiscalNumber: e.FiscalNumber,
		FiscalSerie:  e.FiscalSerie,
		XMLReady:     e.XMLReady,
		PDFReady:     e.PDFReady,
		LastError:    e.LastError,
	}
}

// IgnoreRequest withdraws an entry from emission.
type IgnoreRequest struct {
	Reason string `json:"reason"`
}

// RetryMonthRequest selects the month to re-emit.
type RetryMonthRequest struct {
	Month string `json:"month" binding:"required"`
}

// RetryMonthResponse summarizes a month retry.
type RetryMonthResponse struct {
	Month     string              `json:"month"`
	Emitted   int                 `json:"emitted"`
	Failed    int                 `json:"failed"`
	Remaining decimal.Decimal     `json:"remaining"`
	Outcomes  []*emission.Outcome `json:"outcomes"`
}

// FromMonthResult converts the emission result.
func FromMonthResult(r *emission.MonthResult) RetryMonthResponse {
	out := r.Outcomes
	if out == nil {
		out = []*emission.Outcome{}
	}
	return RetryMonthResponse{
		Month:     r.Month,
		Emitted:   r.Emitted,
		Failed:    r.Failed,
		Remaining: r.Remaining,
		Outcomes:  out,
	}
}

// ReceiveResponse answers the peer on /fiscal/receive.
type ReceiveResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// Receive statuses.
const (
	ReceiveCreated       = "created"
	ReceiveAlreadyExists = "already exists"
)
