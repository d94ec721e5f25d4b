// Package fiscal provides the FiscalEntry aggregate: one record per closed
// sale, carried from ingestion through emission to artifact retrieval.
package fiscal

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/core/types"
)

// SchemaVersion is written on every entry created by ingress.
// Entries below the configured legacy cutoff are built from their snapshot.
const SchemaVersion = 2

// Location is the fiscal time zone (UTC-3). Month filters and artifact
// folders are computed in it.
var Location = time.FixedZone("BRT", -3*60*60)

// Origin identifies the collaborator that closed the sale.
type Origin string

const (
	OriginRestaurant      Origin = "restaurant"
	OriginReception       Origin = "reception"
	OriginReceptionCharge Origin = "reception_charge"
	OriginDailyRates      Origin = "daily_rates"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginRestaurant, OriginReception, OriginReceptionCharge, OriginDailyRates:
		return true
	}
	return false
}

// DocType is the fiscal document family.
type DocType string

const (
	DocNFCe DocType = "nfce"
	DocNFSe DocType = "nfse"
)

// LineItem is one sold product or service. Fiscal fields are optional and
// forwarded to the provider; empty ones are filled from the catalog.
type LineItem struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Qty   decimal.Decimal `json:"qty"`
	Price decimal.Decimal `json:"price"`

	NCM       string `json:"ncm,omitempty"`
	CEST      string `json:"cest,omitempty"`
	CFOP      string `json:"cfop,omitempty"`
	Origin    *int   `json:"origin,omitempty"`
	CSOSN     string `json:"csosn,omitempty"`
	PISCST    string `json:"pis_cst,omitempty"`
	COFINSCST string `json:"cofins_cst,omitempty"`

	// IsService marks items invoiced on NFS-e (lodging, daily rates).
	IsService bool `json:"is_service,omitempty"`
	// ServiceCode is the national service classification used on NFS-e.
	ServiceCode string `json:"service_code,omitempty"`

	// OriginalPrice is set when proration rescaled Price.
	OriginalPrice *decimal.Decimal `json:"original_price,omitempty"`
}

// Total returns qty * price.
func (i LineItem) Total() decimal.Decimal {
	return i.Qty.Mul(i.Price)
}

// Unclassified reports whether the item carries no fiscal classification at all.
func (i LineItem) Unclassified() bool {
	return i.NCM == "" && i.CEST == "" && i.CFOP == "" && i.Origin == nil && i.CSOSN == ""
}

// PaymentMethod is one tender of the sale.
type PaymentMethod struct {
	Method   string          `json:"method"`
	Amount   decimal.Decimal `json:"amount"`
	IsFiscal bool            `json:"is_fiscal"`
	// FiscalCNPJ selects the emitter for this tender; empty means the routed default.
	FiscalCNPJ string `json:"fiscal_cnpj,omitempty"`
}

// Customer is the optional invoice recipient.
type Customer struct {
	CPFCNPJ    string `json:"cpf_cnpj,omitempty"`
	Name       string `json:"name,omitempty"`
	RoomNumber string `json:"room_number,omitempty"`
	GuestName  string `json:"guest_name,omitempty"`
}

// Document returns the customer document with non-digits stripped.
func (c *Customer) Document() string {
	if c == nil {
		return ""
	}
	return Digits(c.CPFCNPJ)
}

// HistoryRecord is one append-only audit line of an entry.
type HistoryRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	From      Status    `json:"from,omitempty"`
	To        Status    `json:"to,omitempty"`
	User      string    `json:"user"`
	Details   string    `json:"details,omitempty"`
}

// Snapshot is the integration configuration captured at ingestion.
// Only legacy entries are built from it.
type Snapshot struct {
	Environment      string `json:"environment"`
	SefazEnvironment string `json:"sefaz_environment"`
	Series           int    `json:"series"`
	CRT              int    `json:"crt"`
	IEEmitente       string `json:"ie_emitente"`
}

// Entry is a fiscal pool record.
type Entry struct {
	ID            string    `json:"id"`
	SchemaVersion int       `json:"schema_version"`
	Origin        Origin    `json:"origin"`
	FiscalType    DocType   `json:"fiscal_type"`
	CNPJEmitente  string    `json:"cnpj_emitente"`
	OriginalID    string    `json:"original_id"`
	ClosedAt      time.Time `json:"closed_at"`
	ClosedBy      string    `json:"closed_by"`
	Notes         string    `json:"notes,omitempty"`

	// Replica marks a copy received from a peer instance. The peer emits it.
	Replica bool `json:"replica,omitempty"`

	TotalAmount    decimal.Decimal `json:"total_amount"`
	FiscalAmount   decimal.Decimal `json:"fiscal_amount"`
	Items          []LineItem      `json:"items"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
	Customer       *Customer       `json:"customer,omitempty"`

	Status          Status `json:"status"`
	FiscalDocUUID   string `json:"fiscal_doc_uuid,omitempty"`
	FiscalSerie     int    `json:"fiscal_serie,omitempty"`
	FiscalNumber    int64  `json:"fiscal_number,omitempty"`
	FiscalAccessKey string `json:"fiscal_access_key,omitempty"`

	XMLReady bool   `json:"xml_ready"`
	XMLPath  string `json:"xml_path,omitempty"`
	PDFReady bool   `json:"pdf_ready"`
	PDFPath  string `json:"pdf_path,omitempty"`

	LastError string          `json:"last_error,omitempty"`
	History   []HistoryRecord `json:"history"`

	FiscalSnapshot *Snapshot `json:"fiscal_snapshot,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsLegacy reports whether the entry predates live configuration lookup.
func (e *Entry) IsLegacy(cutoff int) bool {
	return e.SchemaVersion < cutoff && e.FiscalSnapshot != nil
}

// PrimaryFiscalMethod returns the method name of the largest fiscal tender.
func (e *Entry) PrimaryFiscalMethod() string {
	var best *PaymentMethod
	for i := range e.PaymentMethods {
		pm := &e.PaymentMethods[i]
		if !pm.IsFiscal {
			continue
		}
		if best == nil || pm.Amount.GreaterThan(best.Amount) {
			best = pm
		}
	}
	if best == nil {
		return ""
	}
	return best.Method
}

// ComputeFiscalAmount returns the sum of fiscal tenders capped at total_amount.
func ComputeFiscalAmount(total decimal.Decimal, payments []PaymentMethod) decimal.Decimal {
	sum := decimal.Zero
	for _, pm := range payments {
		if pm.IsFiscal {
			sum = sum.Add(pm.Amount)
		}
	}
	if sum.GreaterThan(total) {
		return total
	}
	return sum
}

// Validate checks the ingestion invariants of a new entry.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return apperror.NewValidation("id is required")
	}
	if !e.Origin.Valid() {
		return apperror.NewValidation("unknown origin").WithDetail("origin", e.Origin)
	}
	if e.OriginalID == "" {
		return apperror.NewValidation("original_id is required")
	}
	if len(Digits(e.CNPJEmitente)) != 14 {
		return apperror.NewValidation("cnpj_emitente must have 14 digits").WithDetail("cnpj_emitente", e.CNPJEmitente)
	}
	if e.TotalAmount.IsNegative() {
		return apperror.NewValidation("total_amount must not be negative")
	}
	paid := decimal.Zero
	for _, pm := range e.PaymentMethods {
		if pm.Amount.IsNegative() {
			return apperror.NewValidation("payment amount must not be negative").WithDetail("method", pm.Method)
		}
		paid = paid.Add(pm.Amount)
	}
	if len(e.PaymentMethods) > 0 && !types.WithinCent(paid, e.TotalAmount) {
		return apperror.NewValidation("payment methods do not add up to total_amount").
			WithDetail("paid", paid.StringFixed(2)).
			WithDetail("total_amount", e.TotalAmount.StringFixed(2))
	}
	if e.FiscalAmount.GreaterThan(e.TotalAmount) {
		return apperror.NewValidation("fiscal_amount exceeds total_amount")
	}
	return nil
}

// ValidateReplica checks an entry received from a peer. Besides the
// ingestion invariants it needs a known status, and an emitted entry must
// carry its authorization.
func (e *Entry) ValidateReplica() error {
	if err := e.Validate(); err != nil {
		return err
	}
	if !e.Status.Valid() {
		return apperror.NewValidation("unknown status").WithDetail("status", e.Status)
	}
	if e.Status == StatusEmitted && (e.FiscalDocUUID == "" || e.FiscalNumber <= 0) {
		return apperror.NewValidation("emitted entry without fiscal_doc_uuid or fiscal_number").WithDetail("id", e.ID)
	}
	return nil
}

// Clone returns a deep copy, so callers can mutate without touching store state.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Items = append([]LineItem(nil), e.Items...)
	c.PaymentMethods = append([]PaymentMethod(nil), e.PaymentMethods...)
	c.History = append([]HistoryRecord(nil), e.History...)
	if e.Customer != nil {
		cust := *e.Customer
		c.Customer = &cust
	}
	if e.FiscalSnapshot != nil {
		snap := *e.FiscalSnapshot
		c.FiscalSnapshot = &snap
	}
	return &c
}

// Digits strips every non-digit rune.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
