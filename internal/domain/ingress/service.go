// Package ingress turns closed-sale snapshots into fiscal pool entries.
package ingress

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"hotelfiscal/internal/core/apperror"
	appctx "hotelfiscal/internal/core/context"
	"hotelfiscal/internal/core/id"
	"hotelfiscal/internal/core/types"
	"hotelfiscal/internal/domain/catalog"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
	"hotelfiscal/internal/domain/proration"
	"hotelfiscal/internal/domain/routing"
	"hotelfiscal/pkg/logger"
)

// Router decides document type and emitter for a sale.
type Router interface {
	Route(ctx context.Context, origin fiscal.Origin, items []fiscal.LineItem, total float64) (routing.Decision, error)
}

// Replicator forwards new entries to a peer. It must not block.
type Replicator interface {
	Replicate(ctx context.Context, e *fiscal.Entry)
}

// Waker is notified when new pending entries exist.
type Waker interface {
	Wake()
}

// Sale is a closed-sale snapshot supplied by a collaborator.
type Sale struct {
	Origin         fiscal.Origin          `json:"origin"`
	OriginalID     string                 `json:"original_id"`
	TotalAmount    decimal.Decimal        `json:"total_amount"`
	Items          []fiscal.LineItem      `json:"items"`
	PaymentMethods []fiscal.PaymentMethod `json:"payment_methods"`
	Customer       *fiscal.Customer       `json:"customer,omitempty"`
	User           string                 `json:"user"`
	Notes          string                 `json:"notes,omitempty"`
	ClosedAt       time.Time              `json:"closed_at,omitempty"`
}

// Result lists the entries that represent a sale.
type Result struct {
	IDs []string `json:"ids"`
	// Created is false when every entry already existed.
	Created bool `json:"created"`
}

// Config wires the ingress service.
type Config struct {
	Repo       fiscal.Repository
	Registry   integration.Registry
	Router     Router
	Catalog    catalog.Catalog // optional
	Replicator Replicator      // optional
	Notifier   fiscal.Notifier // optional
	Waker      Waker           // optional
	Logger     *logger.Logger  // optional
	Now        func() time.Time

	// EmitReceived makes this node emit the pending entries it receives
	// from its peer. Otherwise they are kept as replicas the worker skips.
	EmitReceived bool
}

// Service ingests sales and peer replicas.
type Service struct {
	cfg Config
	log *logger.Logger
}

// NewService creates the ingress service.
func NewService(cfg Config) *Service {
	if cfg.Notifier == nil {
		cfg.Notifier = fiscal.NopNotifier{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Service{cfg: cfg, log: log.WithComponent("ingress")}
}

// Append records a closed sale. Resubmitting the same sale returns the
// existing entry ids.
func (s *Service) Append(ctx context.Context, sale Sale) (*Result, error) {
	if err := validateSale(sale); err != nil {
		return nil, err
	}

	items := catalog.EnrichAll(ctx, s.cfg.Catalog, sale.Items)
	decision, err := s.cfg.Router.Route(ctx, sale.Origin, items, sale.TotalAmount.InexactFloat64())
	if err != nil {
		return nil, err
	}

	entries, err := s.split(sale, items, decision)
	if err != nil {
		return nil, err
	}

	res := &Result{IDs: make([]string, 0, len(entries))}
	var created []*fiscal.Entry
	for _, e := range entries {
		e.FiscalSnapshot = s.snapshot(ctx, e.CNPJEmitente)

		err := s.cfg.Repo.Append(ctx, e)
		if apperror.HasCode(err, apperror.CodeDuplicateOriginID) {
			appErr, _ := apperror.AsAppError(err)
			existing, _ := appErr.Details["existing_id"].(string)
			s.log.WithContext(ctx).Infow("sale already ingested", "original_id", sale.OriginalID, "existing_id", existing)
			res.IDs = append(res.IDs, existing)
			continue
		}
		if err != nil {
			return nil, err
		}
		res.IDs = append(res.IDs, e.ID)
		created = append(created, e)
	}

	for _, e := range created {
		s.log.WithContext(ctx).Infow("fiscal entry created",
			"id", e.ID, "origin", e.Origin, "fiscal_type", e.FiscalType,
			"cnpj", e.CNPJEmitente, "fiscal_amount", e.FiscalAmount.StringFixed(2))
		s.cfg.Notifier.Notify(ctx, fiscal.EventFromEntry(e))
		if s.cfg.Replicator != nil {
			s.cfg.Replicator.Replicate(ctx, e)
		}
	}
	if len(created) > 0 {
		res.Created = true
		if s.cfg.Waker != nil {
			s.cfg.Waker.Wake()
		}
	}
	return res, nil
}

// split builds one entry per fiscal emitter; multi-emitter sales are prorated.
func (s *Service) split(sale Sale, items []fiscal.LineItem, d routing.Decision) ([]*fiscal.Entry, error) {
	groups := proration.GroupPayments(sale.PaymentMethods, d.CNPJ)
	if len(groups) <= 1 {
		cnpj := d.CNPJ
		if len(groups) == 1 {
			cnpj = groups[0].CNPJ
		}
		e := s.newEntry(sale, d.FiscalType, cnpj)
		e.TotalAmount = types.Round2(sale.TotalAmount)
		e.Items = items
		e.PaymentMethods = append([]fiscal.PaymentMethod(nil), sale.PaymentMethods...)
		e.FiscalAmount = fiscal.ComputeFiscalAmount(e.TotalAmount, e.PaymentMethods)
		return []*fiscal.Entry{e}, nil
	}

	slices, err := proration.Prorate(sale.TotalAmount, items, groups)
	if err != nil {
		return nil, err
	}
	entries := make([]*fiscal.Entry, 0, len(slices))
	for _, sl := range slices {
		e := s.newEntry(sale, d.FiscalType, sl.CNPJ)
		e.TotalAmount = types.Round2(sl.FiscalAmount)
		e.FiscalAmount = e.TotalAmount
		e.Items = sl.Items
		e.PaymentMethods = sl.Payments
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Service) newEntry(sale Sale, docType fiscal.DocType, cnpj string) *fiscal.Entry {
	now := s.cfg.Now().In(fiscal.Location)
	closedAt := sale.ClosedAt
	if closedAt.IsZero() {
		closedAt = now
	}
	user := sale.User
	if user == "" {
		user = appctx.SystemUser
	}
	var customer *fiscal.Customer
	if sale.Customer != nil {
		c := *sale.Customer
		customer = &c
	}
	return &fiscal.Entry{
		ID:            id.New(),
		SchemaVersion: fiscal.SchemaVersion,
		Origin:        sale.Origin,
		FiscalType:    docType,
		CNPJEmitente:  cnpj,
		OriginalID:    sale.OriginalID,
		ClosedAt:      closedAt,
		ClosedBy:      user,
		Notes:         sale.Notes,
		Customer:      customer,
		Status:        fiscal.StatusPending,
		History: []fiscal.HistoryRecord{{
			Timestamp: now,
			Action:    fiscal.ActionCreated,
			To:        fiscal.StatusPending,
			User:      user,
		}},
		UpdatedAt: now,
	}
}

// snapshot captures the emitter configuration for legacy consumers.
func (s *Service) snapshot(ctx context.Context, cnpj string) *fiscal.Snapshot {
	if s.cfg.Registry == nil {
		return nil
	}
	st, err := s.cfg.Registry.Get(ctx, cnpj)
	if err != nil {
		return nil
	}
	return &fiscal.Snapshot{
		Environment:      st.Environment,
		SefazEnvironment: st.SefazEnvironment,
		Series:           st.Series,
		CRT:              st.CRT,
		IEEmitente:       st.IEEmitente,
	}
}

// Receive stores an entry replicated by a peer. It reports false when an
// entry with that id already exists. Unless EmitReceived is set the copy is
// stored as a replica and never emitted here.
func (s *Service) Receive(ctx context.Context, e *fiscal.Entry) (bool, error) {
	if e == nil || e.ID == "" {
		return false, apperror.NewValidation("entry id is required")
	}
	if _, err := s.cfg.Repo.Get(ctx, e.ID); err == nil {
		return false, nil
	} else if !apperror.IsNotFound(err) {
		return false, err
	}

	c := e.Clone()
	if c.Status == "" {
		c.Status = fiscal.StatusPending
	}
	c.Replica = !s.cfg.EmitReceived
	if err := c.ValidateReplica(); err != nil {
		return false, err
	}
	c.History = append(c.History, fiscal.HistoryRecord{
		Timestamp: s.cfg.Now().In(fiscal.Location),
		Action:    fiscal.ActionReceived,
		To:        c.Status,
		User:      appctx.ActingUser(ctx),
	})

	err := s.cfg.Repo.Append(ctx, c)
	switch {
	case apperror.HasCode(err, apperror.CodeConflict), apperror.HasCode(err, apperror.CodeDuplicateOriginID):
		return false, nil
	case err != nil:
		return false, err
	}

	s.log.WithContext(ctx).Infow("replicated entry received", "id", c.ID, "status", c.Status, "replica", c.Replica)
	s.cfg.Notifier.Notify(ctx, fiscal.EventFromEntry(c))
	if !c.Replica && c.Status == fiscal.StatusPending && s.cfg.Waker != nil {
		s.cfg.Waker.Wake()
	}
	return true, nil
}

func validateSale(sale Sale) error {
	if !sale.Origin.Valid() {
		return apperror.NewValidation("unknown origin").WithDetail("origin", sale.Origin)
	}
	if sale.OriginalID == "" {
		return apperror.NewValidation("original_id is required")
	}
	if len(sale.Items) == 0 {
		return apperror.NewValidation("sale has no items")
	}
	if sale.TotalAmount.IsNegative() {
		return apperror.NewValidation("total_amount must not be negative")
	}
	return nil
}
