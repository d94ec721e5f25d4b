package emission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"hotelfiscal/internal/core/apperror"
	appctx "hotelfiscal/internal/core/context"
	"hotelfiscal/internal/core/numerator"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
	"hotelfiscal/internal/domain/payload"
	"hotelfiscal/pkg/logger"
)

// WorkerUser is recorded in history for automatic emissions.
const WorkerUser = appctx.SystemUser

// Config wires the emission service.
type Config struct {
	Repo      fiscal.Repository
	Registry  integration.Registry
	Sequences numerator.Allocator
	Builder   *payload.Builder
	Provider  Provider
	Artifacts ArtifactStore
	Notifier  fiscal.Notifier  // optional
	Claims    *fiscal.ClaimSet // optional, defaults to a 2 minute TTL renewed while held
	Logger    *logger.Logger   // optional

	// LegacyCutoff is the schema version from which entries use live settings.
	LegacyCutoff int
	Now          func() time.Time
}

// Service emits fiscal entries. Safe for concurrent use.
type Service struct {
	repo      fiscal.Repository
	registry  integration.Registry
	seq       numerator.Allocator
	builder   *payload.Builder
	provider  Provider
	artifacts ArtifactStore
	notifier  fiscal.Notifier
	claims    *fiscal.ClaimSet
	log       *logger.Logger
	cutoff    int
	now       func() time.Time

	// sequences serializes peek, submit and reserve per numbering key.
	sequences keyedMutex
}

// NewService creates the emission service.
func NewService(cfg Config) *Service {
	s := &Service{
		repo:      cfg.Repo,
		registry:  cfg.Registry,
		seq:       cfg.Sequences,
		builder:   cfg.Builder,
		provider:  cfg.Provider,
		artifacts: cfg.Artifacts,
		notifier:  cfg.Notifier,
		claims:    cfg.Claims,
		log:       cfg.Logger,
		cutoff:    cfg.LegacyCutoff,
		now:       cfg.Now,
	}
	if s.notifier == nil {
		s.notifier = fiscal.NopNotifier{}
	}
	if s.claims == nil {
		s.claims = fiscal.NewClaimSet(2 * time.Minute)
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	s.log = s.log.WithComponent("emission")
	if s.cutoff == 0 {
		s.cutoff = fiscal.SchemaVersion
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Outcome is the result of one emission attempt.
type Outcome struct {
	ID           string          `json:"id"`
	Status       fiscal.Status   `json:"status"`
	FiscalSerie  int             `json:"fiscal_serie,omitempty"`
	FiscalNumber int64           `json:"fiscal_number,omitempty"`
	FiscalAmount decimal.Decimal `json:"fiscal_amount"`
	Message      string          `json:"message,omitempty"`

	// Skipped is set when the entry was not pending, is a peer replica or is
	// being emitted elsewhere.
	Skipped bool `json:"skipped,omitempty"`
}

// Emit processes one pending entry end to end. Failures are recorded on the
// entry and reported in the Outcome; the returned error is reserved for
// store failures and claim conflicts.
func (s *Service) Emit(ctx context.Context, id string) (*Outcome, error) {
	release, ok := s.claims.Claim(id)
	if !ok {
		return nil, apperror.NewConflict("emission already in progress").WithDetail("id", id)
	}
	defer release()

	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if skip := skipped(e); skip != nil {
		return skip, nil
	}
	return s.emit(ctx, e)
}

// skipped returns the outcome for an entry this node must not submit, or nil.
func skipped(e *fiscal.Entry) *Outcome {
	if e.Status == fiscal.StatusPending && !e.Replica {
		return nil
	}
	out := outcomeOf(e)
	if e.Replica && e.Status == fiscal.StatusPending {
		out.Message = "replica of a peer entry"
	}
	out.Skipped = true
	return out
}

// emit submits e and records the result. The caller holds the claim for e.
func (s *Service) emit(ctx context.Context, e *fiscal.Entry) (*Outcome, error) {
	updated, settings, out, err := s.authorize(ctx, e)
	if out != nil || err != nil {
		return out, err
	}
	if pdfEntry := s.fetchPDF(ctx, settings, updated); pdfEntry != nil {
		updated = pdfEntry
	}
	return outcomeOf(updated), nil
}

// authorize runs the numbered part of an emission under the sequence lock of
// the entry's numbering key. It returns either the emitted entry with its
// settings, or a final outcome.
func (s *Service) authorize(ctx context.Context, e *fiscal.Entry) (*fiscal.Entry, *integration.Settings, *Outcome, error) {
	log := s.log.WithContext(ctx).With("id", e.ID, "cnpj", e.CNPJEmitente, "fiscal_type", e.FiscalType)
	done := func(out *Outcome, err error) (*fiscal.Entry, *integration.Settings, *Outcome, error) {
		return nil, nil, out, err
	}

	live, err := s.registry.Get(ctx, e.CNPJEmitente)
	if apperror.IsNotFound(err) {
		return done(s.fail(ctx, e, fiscal.StatusErrorConfig,
			apperror.NewConfigIncomplete("no integration configured for emitter "+e.CNPJEmitente)))
	}
	if err != nil {
		return done(nil, err)
	}
	settings := payload.Effective(e, *live, s.cutoff)
	if err := settings.Validate(string(e.FiscalType)); err != nil {
		return done(s.fail(ctx, e, fiscal.StatusErrorConfig, err))
	}

	key := settings.SequenceKey(string(e.FiscalType))
	unlock := s.sequences.Lock(key.String())
	defer unlock()

	// The entry may have moved while this call waited for the sequence.
	e, err = s.repo.Get(ctx, e.ID)
	if err != nil {
		return done(nil, err)
	}
	if skip := skipped(e); skip != nil {
		log.Infow("entry no longer pending, not submitted", "status", e.Status)
		return done(skip, nil)
	}

	number, err := s.seq.Peek(ctx, key)
	if err != nil {
		return done(nil, err)
	}

	doc, err := s.build(ctx, e, &settings, number)
	if err != nil {
		to := fiscal.StatusFailed
		if apperror.HasCode(err, apperror.CodeConfigIncomplete) {
			to = fiscal.StatusErrorConfig
		}
		return done(s.fail(ctx, e, to, err))
	}

	auth, err := s.provider.Submit(ctx, &settings, e.FiscalType, doc)
	if err != nil {
		log.Warnw("submission failed", "error", err, "transient", apperror.IsTransient(err))
		return done(s.fail(ctx, e, fiscal.StatusFailed, err))
	}
	log.Infow("document authorized", "doc_id", auth.DocID, "number", auth.Number)

	if discarded, out := s.discardIfWithdrawn(ctx, e.ID, auth); discarded {
		return done(out, nil)
	}

	xml, err := s.provider.FetchArtifact(ctx, &settings, e.FiscalType, fiscal.ArtifactXML, auth.DocID)
	if err != nil {
		log.Warnw("authorized but XML unavailable, sequence not advanced", "doc_id", auth.DocID, "error", err)
		return done(s.fail(ctx, e, fiscal.StatusFailed, err))
	}
	xmlPath, accessKey, err := s.artifacts.SaveXML(auth.DocID, e.ClosedAt, xml)
	if err != nil {
		return done(s.fail(ctx, e, fiscal.StatusFailed, err))
	}
	if accessKey == "" {
		accessKey = auth.AccessKey
	}

	reserved, err := s.seq.Reserve(ctx, key)
	if err != nil {
		log.Errorw("sequence reservation failed after authorization", "doc_id", auth.DocID, "error", err)
		return done(s.fail(ctx, e, fiscal.StatusFailed,
			apperror.NewDatabase("document "+auth.DocID+" authorized but sequence reservation failed", err).
				WithDetail("doc_id", auth.DocID)))
	}
	fiscalNumber := auth.Number
	if fiscalNumber <= 0 {
		fiscalNumber = reserved
	} else if fiscalNumber != reserved {
		log.Warnw("provider number differs from local sequence", "provider", fiscalNumber, "local", reserved)
	}
	serie := auth.Serie
	if serie <= 0 {
		serie = key.Series
	}

	updated, err := s.repo.UpdateStatus(ctx, e.ID, fiscal.StatusUpdate{
		To:        fiscal.StatusEmitted,
		User:      actor(ctx),
		Details:   "authorized " + auth.DocID,
		LastError: fiscal.ErrorText(""),
		DocUUID:   auth.DocID,
		Serie:     serie,
		Number:    fiscalNumber,
		AccessKey: accessKey,
		XMLPath:   xmlPath,
	})
	if err != nil {
		log.Errorw("could not record authorized document", "doc_id", auth.DocID, "number", fiscalNumber, "error", err)
		return done(nil, err)
	}
	s.notifier.Notify(ctx, fiscal.EventFromEntry(updated))
	return updated, &settings, nil, nil
}

func (s *Service) build(ctx context.Context, e *fiscal.Entry, settings *integration.Settings, number int64) (any, error) {
	if e.FiscalType == fiscal.DocNFSe {
		return s.builder.BuildNFSe(ctx, e, settings, number)
	}
	return s.builder.BuildNFCe(ctx, e, settings, number)
}

// discardIfWithdrawn reports whether the entry stopped being pending while the
// provider call was in flight (e.g. an operator ignored it).
func (s *Service) discardIfWithdrawn(ctx context.Context, id string, auth *Authorization) (bool, *Outcome) {
	current, err := s.repo.Get(ctx, id)
	if err != nil || current.Status == fiscal.StatusPending {
		return false, nil
	}
	s.log.WithContext(ctx).Warnw("entry changed during submission, discarding result",
		"id", id, "status", current.Status, "doc_id", auth.DocID)
	out := outcomeOf(current)
	out.Skipped = true
	return true, out
}

// fetchPDF stores the PDF if the provider has it. Absence is not an error.
func (s *Service) fetchPDF(ctx context.Context, settings *integration.Settings, e *fiscal.Entry) *fiscal.Entry {
	pdf, err := s.provider.FetchArtifact(ctx, settings, e.FiscalType, fiscal.ArtifactPDF, e.FiscalDocUUID)
	if err != nil {
		s.log.WithContext(ctx).Infow("PDF not available yet", "id", e.ID, "error", err)
		return nil
	}
	path, err := s.artifacts.SavePDF(e.FiscalDocUUID, e.ClosedAt, pdf)
	if err != nil {
		s.log.WithContext(ctx).Warnw("storing PDF failed", "id", e.ID, "error", err)
		return nil
	}
	updated, err := s.repo.MarkArtifact(ctx, e.ID, fiscal.ArtifactPDF, path, actor(ctx))
	if err != nil {
		s.log.WithContext(ctx).Warnw("marking PDF failed", "id", e.ID, "error", err)
		return nil
	}
	return updated
}

// fail records err on the entry and moves it to status to.
func (s *Service) fail(ctx context.Context, e *fiscal.Entry, to fiscal.Status, cause error) (*Outcome, error) {
	msg := apperror.Describe(cause)
	updated, err := s.repo.UpdateStatus(ctx, e.ID, fiscal.StatusUpdate{
		To:        to,
		User:      actor(ctx),
		Details:   apperror.Label(cause),
		LastError: fiscal.ErrorText(msg),
	})
	if apperror.HasCode(err, apperror.CodeInvalidTransition) {
		// Withdrawn concurrently; keep the operator's decision.
		current, gerr := s.repo.Get(ctx, e.ID)
		if gerr != nil {
			return nil, gerr
		}
		out := outcomeOf(current)
		out.Message = msg
		out.Skipped = true
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, fiscal.EventFromEntry(updated))

	out := outcomeOf(updated)
	out.Message = msg
	return out, nil
}

func outcomeOf(e *fiscal.Entry) *Outcome {
	return &Outcome{
		ID:           e.ID,
		Status:       e.Status,
		FiscalSerie:  e.FiscalSerie,
		FiscalNumber: e.FiscalNumber,
		FiscalAmount: e.FiscalAmount,
		Message:      e.LastError,
	}
}

func actor(ctx context.Context) string {
	return appctx.ActingUser(ctx)
}
