package emission

import (
	"context"
	"io"

	"github.com/shopspring/decimal"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/payload"
)

// Retry requeues a failed or error_config entry and emits it right away.
// The outcome carries the exact failure message, if any.
func (s *Service) Retry(ctx context.Context, id string) (*Outcome, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Replica {
		return nil, apperror.NewConflict("entry is a replica, retry it on the emitting peer").WithDetail("id", id)
	}
	if !e.Status.Retryable() {
		return nil, apperror.NewInvalidTransition(string(e.Status), string(fiscal.StatusPending)).
			WithDetail("id", id)
	}

	release, ok := s.claims.Claim(id)
	if !ok {
		return nil, apperror.NewConflict("emission already in progress").WithDetail("id", id)
	}
	defer release()

	e, err = s.repo.UpdateStatus(ctx, id, fiscal.StatusUpdate{
		To:      fiscal.StatusPending,
		User:    actor(ctx),
		Details: "retry",
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, fiscal.EventFromEntry(e))
	return s.emit(ctx, e)
}

// MonthResult summarizes a RetryMonth run.
type MonthResult struct {
	Month     string          `json:"month"`
	Emitted   int             `json:"emitted"`
	Failed    int             `json:"failed"`
	Remaining decimal.Decimal `json:"remaining"`
	Outcomes  []*Outcome      `json:"outcomes"`
}

// RetryMonth retries the month's failed and error_config entries in closed_at
// order until no fiscal amount is left pending authorization.
func (s *Service) RetryMonth(ctx context.Context, month string) (*MonthResult, error) {
	f, err := fiscal.Filter{
		Statuses:  []fiscal.Status{fiscal.StatusFailed, fiscal.StatusErrorConfig},
		LocalOnly: true,
	}.WithMonth(month)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	res := &MonthResult{Month: month, Remaining: decimal.Zero, Outcomes: []*Outcome{}}
	for _, e := range entries {
		res.Remaining = res.Remaining.Add(e.FiscalAmount)
	}

	for _, e := range entries {
		if !res.Remaining.IsPositive() {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		out, err := s.Retry(ctx, e.ID)
		if err != nil {
			if apperror.IsAppError(err) && !apperror.HasCode(err, apperror.CodeDatabase) {
				s.log.WithContext(ctx).Infow("retry skipped", "id", e.ID, "error", err)
				continue
			}
			return res, err
		}
		res.Outcomes = append(res.Outcomes, out)
		if out.Status == fiscal.StatusEmitted {
			res.Emitted++
			res.Remaining = res.Remaining.Sub(e.FiscalAmount)
		} else {
			res.Failed++
		}
	}
	if res.Remaining.IsNegative() {
		res.Remaining = decimal.Zero
	}

	s.log.WithContext(ctx).Infow("month retry finished",
		"month", month, "emitted", res.Emitted, "failed", res.Failed, "remaining", res.Remaining.StringFixed(2))
	return res, nil
}

// Ignore withdraws an entry from emission. Emitted entries cannot be ignored.
func (s *Service) Ignore(ctx context.Context, id, reason string) (*fiscal.Entry, error) {
	e, err := s.repo.UpdateStatus(ctx, id, fiscal.StatusUpdate{
		To:      fiscal.StatusIgnored,
		User:    actor(ctx),
		Details: reason,
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, fiscal.EventFromEntry(e))
	return e, nil
}

// Artifact is an opened XML or PDF.
type Artifact struct {
	Path    string
	Content io.ReadSeekCloser
}

// OpenXML returns the stored XML of an emitted entry, downloading it once if missing.
func (s *Service) OpenXML(ctx context.Context, id string) (*Artifact, error) {
	return s.open(ctx, id, fiscal.ArtifactXML)
}

// OpenPDF returns the stored PDF of an emitted entry, downloading it once if missing.
func (s *Service) OpenPDF(ctx context.Context, id string) (*Artifact, error) {
	return s.open(ctx, id, fiscal.ArtifactPDF)
}

func (s *Service) open(ctx context.Context, id string, kind fiscal.ArtifactKind) (*Artifact, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	path := e.XMLPath
	if kind == fiscal.ArtifactPDF {
		path = e.PDFPath
	}
	if path != "" && s.artifacts.Exists(path) {
		return s.openPath(path)
	}
	if e.FiscalDocUUID == "" {
		return nil, apperror.NewNotFound(string(kind), id).WithDetail("status", e.Status)
	}

	live, err := s.registry.Get(ctx, e.CNPJEmitente)
	if err != nil {
		return nil, err
	}
	settings := payload.Effective(e, *live, s.cutoff)

	data, err := s.provider.FetchArtifact(ctx, &settings, e.FiscalType, kind, e.FiscalDocUUID)
	if err != nil {
		return nil, err
	}
	if kind == fiscal.ArtifactPDF {
		path, err = s.artifacts.SavePDF(e.FiscalDocUUID, e.ClosedAt, data)
	} else {
		path, _, err = s.artifacts.SaveXML(e.FiscalDocUUID, e.ClosedAt, data)
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.MarkArtifact(ctx, id, kind, path, actor(ctx)); err != nil {
		return nil, err
	}
	return s.openPath(path)
}

func (s *Service) openPath(path string) (*Artifact, error) {
	f, err := s.artifacts.Open(path)
	if err != nil {
		return nil, err
	}
	return &Artifact{Path: path, Content: f}, nil
}

// SyncCompany pushes the NFC-e settings of cnpj to the provider.
func (s *Service) SyncCompany(ctx context.Context, cnpj string) error {
	settings, err := s.registry.Get(ctx, fiscal.Digits(cnpj))
	if err != nil {
		return err
	}
	if err := settings.Validate(string(fiscal.DocNFCe)); err != nil {
		return err
	}
	if err := s.provider.SyncCompany(ctx, settings); err != nil {
		return err
	}
	s.log.WithContext(ctx).Infow("company settings synchronized", "cnpj", settings.CNPJEmitente)
	return nil
}
