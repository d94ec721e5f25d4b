package fiscal

import (
	"context"
	"time"

	"hotelfiscal/internal/core/apperror"
)

// Repository is the FiscalStore contract. Implementations serialize writers
// and make every mutation durable before returning.
type Repository interface {
	// Append inserts a new entry. It fails with DuplicateOriginID when a
	// non-ignored entry shares (origin, original_id, cnpj_emitente), and
	// with Conflict when the id is taken.
	Append(ctx context.Context, e *Entry) error

	// Get returns a copy of the entry or NotFound.
	Get(ctx context.Context, id string) (*Entry, error)

	// Query returns copies of matching entries ordered by closed_at ascending.
	Query(ctx context.Context, f Filter) ([]*Entry, error)

	// UpdateStatus applies u atomically and returns the updated entry.
	UpdateStatus(ctx context.Context, id string, u StatusUpdate) (*Entry, error)

	// MarkArtifact records a stored XML or PDF.
	MarkArtifact(ctx context.Context, id string, kind ArtifactKind, path, user string) (*Entry, error)
}

// Filter selects entries for Query.
type Filter struct {
	Statuses []Status
	Origin   Origin
	CNPJ     string
	From     time.Time // inclusive
	To       time.Time // exclusive
	Limit    int

	// LocalOnly drops replicas received from a peer.
	LocalOnly bool
}

// MonthRange returns [first day, first day of next month) for "YYYY-MM" in Location.
func MonthRange(month string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01", month, Location)
	if err != nil {
		return time.Time{}, time.Time{}, apperror.NewValidation("month must be YYYY-MM").WithDetail("month", month)
	}
	return start, start.AddDate(0, 1, 0), nil
}

// WithMonth narrows the filter to one fiscal month.
func (f Filter) WithMonth(month string) (Filter, error) {
	from, to, err := MonthRange(month)
	if err != nil {
		return f, err
	}
	f.From, f.To = from, to
	return f, nil
}

// Matches reports whether e satisfies the filter (Limit is ignored).
func (f Filter) Matches(e *Entry) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.LocalOnly && e.Replica {
		return false
	}
	if f.Origin != "" && e.Origin != f.Origin {
		return false
	}
	if f.CNPJ != "" && e.CNPJEmitente != f.CNPJ {
		return false
	}
	if !f.From.IsZero() && e.ClosedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.ClosedAt.Before(f.To) {
		return false
	}
	return true
}

// SameOrigin reports whether a and b describe the same collaborator sale
// for the same emitter, which makes the later one a duplicate.
func SameOrigin(a, b *Entry) bool {
	return a.Origin == b.Origin && a.OriginalID == b.OriginalID && a.CNPJEmitente == b.CNPJEmitente
}
