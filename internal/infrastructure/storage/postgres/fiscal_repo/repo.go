// Package fiscal_repo provides the PostgreSQL FiscalStore.
// Each entry is kept as a jsonb document next to the columns used for
// filtering and uniqueness.
package fiscal_repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/infrastructure/storage/postgres"
)

const (
	tableName = "fiscal_entries"

	pkConstraint     = "fiscal_entries_pkey"
	originConstraint = "fiscal_entries_origin_uniq"
)

// Schema is the DDL of the fiscal pool.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS fiscal_entries (
    id            TEXT        NOT NULL,
    origin        TEXT        NOT NULL,
    original_id   TEXT        NOT NULL,
    cnpj_emitente TEXT        NOT NULL,
    status        TEXT        NOT NULL,
    closed_at     TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    doc           JSONB       NOT NULL,
    CONSTRAINT fiscal_entries_pkey PRIMARY KEY (id)
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS fiscal_entries_origin_uniq
    ON fiscal_entries (origin, original_id, cnpj_emitente) WHERE status <> 'ignored'`,
	`CREATE INDEX IF NOT EXISTS fiscal_entries_status_closed_idx ON fiscal_entries (status, closed_at)`,
}

var columns = []string{"id", "origin", "original_id", "cnpj_emitente", "status", "closed_at", "updated_at", "doc"}

func values(e *fiscal.Entry, doc []byte) []any {
	return []any{e.ID, string(e.Origin), e.OriginalID, e.CNPJEmitente, string(e.Status), e.ClosedAt, e.UpdatedAt, doc}
}

type row struct {
	Doc []byte `db:"doc"`
}

// Repo implements fiscal.Repository on PostgreSQL. Status changes lock the
// row with SELECT ... FOR UPDATE, so concurrent writers in any process
// serialize per entry.
type Repo struct {
	txm *postgres.TxManager
	now func() time.Time
}

var _ fiscal.Repository = (*Repo)(nil)

// New creates the repository.
func New(txm *postgres.TxManager) *Repo {
	return &Repo{txm: txm, now: time.Now}
}

func (r *Repo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Append implements fiscal.Repository.
func (r *Repo) Append(ctx context.Context, e *fiscal.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	c := e.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = r.now().In(fiscal.Location)
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("encode entry: %w", err))
	}

	sql, args, err := r.builder().
		Insert(tableName).
		Columns(columns...).
		Values(values(c, doc)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	_, err = r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == pkConstraint {
			return apperror.NewConflict("entry id already exists").WithDetail("id", c.ID)
		}
		existing, findErr := r.existingID(ctx, c)
		if findErr != nil {
			return findErr
		}
		return apperror.NewDuplicateOriginID(string(c.Origin), c.OriginalID, existing)
	}
	if err != nil {
		return apperror.NewDatabase("insert fiscal entry", err)
	}
	return nil
}

func (r *Repo) existingID(ctx context.Context, e *fiscal.Entry) (string, error) {
	sql, args, err := r.builder().
		Select("id").
		From(tableName).
		Where(squirrel.Eq{"origin": string(e.Origin), "original_id": e.OriginalID, "cnpj_emitente": e.CNPJEmitente}).
		Where(squirrel.NotEq{"status": string(fiscal.StatusIgnored)}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	var id string
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &id, sql, args...); err != nil {
		return "", apperror.NewDatabase("find duplicate origin", err)
	}
	return id, nil
}

// Get implements fiscal.Repository.
func (r *Repo) Get(ctx context.Context, id string) (*fiscal.Entry, error) {
	return r.load(ctx, id, false)
}

func (r *Repo) load(ctx context.Context, id string, forUpdate bool) (*fiscal.Entry, error) {
	q := r.builder().
		Select("doc").
		From(tableName).
		Where(squirrel.Eq{"id": id})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rw row
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rw, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("fiscal entry", id)
		}
		return nil, apperror.NewDatabase("get fiscal entry", err)
	}
	return decode(rw.Doc)
}

// Query implements fiscal.Repository.
func (r *Repo) Query(ctx context.Context, f fiscal.Filter) ([]*fiscal.Entry, error) {
	sql, args, err := r.selectQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []row
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, apperror.NewDatabase("query fiscal entries", err)
	}
	out := make([]*fiscal.Entry, 0, len(rows))
	for _, rw := range rows {
		e, err := decode(rw.Doc)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Repo) selectQuery(f fiscal.Filter) squirrel.SelectBuilder {
	q := r.builder().
		Select("doc").
		From(tableName).
		OrderBy("closed_at ASC", "id ASC")

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	if f.Origin != "" {
		q = q.Where(squirrel.Eq{"origin": string(f.Origin)})
	}
	if f.CNPJ != "" {
		q = q.Where(squirrel.Eq{"cnpj_emitente": f.CNPJ})
	}
	if !f.From.IsZero() {
		q = q.Where(squirrel.GtOrEq{"closed_at": f.From})
	}
	if !f.To.IsZero() {
		q = q.Where(squirrel.Lt{"closed_at": f.To})
	}
	if f.LocalOnly {
		q = q.Where("NOT COALESCE((doc->>'replica')::boolean, false)")
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}

// UpdateStatus implements fiscal.Repository.
func (r *Repo) UpdateStatus(ctx context.Context, id string, u fiscal.StatusUpdate) (*fiscal.Entry, error) {
	return r.mutate(ctx, id, func(e *fiscal.Entry, now time.Time) error {
		return e.ApplyStatus(u, now)
	})
}

// MarkArtifact implements fiscal.Repository.
func (r *Repo) MarkArtifact(ctx context.Context, id string, kind fiscal.ArtifactKind, path, user string) (*fiscal.Entry, error) {
	return r.mutate(ctx, id, func(e *fiscal.Entry, now time.Time) error {
		return e.ApplyArtifact(kind, path, user, now)
	})
}

func (r *Repo) mutate(ctx context.Context, id string, apply func(*fiscal.Entry, time.Time) error) (*fiscal.Entry, error) {
	var out *fiscal.Entry
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		e, err := r.load(ctx, id, true)
		if err != nil {
			return err
		}
		if err := apply(e, r.now().In(fiscal.Location)); err != nil {
			return err
		}
		doc, err := json.Marshal(e)
		if err != nil {
			return apperror.NewInternal(fmt.Errorf("encode entry: %w", err))
		}

		sql, args, err := r.builder().
			Update(tableName).
			Set("status", string(e.Status)).
			Set("updated_at", e.UpdatedAt).
			Set("doc", doc).
			Where(squirrel.Eq{"id": id}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		if _, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
			return apperror.NewDatabase("update fiscal entry", err)
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Import bulk-loads entries from another store, typically the JSON pool
// when switching drivers. Entries whose id already exists are skipped; an
// origin conflict aborts the whole import.
func (r *Repo) Import(ctx context.Context, entries []*fiscal.Entry) (int, error) {
	var imported int
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
		existing, err := r.existingIDs(ctx, ids)
		if err != nil {
			return err
		}

		rows := make([][]any, 0, len(entries))
		for _, e := range entries {
			if existing[e.ID] {
				continue
			}
			if err := e.Validate(); err != nil {
				return fmt.Errorf("entry %s: %w", e.ID, err)
			}
			doc, err := json.Marshal(e)
			if err != nil {
				return apperror.NewInternal(fmt.Errorf("encode entry: %w", err))
			}
			existing[e.ID] = true
			rows = append(rows, values(e, doc))
		}

		n, err := r.txm.CopyRows(ctx, tableName, columns, rows)
		if err != nil {
			return apperror.NewDatabase("import fiscal entries", err)
		}
		imported = int(n)
		return nil
	})
	return imported, err
}

func (r *Repo) existingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sql, args, err := r.builder().
		Select("id").
		From(tableName).
		Where(squirrel.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var found []string
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &found, sql, args...); err != nil {
		return nil, apperror.NewDatabase("find existing entries", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func decode(doc []byte) (*fiscal.Entry, error) {
	var e fiscal.Entry
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, apperror.NewDatabase("decode fiscal entry", err)
	}
	return &e, nil
}
