package jsonfile

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"sync"
	"time"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/pkg/logger"
)

// Compile-time check that FiscalStore implements fiscal.Repository.
var _ fiscal.Repository = (*FiscalStore)(nil)

// FiscalStore keeps the fiscal pool as one JSON array. Writers are serialized
// by a process-wide lock; the file is reloaded when another process replaced it.
type FiscalStore struct {
	path string
	log  *logger.Logger
	now  func() time.Time

	mu      sync.RWMutex
	entries []*fiscal.Entry
	byID    map[string]int
	loaded  int64
}

// FiscalStoreOption configures a FiscalStore.
type FiscalStoreOption func(*FiscalStore)

// WithStoreClock overrides the clock used for history timestamps.
func WithStoreClock(now func() time.Time) FiscalStoreOption {
	return func(s *FiscalStore) { s.now = now }
}

// OpenFiscalStore loads the pool at path. A missing file is an empty pool.
func OpenFiscalStore(path string, log *logger.Logger, opts ...FiscalStoreOption) (*FiscalStore, error) {
	if log == nil {
		log = logger.Default()
	}
	s := &FiscalStore{
		path: path,
		log:  log.WithComponent("fiscalstore"),
		now:  func() time.Time { return time.Now().In(fiscal.Location) },
		byID: map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load replaces the in-memory state with the file contents. Caller holds mu for writing.
func (s *FiscalStore) load() error {
	var entries []*fiscal.Entry
	fromBackup, err := ReadJSON(s.path, &entries)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		entries = nil
	case err != nil:
		return apperror.NewDatabase("load fiscal pool", err)
	case fromBackup:
		s.log.Warnw("fiscal pool unreadable, loaded backup", "path", s.path)
	}

	s.entries = entries
	s.byID = make(map[string]int, len(entries))
	for i, e := range entries {
		s.byID[e.ID] = i
	}
	s.loaded = modTime(s.path)
	return nil
}

func (s *FiscalStore) stale() bool {
	return modTime(s.path) != s.loaded
}

// rlock takes the read lock, reloading first if the file changed underneath.
func (s *FiscalStore) rlock() error {
	s.mu.RLock()
	if !s.stale() {
		return nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	err := s.refresh()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.mu.RLock()
	return nil
}

func (s *FiscalStore) refresh() error {
	if !s.stale() {
		return nil
	}
	return s.load()
}

// persist writes entries and, on success, makes them the current state.
func (s *FiscalStore) persist(entries []*fiscal.Entry) error {
	if entries == nil {
		entries = []*fiscal.Entry{}
	}
	if err := WriteJSON(s.path, entries); err != nil {
		return apperror.NewDatabase("write fiscal pool", err)
	}
	s.entries = entries
	s.byID = make(map[string]int, len(entries))
	for i, e := range entries {
		s.byID[e.ID] = i
	}
	s.loaded = modTime(s.path)
	return nil
}

// Append implements fiscal.Repository.
func (s *FiscalStore) Append(ctx context.Context, e *fiscal.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return err
	}

	if _, ok := s.byID[e.ID]; ok {
		return apperror.NewConflict("fiscal entry already exists").WithDetail("id", e.ID)
	}
	for _, existing := range s.entries {
		if existing.Status != fiscal.StatusIgnored && fiscal.SameOrigin(existing, e) {
			return apperror.NewDuplicateOriginID(string(e.Origin), e.OriginalID, existing.ID)
		}
	}

	c := e.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	next := make([]*fiscal.Entry, len(s.entries), len(s.entries)+1)
	copy(next, s.entries)
	if err := s.persist(append(next, c)); err != nil {
		return err
	}

	logger.Debug(ctx, "fiscal entry appended", "id", c.ID, "origin", c.Origin, "cnpj", c.CNPJEmitente)
	return nil
}

// Get implements fiscal.Repository.
func (s *FiscalStore) Get(_ context.Context, id string) (*fiscal.Entry, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, apperror.NewNotFound("fiscal entry", id)
	}
	return s.entries[i].Clone(), nil
}

// Query implements fiscal.Repository.
func (s *FiscalStore) Query(_ context.Context, f fiscal.Filter) ([]*fiscal.Entry, error) {
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	out := make([]*fiscal.Entry, 0)
	for _, e := range s.entries {
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// UpdateStatus implements fiscal.Repository.
func (s *FiscalStore) UpdateStatus(ctx context.Context, id string, u fiscal.StatusUpdate) (*fiscal.Entry, error) {
	return s.mutate(ctx, id, func(e *fiscal.Entry, now time.Time) error {
		return e.ApplyStatus(u, now)
	})
}

// MarkArtifact implements fiscal.Repository.
func (s *FiscalStore) MarkArtifact(ctx context.Context, id string, kind fiscal.ArtifactKind, path, user string) (*fiscal.Entry, error) {
	return s.mutate(ctx, id, func(e *fiscal.Entry, now time.Time) error {
		return e.ApplyArtifact(kind, path, user, now)
	})
}

func (s *FiscalStore) mutate(_ context.Context, id string, fn func(*fiscal.Entry, time.Time) error) (*fiscal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return nil, err
	}

	i, ok := s.byID[id]
	if !ok {
		return nil, apperror.NewNotFound("fiscal entry", id)
	}
	updated := s.entries[i].Clone()
	if err := fn(updated, s.now()); err != nil {
		return nil, err
	}

	next := make([]*fiscal.Entry, len(s.entries))
	copy(next, s.entries)
	next[i] = updated
	if err := s.persist(next); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}
