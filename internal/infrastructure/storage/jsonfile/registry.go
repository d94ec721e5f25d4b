package jsonfile

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"sync"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/core/numerator"
	"hotelfiscal/internal/domain/integration"
	"hotelfiscal/internal/domain/routing"
	"hotelfiscal/pkg/logger"
)

var (
	_ integration.Registry = (*Registry)(nil)
	_ numerator.Allocator  = (*Registry)(nil)
)

// registryFile is the on-disk layout of the settings file.
type registryFile struct {
	Integrations []integration.Settings `json:"integrations"`
	Routing      routing.Config         `json:"routing"`
}

// Registry is the file-backed ConfigRegistry. It also serves as the sequence
// allocator, since next_number lives inside each integration.
type Registry struct {
	path string
	log  *logger.Logger

	mu     sync.RWMutex
	doc    registryFile
	loaded int64
}

// OpenRegistry loads the settings file at path. A missing file is an empty registry.
func OpenRegistry(path string, log *logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.Default()
	}
	r := &Registry{path: path, log: log.WithComponent("registry")}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	var doc registryFile
	fromBackup, err := ReadJSON(r.path, &doc)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		doc = registryFile{}
	case err != nil:
		return apperror.NewDatabase("load integration settings", err)
	case fromBackup:
		r.log.Warnw("integration settings unreadable, loaded backup", "path", r.path)
	}
	for i := range doc.Integrations {
		doc.Integrations[i].Normalize()
	}
	r.doc = doc
	r.loaded = modTime(r.path)
	return nil
}

// refresh reloads the file if it changed since the last load. Caller holds mu.
func (r *Registry) refresh() error {
	if modTime(r.path) == r.loaded {
		return nil
	}
	r.log.Infow("integration settings changed on disk, reloading", "path", r.path)
	return r.load()
}

func (r *Registry) read() error {
	r.mu.RLock()
	fresh := modTime(r.path) == r.loaded
	r.mu.RUnlock()
	if fresh {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refresh()
}

func (r *Registry) save(doc registryFile) error {
	if err := WriteJSON(r.path, doc); err != nil {
		return apperror.NewDatabase("write integration settings", err)
	}
	r.doc = doc
	r.loaded = modTime(r.path)
	return nil
}

func (r *Registry) find(cnpj string) int {
	cnpj = digits(cnpj)
	for i := range r.doc.Integrations {
		if r.doc.Integrations[i].CNPJEmitente == cnpj {
			return i
		}
	}
	return -1
}

// Get implements integration.Registry.
func (r *Registry) Get(_ context.Context, cnpj string) (*integration.Settings, error) {
	if err := r.read(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.find(cnpj)
	if i < 0 {
		return nil, apperror.NewNotFound("integration", cnpj)
	}
	s := r.doc.Integrations[i]
	return &s, nil
}

// List implements integration.Registry.
func (r *Registry) List(_ context.Context) ([]integration.Settings, error) {
	if err := r.read(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := append([]integration.Settings(nil), r.doc.Integrations...)
	sort.Slice(out, func(i, j int) bool { return out[i].CNPJEmitente < out[j].CNPJEmitente })
	return out, nil
}

// Save implements integration.Registry.
func (r *Registry) Save(ctx context.Context, s integration.Settings) error {
	s.Normalize()
	if len(s.CNPJEmitente) != 14 {
		return apperror.NewValidation("cnpj_emitente must have 14 digits")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(); err != nil {
		return err
	}

	doc := r.clone()
	if i := r.find(s.CNPJEmitente); i >= 0 {
		doc.Integrations[i] = s
	} else {
		doc.Integrations = append(doc.Integrations, s)
	}
	if err := r.save(doc); err != nil {
		return err
	}
	logger.Info(ctx, "integration saved", "cnpj", s.CNPJEmitente, "environment", s.Environment)
	return nil
}

// Routing returns the routing section of the settings file.
func (r *Registry) Routing(_ context.Context) (routing.Config, error) {
	if err := r.read(); err != nil {
		return routing.Config{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Routing, nil
}

// SaveRouting replaces the routing section.
func (r *Registry) SaveRouting(_ context.Context, cfg routing.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(); err != nil {
		return err
	}
	doc := r.clone()
	doc.Routing = cfg
	return r.save(doc)
}

func (r *Registry) clone() registryFile {
	return registryFile{
		Integrations: append([]integration.Settings(nil), r.doc.Integrations...),
		Routing:      r.doc.Routing,
	}
}

// Peek implements numerator.Allocator.
func (r *Registry) Peek(_ context.Context, key numerator.Key) (int64, error) {
	if err := r.read(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.sequenceOwner(key)
	if err != nil {
		return 0, err
	}
	return s.NextFor(key), nil
}

// Reserve implements numerator.Allocator. The advanced counter is on disk
// before the number is returned.
func (r *Registry) Reserve(ctx context.Context, key numerator.Key) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(); err != nil {
		return 0, err
	}
	if _, err := r.sequenceOwner(key); err != nil {
		return 0, err
	}

	doc := r.clone()
	s := &doc.Integrations[r.find(key.CNPJ)]
	n := s.NextFor(key)
	setNext(s, key, n+1)
	if err := r.save(doc); err != nil {
		return 0, err
	}
	logger.Debug(ctx, "sequence reserved", "key", key.String(), "number", n)
	return n, nil
}

// SetNext implements numerator.Allocator.
func (r *Registry) SetNext(_ context.Context, key numerator.Key, value int64) error {
	if value < 1 {
		return apperror.NewValidation("next number must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.refresh(); err != nil {
		return err
	}
	if _, err := r.sequenceOwner(key); err != nil {
		return err
	}

	doc := r.clone()
	setNext(&doc.Integrations[r.find(key.CNPJ)], key, value)
	return r.save(doc)
}

// sequenceOwner returns the integration holding key's counter. Caller holds mu.
func (r *Registry) sequenceOwner(key numerator.Key) (*integration.Settings, error) {
	i := r.find(key.CNPJ)
	if i < 0 {
		return nil, apperror.NewNotFound("integration", key.CNPJ)
	}
	s := &r.doc.Integrations[i]
	if s.SequenceKey(string(key.Model)) != key {
		return nil, apperror.NewValidation("series is not configured for this emitter").
			WithDetail("key", key.String())
	}
	return s, nil
}

func setNext(s *integration.Settings, key numerator.Key, n int64) {
	if key.Model == numerator.ModelNFSe {
		s.NFSeNextNumber = n
		return
	}
	s.NextNumber = n
}

func digits(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
