// Package emission drives pending fiscal entries through payload building,
// provider authorization, artifact retrieval and sequence allocation.
package emission

import (
	"context"
	"io"
	"time"

	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
)

// Authorization is an authorized provider verdict.
type Authorization struct {
	DocID     string
	Status    string
	AccessKey string
	Serie     int
	Number    int64
}

// Provider is the fiscal document provider as seen by the emission flow.
// Errors are apperror values; transient ones have Transient set.
type Provider interface {
	// Submit sends doc and returns only authorized verdicts; anything else is an error.
	Submit(ctx context.Context, s *integration.Settings, docType fiscal.DocType, doc any) (*Authorization, error)

	// FetchArtifact downloads the XML or PDF of an authorized document,
	// polling until it is available.
	FetchArtifact(ctx context.Context, s *integration.Settings, docType fiscal.DocType, kind fiscal.ArtifactKind, docID string) ([]byte, error)

	// SyncCompany pushes the emitter's NFC-e settings to the provider.
	SyncCompany(ctx context.Context, s *integration.Settings) error
}

// ArtifactStore persists XMLs and PDFs. Paths are relative to the store root.
type ArtifactStore interface {
	SaveXML(docID string, at time.Time, data []byte) (path string, accessKey string, err error)
	SavePDF(docID string, at time.Time, data []byte) (string, error)
	Open(path string) (io.ReadSeekCloser, error)
	Exists(path string) bool
}
