package provider

import (
	"context"

	"hotelfiscal/internal/domain/emission"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
)

var _ emission.Provider = (*Gateway)(nil)

// Gateway adapts Client to the emission flow, resolving credentials and
// endpoints from the emitter settings.
type Gateway struct {
	client *Client
}

// NewGateway wraps c.
func NewGateway(c *Client) *Gateway {
	return &Gateway{client: c}
}

// Submit implements emission.Provider.
func (g *Gateway) Submit(ctx context.Context, s *integration.Settings, docType fiscal.DocType, doc any) (*emission.Authorization, error) {
	creds := CredentialsFor(s)
	var (
		res *Result
		err error
	)
	if docType == fiscal.DocNFSe {
		res, err = g.client.SubmitNFSe(ctx, creds, doc)
	} else {
		res, err = g.client.SubmitNFCe(ctx, creds, doc)
	}
	if err != nil {
		return nil, err
	}
	return &emission.Authorization{
		DocID:     res.ID,
		Status:    res.Status,
		AccessKey: res.AccessKey,
		Serie:     res.Serie,
		Number:    res.Number,
	}, nil
}

// FetchArtifact implements emission.Provider.
func (g *Gateway) FetchArtifact(ctx context.Context, s *integration.Settings, docType fiscal.DocType, kind fiscal.ArtifactKind, docID string) ([]byte, error) {
	family := KindNFCe
	if docType == fiscal.DocNFSe {
		family = KindNFSe
	}
	if kind == fiscal.ArtifactPDF {
		return g.client.FetchPDF(ctx, CredentialsFor(s), family, docID)
	}
	return g.client.FetchXML(ctx, CredentialsFor(s), family, docID)
}

// SyncCompany implements emission.Provider.
func (g *Gateway) SyncCompany(ctx context.Context, s *integration.Settings) error {
	return g.client.SyncCompanyNFCe(ctx, CredentialsFor(s), s.CNPJEmitente, CompanySettingsFor(s))
}
