package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hotelfiscal/internal/core/apperror"
)

// Scopes.
const (
	ScopeNFCe = "nfce"
	ScopeNFSe = "nfse"
)

// Document families, used as path prefixes.
const (
	KindNFCe = "nfce"
	KindNFSe = "nfse"
)

const (
	maxProviderErrors = 5
	maxErrorLen       = 200
)

// authorizedStatuses are the only verdicts accepted as authorization.
var authorizedStatuses = map[string]bool{
	"authorized": true,
	"autorizada": true,
	"autorizado": true,
	"aprovada":   true,
}

// Result is the provider verdict for a submitted document.
type Result struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	AccessKey string          `json:"access_key,omitempty"`
	Serie     int             `json:"serie,omitempty"`
	Number    int64           `json:"number,omitempty"`
	Message   string          `json:"message,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// Authorized reports whether the verdict is an explicit authorization.
func (r *Result) Authorized() bool {
	return r != nil && authorizedStatuses[strings.ToLower(strings.TrimSpace(r.Status))]
}

// flexInt accepts numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	*f = flexInt(n)
	return nil
}

type docResponse struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"`
	Chave            string  `json:"chave"`
	Serie            flexInt `json:"serie"`
	Numero           flexInt `json:"numero"`
	NumeroSequencial flexInt `json:"numero_sequencial"`
	Autorizacao      *struct {
		Status       string `json:"status"`
		CodigoStatus int    `json:"codigo_status"`
		MotivoStatus string `json:"motivo_status"`
		ChaveAcesso  string `json:"chave_acesso"`
	} `json:"autorizacao"`
	Mensagens []struct {
		Codigo    string `json:"codigo"`
		Descricao string `json:"descricao"`
		Correcao  string `json:"correcao"`
	} `json:"mensagens"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// SubmitNFCe posts an NFC-e. A non-authorized verdict returns the parsed
// result together with a ProviderRejection error.
func (c *Client) SubmitNFCe(ctx context.Context, creds Credentials, payload any) (*Result, error) {
	return c.submit(ctx, creds, ScopeNFCe, "/nfce", payload)
}

// SubmitNFSe posts a DPS for service invoicing.
func (c *Client) SubmitNFSe(ctx context.Context, creds Credentials, payload any) (*Result, error) {
	return c.submit(ctx, creds, ScopeNFSe, "/nfse/dps", payload)
}

func (c *Client) submit(ctx context.Context, creds Credentials, scope, path string, payload any) (*Result, error) {
	resp, err := c.do(ctx, creds, scope, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	if resp.status < 200 || resp.status >= 300 {
		return nil, classify(resp)
	}

	var dr docResponse
	if err := json.Unmarshal(resp.body, &dr); err != nil {
		return nil, apperror.NewTransport("malformed provider response", err)
	}
	res := &Result{
		ID:        dr.ID,
		Status:    dr.Status,
		AccessKey: dr.Chave,
		Serie:     int(dr.Serie),
		Number:    int64(dr.Numero),
		Raw:       json.RawMessage(resp.body),
	}
	if res.Number == 0 {
		res.Number = int64(dr.NumeroSequencial)
	}
	if a := dr.Autorizacao; a != nil {
		res.Message = a.MotivoStatus
		if res.AccessKey == "" {
			res.AccessKey = a.ChaveAcesso
		}
		if !res.Authorized() && authorizedStatuses[strings.ToLower(a.Status)] {
			res.Status = a.Status
		}
	}
	if res.Authorized() {
		return res, nil
	}

	var details []string
	if res.Message != "" {
		details = append(details, res.Message)
	}
	for _, m := range dr.Mensagens {
		details = append(details, strings.TrimSpace(m.Codigo+" "+m.Descricao))
	}
	rej := apperror.NewProviderRejection(fmt.Sprintf("document not authorized (status %s)", statusOrUnknown(res.Status)), truncateList(details)).
		WithDetail("doc_id", res.ID)
	return res, rej
}

// FetchXML downloads the authorized XML, polling until it materializes.
func (c *Client) FetchXML(ctx context.Context, creds Credentials, kind, docID string) ([]byte, error) {
	return c.fetchArtifact(ctx, creds, kind, docID, "xml")
}

// FetchPDF downloads the DANFE/DANFSE PDF, polling until it materializes.
func (c *Client) FetchPDF(ctx context.Context, creds Credentials, kind, docID string) ([]byte, error) {
	return c.fetchArtifact(ctx, creds, kind, docID, "pdf")
}

func (c *Client) fetchArtifact(ctx context.Context, creds Credentials, kind, docID, artifact string) ([]byte, error) {
	if docID == "" {
		return nil, apperror.NewValidation("document id is required")
	}
	scope := ScopeNFCe
	if kind == KindNFSe {
		scope = ScopeNFSe
	}
	path := fmt.Sprintf("/%s/%s/%s", kind, docID, artifact)

	for attempt := 1; attempt <= c.cfg.PollAttempts; attempt++ {
		resp, err := c.do(ctx, creds, scope, http.MethodGet, path, nil)
		switch {
		case err != nil && !apperror.IsTransient(err):
			return nil, err
		case err == nil && resp.status == http.StatusOK && len(bytes.TrimSpace(resp.body)) > 0:
			return resp.body, nil
		case err == nil && (resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden):
			return nil, classify(resp)
		case err == nil && resp.status >= 400 && resp.status < 500 && resp.status != http.StatusNotFound &&
			resp.status != http.StatusConflict && resp.status != http.StatusTooManyRequests:
			return nil, classify(resp)
		}

		if attempt == c.cfg.PollAttempts {
			break
		}
		c.log.Debugw("artifact not ready", "doc_id", docID, "artifact", artifact, "attempt", attempt)
		if err := sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, apperror.NewTransport("artifact polling cancelled", err)
		}
	}
	return nil, apperror.NewArtifactUnavailable(strings.ToUpper(artifact), docID)
}

// CompanyNFCeSettings is the provider-side NFC-e configuration of an emitter.
type CompanyNFCeSettings struct {
	Ambiente string    `json:"ambiente"`
	CRT      int       `json:"CRT"`
	Sefaz    *SefazCSC `json:"sefaz,omitempty"`
}

// SefazCSC is the consumer security code used in the NFC-e QR code.
type SefazCSC struct {
	IDCSC int    `json:"id_csc"`
	CSC   string `json:"csc"`
}

// SyncCompanyNFCe pushes the NFC-e settings of cnpj to the provider.
func (c *Client) SyncCompanyNFCe(ctx context.Context, creds Credentials, cnpj string, settings CompanyNFCeSettings) error {
	resp, err := c.do(ctx, creds, ScopeNFCe, http.MethodPut, "/empresas/"+cnpj+"/nfce", settings)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		return classify(resp)
	}
	return nil
}

// classify converts a non-2xx response to a typed error.
func classify(resp *response) error {
	var er errorResponse
	_ = json.Unmarshal(resp.body, &er)

	msg := er.Error.Message
	if msg == "" {
		msg = er.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(string(resp.body))
	}
	msg = truncate(msg, maxErrorLen)

	switch {
	case resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden:
		return apperror.NewProviderAuth(fmt.Sprintf("provider denied access (%d)", resp.status), nil).
			WithDetail("status", resp.status)
	case resp.status == http.StatusTooManyRequests:
		e := apperror.NewRateLimited("provider rate limit exceeded")
		if ra := resp.header.Get("Retry-After"); ra != "" {
			e.WithDetail("retry_after", ra)
		}
		return e
	case resp.status >= 500:
		return apperror.NewTransport(fmt.Sprintf("provider error %d", resp.status), nil).
			WithDetail("status", resp.status)
	}

	details := make([]string, 0, len(er.Error.Errors))
	for _, e := range er.Error.Errors {
		details = append(details, strings.TrimSpace(e.Code+" "+e.Message))
	}
	if msg == "" {
		msg = http.StatusText(resp.status)
	}
	return apperror.NewProviderRejection(msg, truncateList(details)).WithDetail("status", resp.status)
}

func truncateList(list []string) []string {
	if len(list) > maxProviderErrors {
		list = list[:maxProviderErrors]
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, truncate(s, maxErrorLen))
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func statusOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
