// Package integration provides per-emitter provider settings (the ConfigRegistry).
package integration

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/core/numerator"
)

// ProviderNuvemFiscal is the only supported provider.
const ProviderNuvemFiscal = "nuvem_fiscal"

// Environments.
const (
	EnvProduction   = "production"
	EnvHomologation = "homologation"
)

// ResponsibleTech is the infRespTec block of NFC-e payloads.
type ResponsibleTech struct {
	CNPJ    string `json:"cnpj"`
	Contact string `json:"contact"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

// Settings is one emitter's integration configuration.
type Settings struct {
	Provider     string `json:"provider"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CNPJEmitente string `json:"cnpj_emitente"`
	IEEmitente   string `json:"ie_emitente"`
	IMEmitente   string `json:"im_emitente,omitempty"`
	CRT          int    `json:"crt"`

	// Environment selects the provider API (sandbox or production).
	Environment string `json:"environment"`
	// SefazEnvironment selects the tax authority environment in the payload.
	SefazEnvironment string `json:"sefaz_environment"`

	Series     int   `json:"serie"`
	NextNumber int64 `json:"next_number"`

	NFSeSeries     int   `json:"nfse_series,omitempty"`
	NFSeNextNumber int64 `json:"nfse_next_number,omitempty"`

	CSCID    string `json:"csc_id,omitempty"`
	CSCToken string `json:"csc_token,omitempty"`

	UF       string `json:"uf,omitempty"`
	CUF      int    `json:"cuf,omitempty"`
	CityCode string `json:"city_code,omitempty"`

	// NFS-e defaults.
	ServiceCode string           `json:"service_code,omitempty"`
	ISSRate     *decimal.Decimal `json:"iss_rate,omitempty"`

	RespTec *ResponsibleTech `json:"resp_tec,omitempty"`
}

// Defaults for a Pernambuco emitter.
const (
	DefaultUF       = "PE"
	DefaultCUF      = 26
	DefaultCityCode = "2614857"
)

// Normalize fills defaults and sanitizes identifiers.
func (s *Settings) Normalize() {
	s.CNPJEmitente = digits(s.CNPJEmitente)
	s.IEEmitente = digits(s.IEEmitente)
	if s.Provider == "" {
		s.Provider = ProviderNuvemFiscal
	}
	if s.Environment == "" {
		s.Environment = EnvHomologation
	}
	if s.SefazEnvironment == "" {
		s.SefazEnvironment = s.Environment
	}
	if s.Series <= 0 {
		s.Series = 1
	}
	if s.NextNumber <= 0 {
		s.NextNumber = 1
	}
	if s.NFSeSeries <= 0 {
		s.NFSeSeries = 1
	}
	if s.NFSeNextNumber <= 0 {
		s.NFSeNextNumber = 1
	}
	if s.UF == "" {
		s.UF = DefaultUF
	}
	if s.CUF == 0 {
		s.CUF = DefaultCUF
	}
	if s.CityCode == "" {
		s.CityCode = DefaultCityCode
	}
}

// Validate checks the mandatory fields for emitting docType documents.
func (s *Settings) Validate(docType string) error {
	var missing []string
	if s.Provider != ProviderNuvemFiscal {
		return apperror.NewConfigIncomplete("unsupported provider " + s.Provider)
	}
	if s.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if s.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if len(digits(s.CNPJEmitente)) != 14 {
		missing = append(missing, "cnpj_emitente")
	}
	if docType == "nfse" {
		if s.IMEmitente == "" {
			missing = append(missing, "im_emitente")
		}
	} else if s.IEEmitente == "" {
		missing = append(missing, "ie_emitente")
	}
	if len(missing) > 0 {
		return apperror.NewConfigIncomplete("missing "+strings.Join(missing, ", ")).
			WithDetail("fields", missing).
			WithDetail("cnpj", s.CNPJEmitente)
	}
	if s.CRT != 1 && s.CRT != 2 {
		return apperror.NewConfigIncomplete("CRT must be 1 or 2").WithDetail("crt", s.CRT)
	}
	if !validEnv(s.Environment) || !validEnv(s.SefazEnvironment) {
		return apperror.NewConfigIncomplete("environment must be production or homologation")
	}
	return nil
}

// Production reports whether the provider production API is used.
func (s *Settings) Production() bool { return s.Environment == EnvProduction }

// SefazProduction reports whether documents are issued with legal effect.
func (s *Settings) SefazProduction() bool { return s.SefazEnvironment == EnvProduction }

// SequenceKey returns the numbering key of docType for this emitter.
func (s *Settings) SequenceKey(docType string) numerator.Key {
	if docType == "nfse" {
		return numerator.Key{CNPJ: s.CNPJEmitente, Model: numerator.ModelNFSe, Series: s.NFSeSeries}
	}
	return numerator.Key{CNPJ: s.CNPJEmitente, Model: numerator.ModelNFCe, Series: s.Series}
}

// NextFor returns the configured next number of the sequence identified by key.
func (s *Settings) NextFor(key numerator.Key) int64 {
	if key.Model == numerator.ModelNFSe {
		return s.NFSeNextNumber
	}
	return s.NextNumber
}

const redactedSecret = "********"

// Redacted returns a copy without secrets, for API responses.
func (s Settings) Redacted() Settings {
	if s.ClientSecret != "" {
		s.ClientSecret = redactedSecret
	}
	if s.CSCToken != "" {
		s.CSCToken = redactedSecret
	}
	return s
}

// Registry is the ConfigRegistry contract.
type Registry interface {
	// Get returns the settings of cnpj or NotFound.
	Get(ctx context.Context, cnpj string) (*Settings, error)

	// List returns every configured emitter.
	List(ctx context.Context) ([]Settings, error)

	// Save inserts or replaces the settings keyed by cnpj_emitente.
	Save(ctx context.Context, s Settings) error
}

func validEnv(env string) bool {
	return env == EnvProduction || env == EnvHomologation
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// KeepSecrets restores secrets that a client echoed back in redacted form.
func (s *Settings) KeepSecrets(current Settings) {
	if s.ClientSecret == redactedSecret {
		s.ClientSecret = current.ClientSecret
	}
	if s.CSCToken == redactedSecret {
		s.CSCToken = current.CSCToken
	}
}
