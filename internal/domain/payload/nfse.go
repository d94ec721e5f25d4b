package payload

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/core/types"
	"hotelfiscal/internal/domain/catalog"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
)

// DefaultServiceCode is the national code for lodging services (09.01.01).
const DefaultServiceCode = "090101"

// NFSe is the DPS (service invoice declaration) request.
type NFSe struct {
	Provedor   string `json:"provedor"`
	Ambiente   string `json:"ambiente"`
	Referencia string `json:"referencia,omitempty"`
	InfDPS     InfDPS `json:"infDPS"`
}

// InfDPS is the declaration body.
type InfDPS struct {
	TpAmb    int     `json:"tpAmb"`
	DhEmi    string  `json:"dhEmi"`
	VerAplic string  `json:"verAplic"`
	Serie    string  `json:"serie"`
	NDPS     string  `json:"nDPS"`
	DCompet  string  `json:"dCompet"`
	TpEmit   int     `json:"tpEmit"`
	CLocEmi  string  `json:"cLocEmi"`
	Prest    Prest   `json:"prest"`
	Toma     Toma    `json:"toma"`
	Serv     Serv    `json:"serv"`
	Valores  Valores `json:"valores"`
}

// Prest is the service provider.
type Prest struct {
	CNPJ    string  `json:"CNPJ"`
	IM      string  `json:"IM,omitempty"`
	RegTrib RegTrib `json:"regTrib"`
}

// RegTrib is the provider tax regime.
type RegTrib struct {
	OpSimpNac  int `json:"opSimpNac"`
	RegEspTrib int `json:"regEspTrib"`
}

// Toma is the service taker.
type Toma struct {
	CPF   string `json:"CPF,omitempty"`
	CNPJ  string `json:"CNPJ,omitempty"`
	XNome string `json:"xNome,omitempty"`
}

// Serv describes the service.
type Serv struct {
	LocPrest LocPrest `json:"locPrest"`
	CServ    CServ    `json:"cServ"`
}

// LocPrest is where the service was provided.
type LocPrest struct {
	CLocPrestacao string `json:"cLocPrestacao"`
}

// CServ is the service classification.
type CServ struct {
	CTribNac  string `json:"cTribNac"`
	XDescServ string `json:"xDescServ"`
}

// Valores holds the service value and municipal tax.
type Valores struct {
	VServPrest VServPrest `json:"vServPrest"`
	Trib       Trib       `json:"trib"`
}

// VServPrest is the service amount.
type VServPrest struct {
	VServ types.Fixed `json:"vServ"`
}

// Trib is the tax block.
type Trib struct {
	TribMun TribMun `json:"tribMun"`
	TotTrib TotTrib `json:"totTrib"`
}

// TribMun is the ISSQN block.
type TribMun struct {
	TribISSQN  int          `json:"tribISSQN"`
	PAliq      *types.Fixed `json:"pAliq,omitempty"`
	TpRetISSQN int          `json:"tpRetISSQN"`
}

// TotTrib is the approximate tax burden indicator.
type TotTrib struct {
	IndTotTrib int `json:"indTotTrib"`
}

// VServ returns the service value.
func (n *NFSe) VServ() decimal.Decimal {
	return n.InfDPS.Valores.VServPrest.VServ.Value
}

// BuildNFSe produces the DPS for a service entry numbered as number.
// The taker (customer CPF/CNPJ) is mandatory.
func (b *Builder) BuildNFSe(ctx context.Context, e *fiscal.Entry, s *integration.Settings, number int64) (*NFSe, error) {
	if err := s.Validate(string(fiscal.DocNFSe)); err != nil {
		return nil, err
	}
	if len(e.Items) == 0 {
		return nil, apperror.NewValidation("entry has no items").WithDetail("id", e.ID)
	}

	toma := Toma{}
	switch doc := e.Customer.Document(); len(doc) {
	case 11:
		toma.CPF = doc
	case 14:
		toma.CNPJ = doc
	default:
		return nil, apperror.NewValidation("service invoice requires customer CPF or CNPJ").WithDetail("id", e.ID)
	}
	if e.Customer != nil {
		toma.XNome = truncate(firstNonEmpty(e.Customer.Name, e.Customer.GuestName), 150)
	}

	total := decimal.Zero
	serviceCode := ""
	descr := make([]string, 0, len(e.Items))
	for i, it := range e.Items {
		it = catalog.Enrich(ctx, b.catalog, it)
		pos := i + 1
		if strings.TrimSpace(it.Name) == "" {
			return nil, apperror.NewItemValidation(pos, "name missing")
		}
		if strings.TrimSpace(it.ID) == "" {
			return nil, apperror.NewItemValidation(pos, "id missing")
		}
		if !it.Qty.IsPositive() {
			return nil, apperror.NewItemValidation(pos, "quantity must be positive")
		}
		if it.Price.IsNegative() {
			return nil, apperror.NewItemValidation(pos, "unit price must not be negative")
		}
		if serviceCode == "" {
			serviceCode = it.ServiceCode
		}
		total = total.Add(types.Round2(it.Qty.Mul(types.Round2(it.Price))))
		descr = append(descr, it.Name+" x"+it.Qty.String())
	}
	serviceCode = firstNonEmpty(firstNonEmpty(serviceCode, fiscal.Digits(s.ServiceCode)), DefaultServiceCode)

	tpAmb, ambiente := 2, "homologacao"
	if s.SefazProduction() {
		tpAmb, ambiente = 1, "producao"
	}
	now := b.now().In(fiscal.Location)

	tribMun := TribMun{TribISSQN: 1, TpRetISSQN: 1}
	if s.ISSRate != nil {
		rate := types.Fixed2(*s.ISSRate)
		tribMun.PAliq = &rate
	}

	return &NFSe{
		Provedor:   "padrao",
		Ambiente:   ambiente,
		Referencia: e.ID,
		InfDPS: InfDPS{
			TpAmb:    tpAmb,
			DhEmi:    now.Format("2006-01-02T15:04:05-07:00"),
			VerAplic: b.verProc,
			Serie:    strconv.Itoa(s.NFSeSeries),
			NDPS:     strconv.FormatInt(number, 10),
			DCompet:  now.Format("2006-01-02"),
			TpEmit:   1,
			CLocEmi:  s.CityCode,
			Prest: Prest{
				CNPJ:    s.CNPJEmitente,
				IM:      s.IMEmitente,
				RegTrib: RegTrib{OpSimpNac: 3, RegEspTrib: 0},
			},
			Toma: toma,
			Serv: Serv{
				LocPrest: LocPrest{CLocPrestacao: s.CityCode},
				CServ: CServ{
					CTribNac:  serviceCode,
					XDescServ: truncate(strings.Join(descr, "; "), 2000),
				},
			},
			Valores: Valores{
				VServPrest: VServPrest{VServ: types.Fixed2(total)},
				Trib:       Trib{TribMun: tribMun, TotTrib: TotTrib{IndTotTrib: 0}},
			},
		},
	}, nil
}
