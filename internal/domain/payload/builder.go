package payload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/core/types"
	"hotelfiscal/internal/domain/catalog"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
)

// Defaults applied to lines without explicit tax codes.
const (
	DefaultCSOSN     = "102"
	DefaultOrigin    = 0
	DefaultPISCST    = "99"
	DefaultCOFINSCST = "99"

	// CFOPSimplifiedSale is the canonical sale code for simplified-regime goods.
	CFOPSimplifiedSale = "5102"
	// CFOPSubstitutionSale is the canonical sale code for goods under tax substitution.
	CFOPSubstitutionSale = "5405"
)

var (
	saleCFOPs         = map[string]bool{"5101": true, "5102": true, "5103": true, "5104": true}
	substitutionCFOPs = map[string]bool{"5405": true, "5656": true, "5667": true}
	nonTaxedCST       = map[string]bool{"04": true, "05": true, "06": true, "07": true, "08": true, "09": true}
)

// Builder converts entries into provider payloads.
type Builder struct {
	catalog catalog.Catalog
	verProc string
	now     func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the emission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithVersion sets verProc / verAplic.
func WithVersion(v string) Option {
	return func(b *Builder) { b.verProc = v }
}

// NewBuilder creates a Builder. c may be nil.
func NewBuilder(c catalog.Catalog, opts ...Option) *Builder {
	b := &Builder{catalog: c, verProc: "hotelfiscal 1.0", now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Effective returns the settings used to build e: live settings, overlaid
// with the entry snapshot when e is a legacy entry.
func Effective(e *fiscal.Entry, live integration.Settings, legacyCutoff int) integration.Settings {
	if !e.IsLegacy(legacyCutoff) {
		return live
	}
	snap := e.FiscalSnapshot
	if snap.Environment != "" {
		live.Environment = snap.Environment
	}
	if snap.SefazEnvironment != "" {
		live.SefazEnvironment = snap.SefazEnvironment
	}
	if snap.Series > 0 {
		live.Series = snap.Series
	}
	if snap.CRT != 0 {
		live.CRT = snap.CRT
	}
	if snap.IEEmitente != "" {
		live.IEEmitente = snap.IEEmitente
	}
	return live
}

// line is a validated, normalized item ready to be rendered.
type line struct {
	item   fiscal.LineItem
	csosn  string
	origin int
	cfop   string
}

// BuildNFCe produces the NFC-e request for e numbered as number.
func (b *Builder) BuildNFCe(ctx context.Context, e *fiscal.Entry, s *integration.Settings, number int64) (*NFCe, error) {
	if err := s.Validate(string(fiscal.DocNFCe)); err != nil {
		return nil, err
	}
	if len(e.Items) == 0 {
		return nil, apperror.NewValidation("entry has no items").WithDetail("id", e.ID)
	}

	lines := make([]line, 0, len(e.Items))
	for i, it := range e.Items {
		it = catalog.Enrich(ctx, b.catalog, it)
		l, err := validateGoods(i+1, it)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}

	var det []Det
	vProd := decimal.Zero
	for _, l := range lines {
		for _, unit := range splitPerUnit(l.item) {
			d := renderDet(len(det)+1, l, unit)
			det = append(det, d)
			vProd = vProd.Add(d.Prod.VProd.Value)
		}
	}

	tpAmb, ambiente := 2, "homologacao"
	if s.SefazProduction() {
		tpAmb, ambiente = 1, "producao"
	}

	method := e.PrimaryFiscalMethod()
	pay := DetPag{TPag: PaymentCode(method), VPag: types.Fixed2(vProd)}
	if pay.TPag == PayOther {
		pay.XPag = truncate(method, 60)
	}

	doc := &NFCe{
		Ambiente:   ambiente,
		Referencia: e.ID,
		InfNFe: InfNFe{
			Versao: "4.00",
			Ide: Ide{
				CUF:      s.CUF,
				NatOp:    "Venda ao Consumidor",
				Mod:      65,
				Serie:    s.Series,
				NNF:      number,
				DhEmi:    b.now().In(fiscal.Location).Format("2006-01-02T15:04:05-07:00"),
				TpNF:     1,
				IdDest:   1,
				CMunFG:   s.CityCode,
				TpImp:    4,
				TpEmis:   1,
				TpAmb:    tpAmb,
				FinNFe:   1,
				IndFinal: 1,
				IndPres:  1,
				ProcEmi:  0,
				VerProc:  b.verProc,
			},
			Emit: Emit{
				CNPJ:      s.CNPJEmitente,
				IE:        s.IEEmitente,
				CRT:       s.CRT,
				EnderEmit: EnderEmit{UF: s.UF, CMun: s.CityCode},
			},
			Dest:   destination(e.Customer),
			Det:    det,
			Total:  Total{ICMSTot: totals(vProd)},
			Transp: Transp{ModFrete: 9},
			Pag: Pag{
				DetPag: []DetPag{pay},
				VTroco: types.Fixed2(decimal.Zero),
			},
		},
	}
	if rt := s.RespTec; rt != nil && rt.CNPJ != "" {
		doc.InfNFe.InfRespTec = &InfRespTec{CNPJ: rt.CNPJ, XContato: rt.Contact, Email: rt.Email, Fone: rt.Phone}
	}
	return doc, nil
}

// VNF returns the invoice total.
func (n *NFCe) VNF() decimal.Decimal {
	return n.InfNFe.Total.ICMSTot.VNF.Value
}

func validateGoods(pos int, it fiscal.LineItem) (line, error) {
	if strings.TrimSpace(it.Name) == "" {
		return line{}, apperror.NewItemValidation(pos, "name missing")
	}
	if strings.TrimSpace(it.ID) == "" {
		return line{}, apperror.NewItemValidation(pos, "id missing")
	}
	if it.NCM == "" {
		return line{}, apperror.NewItemValidation(pos, "classification code missing")
	}
	if len(it.NCM) != 8 {
		return line{}, apperror.NewItemValidation(pos, "classification code must have 8 digits").WithDetail("ncm", it.NCM)
	}
	if it.CFOP == "" {
		return line{}, apperror.NewItemValidation(pos, "operation code missing")
	}
	if !it.Qty.IsPositive() {
		return line{}, apperror.NewItemValidation(pos, "quantity must be positive")
	}
	if it.Price.IsNegative() {
		return line{}, apperror.NewItemValidation(pos, "unit price must not be negative")
	}

	csosn := it.CSOSN
	if csosn == "" {
		csosn = DefaultCSOSN
	}
	var cfop string
	switch csosn {
	case "102", "103", "300", "400", "900":
		cfop = it.CFOP
		if !saleCFOPs[cfop] {
			cfop = CFOPSimplifiedSale
		}
	case "500":
		cfop = it.CFOP
		if !substitutionCFOPs[cfop] {
			cfop = CFOPSubstitutionSale
		}
	default:
		return line{}, apperror.NewItemValidation(pos, fmt.Sprintf("unsupported tax situation code %s", csosn)).WithDetail("csosn", csosn)
	}

	origin := DefaultOrigin
	if it.Origin != nil {
		if *it.Origin < 0 || *it.Origin > 8 {
			return line{}, apperror.NewItemValidation(pos, "origin code must be between 0 and 8")
		}
		origin = *it.Origin
	}
	return line{item: it, csosn: csosn, origin: origin, cfop: cfop}, nil
}

// splitPerUnit returns one quantity-1 copy per unit for integer quantities
// above one; other quantities are returned unchanged.
func splitPerUnit(it fiscal.LineItem) []fiscal.LineItem {
	if !types.IsInteger(it.Qty) || it.Qty.LessThanOrEqual(decimal.NewFromInt(1)) {
		return []fiscal.LineItem{it}
	}
	n := it.Qty.IntPart()
	out := make([]fiscal.LineItem, n)
	for i := range out {
		unit := it
		unit.Qty = decimal.NewFromInt(1)
		out[i] = unit
	}
	return out
}

func renderDet(n int, l line, it fiscal.LineItem) Det {
	price := types.Round2(it.Price)
	total := types.Round2(it.Qty.Mul(price))

	icms := ICMS{}
	group := &ICMSSN{Orig: l.origin, CSOSN: l.csosn}
	switch l.csosn {
	case "500":
		icms.ICMSSN500 = group
	case "900":
		icms.ICMSSN900 = group
	default:
		icms.ICMSSN102 = group
	}

	pisCST := firstNonEmpty(it.PISCST, DefaultPISCST)
	cofinsCST := firstNonEmpty(it.COFINSCST, DefaultCOFINSCST)
	zero := types.Fixed2(decimal.Zero)

	imposto := Imposto{ICMS: icms}
	if nonTaxedCST[pisCST] {
		imposto.PIS.PISNT = &CSTOnly{CST: pisCST}
	} else {
		imposto.PIS.PISOutr = &PISOutr{CST: pisCST, VBC: zero, PPIS: zero, VPIS: zero}
	}
	if nonTaxedCST[cofinsCST] {
		imposto.COFINS.COFINSNT = &CSTOnly{CST: cofinsCST}
	} else {
		imposto.COFINS.COFINSOutr = &COFINSOutr{CST: cofinsCST, VBC: zero, PCOFINS: zero, VCOFINS: zero}
	}

	return Det{
		NItem: n,
		Prod: Prod{
			CProd:    it.ID,
			CEAN:     "SEM GTIN",
			XProd:    truncate(it.Name, 120),
			NCM:      it.NCM,
			CEST:     it.CEST,
			CFOP:     l.cfop,
			UCom:     "UN",
			QCom:     types.Fixed4(it.Qty),
			VUnCom:   types.Fixed2(price),
			VProd:    types.Fixed2(total),
			CEANTrib: "SEM GTIN",
			UTrib:    "UN",
			QTrib:    types.Fixed4(it.Qty),
			VUnTrib:  types.Fixed2(price),
			IndTot:   1,
		},
		Imposto: imposto,
	}
}

func totals(vProd decimal.Decimal) ICMSTot {
	z := types.Fixed2(decimal.Zero)
	return ICMSTot{
		VBC: z, VICMS: z, VICMSDeson: z, VFCP: z, VBCST: z, VST: z, VFCPST: z, VFCPSTRet: z,
		VProd:  types.Fixed2(vProd),
		VFrete: z, VSeg: z, VDesc: z, VII: z, VIPI: z, VIPIDevol: z, VPIS: z, VCOFINS: z, VOutro: z,
		VNF: types.Fixed2(vProd),
	}
}

func destination(c *fiscal.Customer) *Dest {
	doc := c.Document()
	switch len(doc) {
	case 11:
		return &Dest{CPF: doc}
	case 14:
		return &Dest{CNPJ: doc}
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}
