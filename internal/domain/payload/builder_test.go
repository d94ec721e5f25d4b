package payload

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotelfiscal/internal/core/apperror"
	"hotelfiscal/internal/core/types"
	"hotelfiscal/internal/domain/catalog"
	"hotelfiscal/internal/domain/fiscal"
	"hotelfiscal/internal/domain/integration"
)

var fixedNow = time.Date(2026, 2, 10, 15, 4, 5, 0, time.UTC)

func testSettings() *integration.Settings {
	s := integration.Settings{
		ClientID:         "client",
		ClientSecret:     "secret",
		CNPJEmitente:     "12345678000199",
		IEEmitente:       "123456789",
		IMEmitente:       "4455",
		CRT:              1,
		Environment:      integration.EnvHomologation,
		SefazEnvironment: integration.EnvProduction,
		Series:           2,
		RespTec:          &integration.ResponsibleTech{CNPJ: "28952732000109", Contact: "Suporte", Email: "s@x.com", Phone: "8100000000"},
	}
	s.Normalize()
	return &s
}

func goods(id, name, qty, price string) fiscal.LineItem {
	return fiscal.LineItem{
		ID: id, Name: name, Qty: types.MustMoney(qty), Price: types.MustMoney(price),
		NCM: "21069090", CFOP: "5102",
	}
}

func s1Entry() *fiscal.Entry {
	return &fiscal.Entry{
		ID:           "entry-1",
		Origin:       fiscal.OriginRestaurant,
		CNPJEmitente: "12345678000199",
		TotalAmount:  types.MustMoney("20"),
		FiscalAmount: types.MustMoney("20"),
		Items: []fiscal.LineItem{
			goods("1", "Coca", "2", "5"),
			goods("2", "Coxinha", "1", "10"),
		},
		PaymentMethods: []fiscal.PaymentMethod{
			{Method: "Dinheiro", Amount: types.MustMoney("20"), IsFiscal: true},
		},
	}
}

func newTestBuilder(c catalog.Catalog) *Builder {
	return NewBuilder(c, WithClock(func() time.Time { return fixedNow }), WithVersion("test 1.0"))
}

func TestBuildNFCe_SingleEmitterSplitsUnits(t *testing.T) {
	doc, err := newTestBuilder(nil).BuildNFCe(context.Background(), s1Entry(), testSettings(), 41)
	require.NoError(t, err)

	inf := doc.InfNFe
	require.Len(t, inf.Det, 3)
	for i, d := range inf.Det {
		assert.Equal(t, i+1, d.NItem)
		assert.Equal(t, "1.0000", d.Prod.QCom.String())
	}
	assert.Equal(t, "Coca", inf.Det[0].Prod.XProd)
	assert.Equal(t, "Coca", inf.Det[1].Prod.XProd)
	assert.Equal(t, "Coxinha", inf.Det[2].Prod.XProd)
	assert.Equal(t, "10.00", inf.Det[2].Prod.VProd.String())

	assert.Equal(t, "20.00", inf.Total.ICMSTot.VNF.String())
	assert.Equal(t, "20.00", inf.Total.ICMSTot.VProd.String())
	require.Len(t, inf.Pag.DetPag, 1)
	assert.Equal(t, PayCash, inf.Pag.DetPag[0].TPag)
	assert.Equal(t, "20.00", inf.Pag.DetPag[0].VPag.String())
	assert.Equal(t, "0.00", inf.Pag.VTroco.String())

	assert.Equal(t, int64(41), inf.Ide.NNF)
	assert.Equal(t, 2, inf.Ide.Serie)
	assert.Equal(t, 65, inf.Ide.Mod)
	assert.Equal(t, "2026-02-10T12:04:05-03:00", inf.Ide.DhEmi)
	assert.Equal(t, "test 1.0", inf.Ide.VerProc)
	assert.Equal(t, "producao", doc.Ambiente, "sefaz environment drives the payload")
	assert.Equal(t, 1, inf.Ide.TpAmb)
	require.NotNil(t, inf.InfRespTec)
	assert.Nil(t, inf.Dest)
}

func TestBuildNFCe_JSONShape(t *testing.T) {
	doc, err := newTestBuilder(nil).BuildNFCe(context.Background(), s1Entry(), testSettings(), 1)
	require.NoError(t, err)

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	body := string(b)
	assert.Contains(t, body, `"vNF":20.00`)
	assert.Contains(t, body, `"vPag":20.00`)
	assert.Contains(t, body, `"vTroco":0.00`)
	assert.Contains(t, body, `"ICMSSN102":{"orig":0,"CSOSN":"102"}`)
	assert.Contains(t, body, `"PISOutr":{"CST":"99","vBC":0.00,"pPIS":0.00,"vPIS":0.00}`)
	assert.NotContains(t, body, "ICMSSN500")
}

func TestBuildNFCe_MissingClassification(t *testing.T) {
	e := s1Entry()
	e.Items = []fiscal.LineItem{{ID: "1", Name: "Coca", Qty: types.MustMoney("1"), Price: types.MustMoney("5"), CFOP: "5102"}}

	_, err := newTestBuilder(nil).BuildNFCe(context.Background(), e, testSettings(), 1)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeItemValidation))
	assert.Equal(t, "ItemValidation: Item 1: classification code missing", apperror.Describe(err))
}

func TestBuildNFCe_ItemValidation(t *testing.T) {
	tests := []struct {
		name string
		item fiscal.LineItem
		want string
	}{
		{"no name", goods("1", "", "1", "5"), "name missing"},
		{"no id", goods("", "Coca", "1", "5"), "id missing"},
		{"zero qty", goods("1", "Coca", "0", "5"), "quantity must be positive"},
		{"negative price", goods("1", "Coca", "1", "-1"), "unit price must not be negative"},
		{"short ncm", func() fiscal.LineItem { it := goods("1", "Coca", "1", "5"); it.NCM = "2106"; return it }(), "classification code must have 8 digits"},
		{"no cfop", func() fiscal.LineItem { it := goods("1", "Coca", "1", "5"); it.CFOP = ""; return it }(), "operation code missing"},
		{"csosn 101", func() fiscal.LineItem { it := goods("1", "Coca", "1", "5"); it.CSOSN = "101"; return it }(), "unsupported tax situation code 101"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := s1Entry()
			e.Items = []fiscal.LineItem{goods("9", "Agua", "1", "3"), tt.item}
			_, err := newTestBuilder(nil).BuildNFCe(context.Background(), e, testSettings(), 1)
			require.Error(t, err)
			appErr, ok := apperror.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperror.CodeItemValidation, appErr.Code)
			assert.Equal(t, "Item 2: "+tt.want, appErr.Message)
		})
	}
}

func TestBuildNFCe_ConfigIncomplete(t *testing.T) {
	s := testSettings()
	s.IEEmitente = ""
	_, err := newTestBuilder(nil).BuildNFCe(context.Background(), s1Entry(), s, 1)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeConfigIncomplete))

	s = testSettings()
	s.CRT = 3
	_, err = newTestBuilder(nil).BuildNFCe(context.Background(), s1Entry(), s, 1)
	assert.True(t, apperror.HasCode(err, apperror.CodeConfigIncomplete))
}

func TestBuildNFCe_FractionalQuantityStaysOneLine(t *testing.T) {
	e := s1Entry()
	e.Items = []fiscal.LineItem{goods("7", "Picanha kg", "0.350", "89.90")}

	doc, err := newTestBuilder(nil).BuildNFCe(context.Background(), e, testSettings(), 1)
	require.NoError(t, err)
	require.Len(t, doc.InfNFe.Det, 1)
	assert.Equal(t, "0.3500", doc.InfNFe.Det[0].Prod.QCom.String())
	assert.Equal(t, "31.47", doc.InfNFe.Det[0].Prod.VProd.String()) // 31.465 half-up
	assert.Equal(t, "31.47", doc.InfNFe.Pag.DetPag[0].VPag.String())
}

func TestBuildNFCe_CFOPConsistency(t *testing.T) {
	tests := []struct {
		csosn, cfop, wantCFOP, wantGroup string
	}{
		{"102", "5405", "5102", "102"},
		{"102", "5101", "5101", "102"},
		{"500", "5102", "5405", "500"},
		{"500", "5656", "5656", "500"},
		{"900", "5929", "5102", "900"},
		{"", "5933", "5102", "102"},
	}
	for _, tt := range tests {
		e := s1Entry()
		it := goods("1", "Cerveja", "1", "8")
		it.CSOSN, it.CFOP = tt.csosn, tt.cfop
		e.Items = []fiscal.LineItem{it}

		doc, err := newTestBuilder(nil).BuildNFCe(context.Background(), e, testSettings(), 1)
		require.NoError(t, err)
		det := doc.InfNFe.Det[0]
		assert.Equal(t, tt.wantCFOP, det.Prod.CFOP, "csosn %s cfop %s", tt.csosn, tt.cfop)
		switch tt.wantGroup {
		case "500":
			assert.NotNil(t, det.Imposto.ICMS.ICMSSN500)
		case "900":
			assert.NotNil(t, det.Imposto.ICMS.ICMSSN900)
		default:
			assert.NotNil(t, det.Imposto.ICMS.ICMSSN102)
		}
	}
}

func TestBuildNFCe_EnrichesFromCatalog(t *testing.T) {
	origin := 1
	idx := catalog.NewIndex([]catalog.Product{{ID: "1", Name: "Coca", NCM: "22021000", CFOP: "5405", CSOSN: "500", Origin: &origin, PISCST: "04"}})
	e := s1Entry()
	e.Items = []fiscal.LineItem{{ID: "1", Name: "Coca", Qty: types.MustMoney("1"), Price: types.MustMoney("6")}}

	doc, err := newTestBuilder(idx).BuildNFCe(context.Background(), e, testSettings(), 1)
	require.NoError(t, err)
	det := doc.InfNFe.Det[0]
	assert.Equal(t, "22021000", det.Prod.NCM)
	assert.Equal(t, "5405", det.Prod.CFOP)
	require.NotNil(t, det.Imposto.ICMS.ICMSSN500)
	assert.Equal(t, 1, det.Imposto.ICMS.ICMSSN500.Orig)
	require.NotNil(t, det.Imposto.PIS.PISNT)
	assert.Equal(t, "04", det.Imposto.PIS.PISNT.CST)
}

func TestBuildNFCe_DestinationAndPayment(t *testing.T) {
	e := s1Entry()
	e.Customer = &fiscal.Customer{CPFCNPJ: "123.456.789-01"}
	e.PaymentMethods = []fiscal.PaymentMethod{
		{Method: "Vale Refeição", Amount: types.MustMoney("15"), IsFiscal: true},
		{Method: "Gorjeta", Amount: types.MustMoney("5"), IsFiscal: false},
	}

	doc, err := newTestBuilder(nil).BuildNFCe(context.Background(), e, testSettings(), 1)
	require.NoError(t, err)
	require.NotNil(t, doc.InfNFe.Dest)
	assert.Equal(t, "12345678901", doc.InfNFe.Dest.CPF)
	assert.Equal(t, PayOther, doc.InfNFe.Pag.DetPag[0].TPag)
	assert.Equal(t, "Vale Refeição", doc.InfNFe.Pag.DetPag[0].XPag)
	assert.Equal(t, "20.00", doc.InfNFe.Pag.DetPag[0].VPag.String(), "vPag follows item totals")

	e.Customer = &fiscal.Customer{CPFCNPJ: "12.345.678/0001-99"}
	doc, err = newTestBuilder(nil).BuildNFCe(context.Background(), e, testSettings(), 1)
	require.NoError(t, err)
	assert.Equal(t, "12345678000199", doc.InfNFe.Dest.CNPJ)
}

func TestPaymentCode(t *testing.T) {
	tests := map[string]string{
		"Dinheiro":          PayCash,
		"Cartão de Crédito": PayCredit,
		"Credito":           PayCredit,
		"Credito Pagseguro": PayCredit,
		"Cartão de Débito":  PayDebit,
		"Debito":            PayDebit,
		"Pix":               PayPix,
		"Transferência":     PayOther,
		"":                  PayOther,
	}
	for in, want := range tests {
		if got := PaymentCode(in); got != want {
			t.Errorf("PaymentCode(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestEffective_LegacyUsesSnapshot(t *testing.T) {
	live := *testSettings()
	e := s1Entry()
	e.SchemaVersion = 1
	e.FiscalSnapshot = &fiscal.Snapshot{Environment: "production", SefazEnvironment: "homologation", Series: 7, CRT: 2, IEEmitente: "999"}

	got := Effective(e, live, 2)
	assert.Equal(t, 7, got.Series)
	assert.Equal(t, 2, got.CRT)
	assert.Equal(t, "999", got.IEEmitente)
	assert.Equal(t, "homologation", got.SefazEnvironment)
	assert.Equal(t, live.ClientID, got.ClientID)

	e.SchemaVersion = fiscal.SchemaVersion
	assert.Equal(t, live, Effective(e, live, 2))
}

func TestBuildNFSe(t *testing.T) {
	e := &fiscal.Entry{
		ID:           "entry-9",
		Origin:       fiscal.OriginDailyRates,
		FiscalType:   fiscal.DocNFSe,
		CNPJEmitente: "12345678000199",
		TotalAmount:  types.MustMoney("450"),
		Items: []fiscal.LineItem{
			{ID: "d1", Name: "Diária Suite", Qty: types.MustMoney("3"), Price: types.MustMoney("150"), IsService: true},
		},
		Customer: &fiscal.Customer{CPFCNPJ: "12345678901", GuestName: "Maria"},
	}
	s := testSettings()
	s.NFSeSeries = 5

	doc, err := newTestBuilder(nil).BuildNFSe(context.Background(), e, s, 12)
	require.NoError(t, err)
	assert.Equal(t, "450.00", doc.InfDPS.Valores.VServPrest.VServ.String())
	assert.Equal(t, "12", doc.InfDPS.NDPS)
	assert.Equal(t, "5", doc.InfDPS.Serie)
	assert.Equal(t, "12345678901", doc.InfDPS.Toma.CPF)
	assert.Equal(t, "Maria", doc.InfDPS.Toma.XNome)
	assert.Equal(t, DefaultServiceCode, doc.InfDPS.Serv.CServ.CTribNac)
	assert.Equal(t, "2026-02-10", doc.InfDPS.DCompet)

	e.Customer = nil
	_, err = newTestBuilder(nil).BuildNFSe(context.Background(), e, s, 12)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}
