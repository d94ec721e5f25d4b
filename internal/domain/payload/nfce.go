// Package payload builds provider request documents from fiscal entries.
package payload

import "hotelfiscal/internal/core/types"

// NFCe is the NFC-e emission request.
type NFCe struct {
	Ambiente   string `json:"ambiente"`
	Referencia string `json:"referencia,omitempty"`
	InfNFe     InfNFe `json:"infNFe"`
}

// InfNFe is the invoice body.
type InfNFe struct {
	Versao     string      `json:"versao"`
	Ide        Ide         `json:"ide"`
	Emit       Emit        `json:"emit"`
	Dest       *Dest       `json:"dest,omitempty"`
	Det        []Det       `json:"det"`
	Total      Total       `json:"total"`
	Transp     Transp      `json:"transp"`
	Pag        Pag         `json:"pag"`
	InfRespTec *InfRespTec `json:"infRespTec,omitempty"`
}

// Ide identifies the document.
type Ide struct {
	CUF      int    `json:"cUF"`
	NatOp    string `json:"natOp"`
	Mod      int    `json:"mod"`
	Serie    int    `json:"serie"`
	NNF      int64  `json:"nNF"`
	DhEmi    string `json:"dhEmi"`
	TpNF     int    `json:"tpNF"`
	IdDest   int    `json:"idDest"`
	CMunFG   string `json:"cMunFG"`
	TpImp    int    `json:"tpImp"`
	TpEmis   int    `json:"tpEmis"`
	TpAmb    int    `json:"tpAmb"`
	FinNFe   int    `json:"finNFe"`
	IndFinal int    `json:"indFinal"`
	IndPres  int    `json:"indPres"`
	ProcEmi  int    `json:"procEmi"`
	VerProc  string `json:"verProc"`
}

// Emit is the emitter block.
type Emit struct {
	CNPJ      string    `json:"CNPJ"`
	IE        string    `json:"IE"`
	CRT       int       `json:"CRT"`
	EnderEmit EnderEmit `json:"enderEmit"`
}

// EnderEmit is the minimal emitter address.
type EnderEmit struct {
	UF   string `json:"UF"`
	CMun string `json:"cMun"`
}

// Dest is the optional consumer identification.
type Dest struct {
	CPF  string `json:"CPF,omitempty"`
	CNPJ string `json:"CNPJ,omitempty"`
}

// Det is one invoice line.
type Det struct {
	NItem   int     `json:"nItem"`
	Prod    Prod    `json:"prod"`
	Imposto Imposto `json:"imposto"`
}

// Prod describes the product of a line.
type Prod struct {
	CProd    string      `json:"cProd"`
	CEAN     string      `json:"cEAN"`
	XProd    string      `json:"xProd"`
	NCM      string      `json:"NCM"`
	CEST     string      `json:"CEST,omitempty"`
	CFOP     string      `json:"CFOP"`
	UCom     string      `json:"uCom"`
	QCom     types.Fixed `json:"qCom"`
	VUnCom   types.Fixed `json:"vUnCom"`
	VProd    types.Fixed `json:"vProd"`
	CEANTrib string      `json:"cEANTrib"`
	UTrib    string      `json:"uTrib"`
	QTrib    types.Fixed `json:"qTrib"`
	VUnTrib  types.Fixed `json:"vUnTrib"`
	IndTot   int         `json:"indTot"`
}

// Imposto holds the tax groups of a line.
type Imposto struct {
	ICMS   ICMS   `json:"ICMS"`
	PIS    PIS    `json:"PIS"`
	COFINS COFINS `json:"COFINS"`
}

// ICMS carries exactly one simplified-regime group.
type ICMS struct {
	ICMSSN102 *ICMSSN `json:"ICMSSN102,omitempty"`
	ICMSSN500 *ICMSSN `json:"ICMSSN500,omitempty"`
	ICMSSN900 *ICMSSN `json:"ICMSSN900,omitempty"`
}

// ICMSSN is the simplified-regime ICMS group.
type ICMSSN struct {
	Orig  int    `json:"orig"`
	CSOSN string `json:"CSOSN"`
}

// PIS carries one PIS group.
type PIS struct {
	PISOutr *PISOutr `json:"PISOutr,omitempty"`
	PISNT   *CSTOnly `json:"PISNT,omitempty"`
}

// PISOutr is the "other operations" PIS group with zero bases.
type PISOutr struct {
	CST  string      `json:"CST"`
	VBC  types.Fixed `json:"vBC"`
	PPIS types.Fixed `json:"pPIS"`
	VPIS types.Fixed `json:"vPIS"`
}

// COFINS carries one COFINS group.
type COFINS struct {
	COFINSOutr *COFINSOutr `json:"COFINSOutr,omitempty"`
	COFINSNT   *CSTOnly    `json:"COFINSNT,omitempty"`
}

// COFINSOutr is the "other operations" COFINS group with zero bases.
type COFINSOutr struct {
	CST     string      `json:"CST"`
	VBC     types.Fixed `json:"vBC"`
	PCOFINS types.Fixed `json:"pCOFINS"`
	VCOFINS types.Fixed `json:"vCOFINS"`
}

// CSTOnly is a non-taxed group.
type CSTOnly struct {
	CST string `json:"CST"`
}

// Total wraps ICMSTot.
type Total struct {
	ICMSTot ICMSTot `json:"ICMSTot"`
}

// ICMSTot are the invoice totals. Only vProd and vNF are non-zero here.
type ICMSTot struct {
	VBC        types.Fixed `json:"vBC"`
	VICMS      types.Fixed `json:"vICMS"`
	VICMSDeson types.Fixed `json:"vICMSDeson"`
	VFCP       types.Fixed `json:"vFCP"`
	VBCST      types.Fixed `json:"vBCST"`
	VST        types.Fixed `json:"vST"`
	VFCPST     types.Fixed `json:"vFCPST"`
	VFCPSTRet  types.Fixed `json:"vFCPSTRet"`
	VProd      types.Fixed `json:"vProd"`
	VFrete     types.Fixed `json:"vFrete"`
	VSeg       types.Fixed `json:"vSeg"`
	VDesc      types.Fixed `json:"vDesc"`
	VII        types.Fixed `json:"vII"`
	VIPI       types.Fixed `json:"vIPI"`
	VIPIDevol  types.Fixed `json:"vIPIDevol"`
	VPIS       types.Fixed `json:"vPIS"`
	VCOFINS    types.Fixed `json:"vCOFINS"`
	VOutro     types.Fixed `json:"vOutro"`
	VNF        types.Fixed `json:"vNF"`
}

// Transp is the freight block; NFC-e is always "no freight".
type Transp struct {
	ModFrete int `json:"modFrete"`
}

// Pag is the payment block.
type Pag struct {
	DetPag []DetPag    `json:"detPag"`
	VTroco types.Fixed `json:"vTroco"`
}

// DetPag is one payment line.
type DetPag struct {
	TPag string      `json:"tPag"`
	XPag string      `json:"xPag,omitempty"`
	VPag types.Fixed `json:"vPag"`
}

// InfRespTec identifies the software vendor.
type InfRespTec struct {
	CNPJ     string `json:"CNPJ"`
	XContato string `json:"xContato"`
	Email    string `json:"email"`
	Fone     string `json:"fone"`
}
