package payload

import (
	"strings"

	"hotelfiscal/internal/domain/catalog"
)

// Payment codes (tPag).
const (
	PayCash   = "01"
	PayCredit = "03"
	PayDebit  = "04"
	PayPix    = "17"
	PayOther  = "99"
)

var paymentCodes = map[string]string{
	"dinheiro":          PayCash,
	"cartao de credito": PayCredit,
	"credito":           PayCredit,
	"credito pagseguro": PayCredit,
	"cartao de debito":  PayDebit,
	"debito":            PayDebit,
	"pix":               PayPix,
}

// PaymentCode maps a POS payment method name to its tPag code.
func PaymentCode(method string) string {
	n := catalog.NormalizeName(method)
	if code, ok := paymentCodes[n]; ok {
		return code
	}
	switch {
	case strings.Contains(n, "credito"):
		return PayCredit
	case strings.Contains(n, "debito"):
		return PayDebit
	case strings.Contains(n, "pix"):
		return PayPix
	}
	return PayOther
}
