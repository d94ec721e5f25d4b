// Package numerator provides domain contracts for fiscal document numbering.
package numerator

import "fmt"

// Model identifies the fiscal document family a sequence belongs to.
type Model string

const (
	ModelNFCe Model = "nfce"
	ModelNFSe Model = "nfse"
)

// Key identifies one monotonic sequence: emitter CNPJ, document model and series.
type Key struct {
	CNPJ   string
	Model  Model
	Series int
}

// String returns the storage key, e.g. "12345678000199:nfce:1".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d", k.CNPJ, k.Model, k.Series)
}
