package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CopyRows bulk-loads rows with the COPY protocol. It must run inside
// RunInTransaction so a failed load leaves the table untouched.
func (m *TxManager) CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx := m.tx(ctx)
	if tx == nil {
		return 0, fmt.Errorf("CopyRows requires transaction context")
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}
