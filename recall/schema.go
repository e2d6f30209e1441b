package recall

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// CreateSchema creates the recalls table and the indexes searches rely on.
// It is idempotent.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().
		Model((*Record)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create recalls table: %w", err)
	}

	// matches the search order so keyset predicates resolve as index range scans
	if _, err := db.NewCreateIndex().
		Model((*Record)(nil)).
		Index("recalls_keyset_idx").
		IfNotExists().
		ColumnExpr("score DESC").
		ColumnExpr("recall_date DESC").
		ColumnExpr("id").
		Exec(ctx); err != nil {
		return fmt.Errorf("create keyset index: %w", err)
	}

	if _, err := db.NewCreateIndex().
		Model((*Record)(nil)).
		Index("recalls_last_updated_idx").
		IfNotExists().
		Column("last_updated").
		Exec(ctx); err != nil {
		return fmt.Errorf("create last_updated index: %w", err)
	}

	return nil
}
