package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithinTransaction runs fn inside a transaction carried by the context it
// receives. The transaction commits when fn returns nil and rolls back on an
// error or a panic. A call nested inside another scope joins the outer
// transaction, so the outermost scope decides the isolation level.
func (db *DB) WithinTransaction(ctx context.Context, isoLevel pgx.TxIsoLevel, fn func(ctx context.Context) error) (err error) {
	if _, ok := GetTx(ctx); ok {
		return fn(ctx)
	}

	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: isoLevel})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(SetTx(ctx, tx)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
