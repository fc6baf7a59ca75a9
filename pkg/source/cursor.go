package source

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Rows is a page of query results. *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Cursor is an open server-side cursor
type Cursor interface {
	Fetch(ctx context.Context, n int) (Rows, error)
	Close(ctx context.Context) error
}

// CursorOpener declares server-side cursors
type CursorOpener interface {
	Open(ctx context.Context, name, query string, args ...any) (Cursor, error)
}

// PostgresCursorOpener declares cursors inside read-only REPEATABLE READ
// transactions, so every fetch of one pass sees the same snapshot
type PostgresCursorOpener struct {
	db *sql.DB
}

func NewPostgresCursorOpener(db *sql.DB) *PostgresCursorOpener {
	return &PostgresCursorOpener{db: db}
}

func (o *PostgresCursorOpener) Open(ctx context.Context, name, query string, args ...any) (Cursor, error) {
	tx, err := o.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	quoted := pq.QuoteIdentifier(name)
	if _, err := tx.ExecContext(ctx, "DECLARE "+quoted+" NO SCROLL CURSOR FOR "+query, args...); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("declare cursor %s: %w", name, err)
	}

	return &postgresCursor{tx: tx, name: quoted}, nil
}

type postgresCursor struct {
	tx   *sql.Tx
	name string
}

func (c *postgresCursor) Fetch(ctx context.Context, n int) (Rows, error) {
	rows, err := c.tx.QueryContext(ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", n, c.name))
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", c.name, err)
	}
	return rows, nil
}

// Close releases the cursor and ends the read-only transaction
func (c *postgresCursor) Close(ctx context.Context) error {
	_, closeErr := c.tx.ExecContext(ctx, "CLOSE "+c.name)
	if err := c.tx.Rollback(); err != nil {
		return err
	}
	return closeErr
}
