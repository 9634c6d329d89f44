package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CursorRepository provides the tailer's cursor_get / cursor_set primitives.
type CursorRepository struct {
	client *Client
}

// NewCursorRepository constructs a CursorRepository over an open Client.
func NewCursorRepository(client *Client) *CursorRepository {
	return &CursorRepository{client: client}
}

// CursorGet returns the next unapplied block for a contract. An absent row
// is treated as cursor zero rather than an error, matching a tailer's first
// run against a contract it has never seen.
func (r *CursorRepository) CursorGet(ctx context.Context, contractAddress string) (uint64, error) {
	const query = `SELECT next_block FROM sync_cursors WHERE contract_address = $1`
	var next uint64
	err := r.client.QueryRowContext(ctx, query, contractAddress).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cursor get %s: %w", contractAddress, err)
	}
	return next, nil
}

// CursorSet advances a contract's cursor within tx — the caller is
// responsible for committing tx only after the last event mutation in the
// same batch has succeeded, so a failed mutation never leaves the cursor
// advanced past it.
func (r *CursorRepository) CursorSet(ctx context.Context, tx *Tx, contractAddress string, nextBlock uint64) error {
	const query = `
		INSERT INTO sync_cursors (contract_address, next_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (contract_address) DO UPDATE SET next_block = EXCLUDED.next_block, updated_at = now()
	`
	_, err := tx.Tx().ExecContext(ctx, query, contractAddress, nextBlock)
	if err != nil {
		return fmt.Errorf("cursor set %s: %w", contractAddress, err)
	}
	return nil
}
