package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// JournalStore implements domain.TxJournal using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Record inserts a new journal entry. Owners are stored lower-cased.
func (s *JournalStore) Record(ctx context.Context, rec domain.TxRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	const query = `
		INSERT INTO tx_journal
			(id, owner, chain_id, action, trigger, kind, contract, method,
			 tx_hash, status, error, block, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, strings.ToLower(rec.Owner), int64(rec.ChainID), string(rec.Action),
		string(rec.Trigger), rec.Kind, rec.Contract, rec.Method,
		rec.TxHash, string(rec.Status), rec.Error, int64(rec.Block),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record tx %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateStatus moves an entry to status. Empty txHash or errMsg and a zero
// block leave the stored values untouched.
func (s *JournalStore) UpdateStatus(ctx context.Context, id string, status domain.TxStatus, txHash string, block uint64, errMsg string) error {
	const query = `
		UPDATE tx_journal
		SET status = $2,
		    tx_hash = CASE WHEN $3::text = '' THEN tx_hash ELSE $3::text END,
		    block = CASE WHEN $4::bigint = 0 THEN block ELSE $4::bigint END,
		    error = CASE WHEN $5::text = '' THEN error ELSE $5::text END,
		    updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), txHash, int64(block), errMsg)
	if err != nil {
		return fmt.Errorf("postgres: update tx %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update tx %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByOwner returns the owner's entries newest first.
func (s *JournalStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.TxRecord, error) {
	query, args := listByOwnerQuery(owner, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tx for %s: %w", owner, err)
	}
	defer rows.Close()

	var out []domain.TxRecord
	for rows.Next() {
		var (
			r                      domain.TxRecord
			chainID, block         int64
			action, trigger, state string
		)
		if err := rows.Scan(
			&r.ID, &r.Owner, &chainID, &action, &trigger, &r.Kind, &r.Contract,
			&r.Method, &r.TxHash, &state, &r.Error, &block, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan tx: %w", err)
		}
		r.ChainID = uint64(chainID)
		r.Block = uint64(block)
		r.Action = domain.Action(action)
		r.Trigger = domain.Trigger(trigger)
		r.Status = domain.TxStatus(state)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tx rows: %w", err)
	}
	return out, nil
}

func listByOwnerQuery(owner string, opts domain.ListOpts) (string, []any) {
	query := `SELECT id::text, owner, chain_id, action, trigger, kind, contract, method,
		tx_hash, status, error, block, created_at, updated_at
		FROM tx_journal WHERE owner = $1`
	args := []any{strings.ToLower(owner)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

var _ domain.TxJournal = (*JournalStore)(nil)
