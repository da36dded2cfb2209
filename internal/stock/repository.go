package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partsflow/partsflow/internal/platform/db"
)

// Repository persists stock entries and the ledger in PostgreSQL. All methods
// join a surrounding transaction when one is carried in ctx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Atomic runs fn inside a repeatable-read transaction.
func (r *Repository) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const entryColumns = `id, part_id, on_hand, min_level, max_level, COALESCE(location,''), updated_at`

// GetEntry returns the stock bucket for a part.
func (r *Repository) GetEntry(ctx context.Context, partID int64) (Entry, error) {
	q := db.QuerierFrom(ctx, r.pool)
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE part_id=$1`, partID)
	return scanEntry(row)
}

// GetEntryForUpdate locks the stock bucket row for the running transaction.
// Serializes concurrent adjustments per part.
func (r *Repository) GetEntryForUpdate(ctx context.Context, partID int64) (Entry, error) {
	q := db.QuerierFrom(ctx, r.pool)
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE part_id=$1 FOR UPDATE`, partID)
	return scanEntry(row)
}

// UpdateEntryQty writes the new on-hand quantity.
func (r *Repository) UpdateEntryQty(ctx context.Context, entryID, newQty int64) error {
	q := db.QuerierFrom(ctx, r.pool)
	_, err := q.Exec(ctx, `UPDATE stock_entries SET on_hand=$2, updated_at=NOW() WHERE id=$1`, entryID, newQty)
	return err
}

// InsertLedgerEntry appends an immutable ledger record.
func (r *Repository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	q := db.QuerierFrom(ctx, r.pool)
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO stock_ledger (part_id, delta, prev_qty, new_qty, reason, ref_module, ref_id, actor_id, at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7,'')::uuid, $8, NOW()) RETURNING id`,
		entry.PartID, entry.Delta, entry.PrevQty, entry.NewQty, entry.Reason, entry.RefModule, entry.RefID, entry.ActorID).Scan(&id)
	return id, err
}

// ListLedger returns ledger history for a part, newest first.
func (r *Repository) ListLedger(ctx context.Context, partID int64, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, part_id, delta, prev_qty, new_qty, reason, ref_module, COALESCE(ref_id::text,''), actor_id, at
FROM stock_ledger WHERE part_id=$1 ORDER BY at DESC, id DESC LIMIT $2`, partID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.PartID, &e.Delta, &e.PrevQty, &e.NewQty, &e.Reason, &e.RefModule, &e.RefID, &e.ActorID, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListLowStock returns entries at or below their minimum level.
func (r *Repository) ListLowStock(ctx context.Context) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM stock_entries WHERE on_hand <= min_level ORDER BY on_hand ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PartID, &e.OnHand, &e.MinLevel, &e.MaxLevel, &e.Location, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func scanEntryRows(rows pgx.Rows) (Entry, error) {
	var e Entry
	err := rows.Scan(&e.ID, &e.PartID, &e.OnHand, &e.MinLevel, &e.MaxLevel, &e.Location, &e.UpdatedAt)
	return e, err
}
