package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads the parts catalog from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const partColumns = `id, number, name, COALESCE(hsn_code,''), unit_price::text, gst_rate::text`

// GetByID fetches a part by catalog id.
func (r *Repository) GetByID(ctx context.Context, id int64) (Part, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE id=$1`, id)
	return scanPart(row)
}

// GetByNumber fetches a part by part number, case-insensitive and trimmed.
func (r *Repository) GetByNumber(ctx context.Context, number string) (Part, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE LOWER(number)=LOWER(TRIM($1))`, number)
	return scanPart(row)
}

// GetByName fetches a part by display name, case-insensitive and trimmed.
func (r *Repository) GetByName(ctx context.Context, name string) (Part, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+partColumns+` FROM parts WHERE LOWER(name)=LOWER(TRIM($1))`, name)
	return scanPart(row)
}

func scanPart(row pgx.Row) (Part, error) {
	var p Part
	var price, rate string
	if err := row.Scan(&p.ID, &p.Number, &p.Name, &p.HSNCode, &price, &rate); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Part{}, ErrPartNotFound
		}
		return Part{}, err
	}
	var err error
	if p.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return Part{}, err
	}
	if p.GSTRate, err = decimal.NewFromString(rate); err != nil {
		return Part{}, err
	}
	return p, nil
}
