package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/partsflow/partsflow/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence. All methods join a
// surrounding transaction when one is carried in ctx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Atomic runs fn inside a repeatable-read transaction.
func (r *Repository) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// CreatePO inserts the order header.
func (r *Repository) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	q := db.QuerierFrom(ctx, r.pool)
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO purchase_orders (number, service_center_id, requested_by, priority, status, ordered_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		po.Number, po.ServiceCenterID, po.RequestedBy, string(po.Priority), string(po.Status), po.OrderedAt).Scan(&id)
	return id, err
}

// InsertLine inserts one order line.
func (r *Repository) InsertLine(ctx context.Context, line Line) (int64, error) {
	q := db.QuerierFrom(ctx, r.pool)
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, part_id, part_name, part_number, hsn_code, requested, approved_qty, unit_price, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		line.POID, line.Ref.PartID, line.Ref.Name, line.Ref.Number, line.Ref.HSN,
		line.Requested, line.ApprovedQty, line.UnitPrice.String(), string(line.Status)).Scan(&id)
	return id, err
}

// GetPO returns the order with its lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	q := db.QuerierFrom(ctx, r.pool)
	po, err := scanPO(q.QueryRow(ctx, poSelect+` WHERE id=$1`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = r.listLines(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// GetPOForUpdate locks the order row for the running transaction and returns
// it with lines. Approval guards re-check state through this.
func (r *Repository) GetPOForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	q := db.QuerierFrom(ctx, r.pool)
	po, err := scanPO(q.QueryRow(ctx, poSelect+` WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = r.listLines(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// UpdateStatus writes a new lifecycle status.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	q := db.QuerierFrom(ctx, r.pool)
	_, err := q.Exec(ctx, `UPDATE purchase_orders SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

// SetDecision records the approve/reject outcome.
func (r *Repository) SetDecision(ctx context.Context, id int64, status Status, actorID int64, reason string, at time.Time) error {
	q := db.QuerierFrom(ctx, r.pool)
	if status == StatusRejected {
		_, err := q.Exec(ctx, `UPDATE purchase_orders SET status=$2, decided_by=$3, reject_reason=$4, rejected_at=$5 WHERE id=$1`,
			id, string(status), actorID, reason, at)
		return err
	}
	_, err := q.Exec(ctx, `UPDATE purchase_orders SET status=$2, decided_by=$3, approved_at=$4 WHERE id=$1`,
		id, string(status), actorID, at)
	return err
}

// UpdateLineApproval writes the per-line decision.
func (r *Repository) UpdateLineApproval(ctx context.Context, lineID, approvedQty int64, status LineStatus) error {
	q := db.QuerierFrom(ctx, r.pool)
	_, err := q.Exec(ctx, `UPDATE purchase_order_lines SET approved_qty=$2, status=$3 WHERE id=$1`,
		lineID, approvedQty, string(status))
	return err
}

// ListByServiceCenter returns orders for one service center, newest first.
func (r *Repository) ListByServiceCenter(ctx context.Context, serviceCenterID int64, limit int) ([]PurchaseOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, poSelect+` WHERE service_center_id=$1 ORDER BY ordered_at DESC LIMIT $2`, serviceCenterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		po, err := scanPORows(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

const poSelect = `SELECT id, number, service_center_id, requested_by, priority, status, ordered_at,
approved_at, rejected_at, decided_by, COALESCE(reject_reason,'') FROM purchase_orders`

func (r *Repository) listLines(ctx context.Context, poID int64) ([]Line, error) {
	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT id, po_id, part_id, COALESCE(part_name,''), COALESCE(part_number,''), COALESCE(hsn_code,''), requested, approved_qty, unit_price::text, status
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		var status, price string
		if err := rows.Scan(&line.ID, &line.POID, &line.Ref.PartID, &line.Ref.Name, &line.Ref.Number, &line.Ref.HSN,
			&line.Requested, &line.ApprovedQty, &price, &status); err != nil {
			return nil, err
		}
		line.Status = LineStatus(status)
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var priority, status string
	err := row.Scan(&po.ID, &po.Number, &po.ServiceCenterID, &po.RequestedBy, &priority, &status,
		&po.OrderedAt, &po.ApprovedAt, &po.RejectedAt, &po.DecidedBy, &po.RejectReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Priority = Priority(priority)
	po.Status = Status(status)
	return po, nil
}

func scanPORows(rows pgx.Rows) (PurchaseOrder, error) {
	var po PurchaseOrder
	var priority, status string
	err := rows.Scan(&po.ID, &po.Number, &po.ServiceCenterID, &po.RequestedBy, &priority, &status,
		&po.OrderedAt, &po.ApprovedAt, &po.RejectedAt, &po.DecidedBy, &po.RejectReason)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Priority = Priority(priority)
	po.Status = Status(status)
	return po, nil
}
