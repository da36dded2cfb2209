package issue

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

// Create inserts the request header.
func (r *Repository) Create(ctx context.Context, req Request) (int64, error) {
	q := db.QuerierFrom(ctx, r.pool)
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO issues (number, po_id, service_center_id, requested_by, status, total_value, created_at)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7) RETURNING id`,
		req.Number, req.POID, req.ServiceCenterID, req.RequestedBy, string(req.Status), req.TotalValue.String(), req.CreatedAt).Scan(&id)
	return id, err
}

// InsertLine inserts one request line.
func (r *Repository) InsertLine(ctx context.Context, line Line) (int64, error) {
	q := db.QuerierFrom(ctx, r.pool)
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO issue_lines (issue_id, part_id, part_name, part_number, hsn_code, source_bucket_id, requested, issued_qty, sub_order_id, unit_price)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8, $9, $10) RETURNING id`,
		line.IssueID, line.Ref.PartID, line.Ref.Name, line.Ref.Number, line.Ref.HSN,
		line.SourceBucketID, line.Requested, line.IssuedQty, line.SubOrderID, line.UnitPrice.String()).Scan(&id)
	return id, err
}

// Get returns the request with lines and dispatch records.
func (r *Repository) Get(ctx context.Context, id int64) (Request, error) {
	return r.fetch(ctx, id, false)
}

// GetForUpdate locks the request row for the running transaction. Workflow
// guards re-check state through this.
func (r *Repository) GetForUpdate(ctx context.Context, id int64) (Request, error) {
	return r.fetch(ctx, id, true)
}

func (r *Repository) fetch(ctx context.Context, id int64, lock bool) (Request, error) {
	q := db.QuerierFrom(ctx, r.pool)
	query := issueSelect + ` WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	req, err := scanIssue(q.QueryRow(ctx, query, id))
	if err != nil {
		return Request{}, err
	}
	req.Lines, err = r.listLines(ctx, id)
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

// SetDecision records the admin approve/reject outcome.
func (r *Repository) SetDecision(ctx context.Context, id int64, status Status, actorID int64, reason string, at time.Time) error {
	q := db.QuerierFrom(ctx, r.pool)
	if status == StatusAdminRejected {
		_, err := q.Exec(ctx, `UPDATE issues SET status=$2, decided_by=$3, reject_reason=$4, rejected_at=$5 WHERE id=$1`,
			id, string(status), actorID, reason, at)
		return err
	}
	_, err := q.Exec(ctx, `UPDATE issues SET status=$2, decided_by=$3, approved_at=$4 WHERE id=$1`,
		id, string(status), actorID, at)
	return err
}

// MarkIssued records the one-time stock deduction.
func (r *Repository) MarkIssued(ctx context.Context, id, actorID int64, at time.Time) error {
	q := db.QuerierFrom(ctx, r.pool)
	_, err := q.Exec(ctx, `UPDATE issues SET status=$2, issued_by=$3, issued_at=$4 WHERE id=$1`,
		id, string(StatusIssued), actorID, at)
	return err
}

// UpdateLineIssuedQty writes the actually issued quantity on a line.
func (r *Repository) UpdateLineIssuedQty(ctx context.Context, lineID, qty int64) error {
	q := db.QuerierFrom(ctx, r.pool)
	_, err := q.Exec(ctx, `UPDATE issue_lines SET issued_qty=$2 WHERE id=$1`, lineID, qty)
	return err
}

// UpdateLineReturnedQty writes the cumulative returned quantity on a line.
func (r *Repository) UpdateLineReturnedQty(ctx context.Context, lineID, qty int64) error {
	q := db.QuerierFrom(ctx, r.pool)
	_, err := q.Exec(ctx, `UPDATE issue_lines SET returned_qty=$2 WHERE id=$1`, lineID, qty)
	return err
}

// InsertDispatch appends a shipment leg to a line.
func (r *Repository) InsertDispatch(ctx context.Context, d DispatchRecord) (int64, error) {
	q := db.QuerierFrom(ctx, r.pool)
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO dispatch_records (line_id, qty, sub_order_id, carrier, dispatched_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		d.LineID, d.Qty, d.SubOrderID, d.Carrier, d.DispatchedAt).Scan(&id)
	return id, err
}

// ListForPO returns all issues linked to a purchase order.
func (r *Repository) ListForPO(ctx context.Context, poID int64) ([]Request, error) {
	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, issueSelect+` WHERE po_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanIssueRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = r.listLines(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListByServiceCenter returns issues for one service center, newest first.
func (r *Repository) ListByServiceCenter(ctx context.Context, serviceCenterID int64, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, issueSelect+` WHERE service_center_id=$1 ORDER BY created_at DESC LIMIT $2`, serviceCenterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanIssueRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

const issueSelect = `SELECT id, number, COALESCE(po_id, 0), service_center_id, requested_by, status, total_value::text,
created_at, approved_at, rejected_at, issued_at, decided_by, issued_by, COALESCE(reject_reason,'') FROM issues`

func (r *Repository) listLines(ctx context.Context, issueID int64) ([]Line, error) {
	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT id, issue_id, part_id, COALESCE(part_name,''), COALESCE(part_number,''), COALESCE(hsn_code,''),
COALESCE(source_bucket_id, 0), requested, issued_qty, returned_qty, COALESCE(sub_order_id,''), unit_price::text
FROM issue_lines WHERE issue_id=$1 ORDER BY id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		var price string
		if err := rows.Scan(&line.ID, &line.IssueID, &line.Ref.PartID, &line.Ref.Name, &line.Ref.Number, &line.Ref.HSN,
			&line.SourceBucketID, &line.Requested, &line.IssuedQty, &line.ReturnedQty, &line.SubOrderID, &price); err != nil {
			return nil, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range lines {
		if lines[i].Dispatches, err = r.listDispatches(ctx, lines[i].ID); err != nil {
			return nil, err
		}
	}
	return lines, nil
}

func (r *Repository) listDispatches(ctx context.Context, lineID int64) ([]DispatchRecord, error) {
	q := db.QuerierFrom(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT id, line_id, qty, sub_order_id, COALESCE(carrier,''), dispatched_at
FROM dispatch_records WHERE line_id=$1 ORDER BY dispatched_at, id`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DispatchRecord
	for rows.Next() {
		var d DispatchRecord
		if err := rows.Scan(&d.ID, &d.LineID, &d.Qty, &d.SubOrderID, &d.Carrier, &d.DispatchedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanIssue(row pgx.Row) (Request, error) {
	req, err := scanIssueRows(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, err
	}
	return req, nil
}

func scanIssueRows(row pgx.Row) (Request, error) {
	var req Request
	var status, total string
	err := row.Scan(&req.ID, &req.Number, &req.POID, &req.ServiceCenterID, &req.RequestedBy, &status, &total,
		&req.CreatedAt, &req.ApprovedAt, &req.RejectedAt, &req.IssuedAt, &req.DecidedBy, &req.IssuedBy, &req.RejectReason)
	if err != nil {
		return Request{}, err
	}
	req.Status = Status(status)
	if req.TotalValue, err = decimal.NewFromString(total); err != nil {
		return Request{}, err
	}
	return req, nil
}
