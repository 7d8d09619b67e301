package underpayment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/revcycle/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type detectionRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &detectionRepoPG{pool: pool} }

func (r *detectionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const detectionCols = `id, claim_id, claim_number, contract_id, posting_id, expected_amount, paid_amount,
	variance, variance_percentage, reason, status, notes, detected_at, updated_at`

func (r *detectionRepoPG) scan(row pgx.Row) (*Detection, error) {
	var d Detection
	err := row.Scan(&d.ID, &d.ClaimID, &d.ClaimNumber, &d.ContractID, &d.PostingID, &d.ExpectedAmount, &d.PaidAmount,
		&d.Variance, &d.VariancePercentage, &d.Reason, &d.Status, &d.Notes, &d.DetectedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *detectionRepoPG) Create(ctx context.Context, d *Detection) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO underpayment_detections (`+detectionCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		d.ID, d.ClaimID, d.ClaimNumber, d.ContractID, d.PostingID, d.ExpectedAmount, d.PaidAmount,
		d.Variance, d.VariancePercentage, d.Reason, d.Status, d.Notes, d.DetectedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

func (r *detectionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Detection, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+detectionCols+` FROM underpayment_detections WHERE id = $1`, id))
}

func (r *detectionRepoPG) FindOpen(ctx context.Context, claimID uuid.UUID) (*Detection, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+detectionCols+` FROM underpayment_detections
		WHERE claim_id = $1 AND status = $2 ORDER BY detected_at DESC LIMIT 1`, claimID, StatusOpen))
}

func (r *detectionRepoPG) List(ctx context.Context, status Status, limit, offset int) ([]*Detection, int, error) {
	where, args := "", []interface{}{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM underpayment_detections`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+detectionCols+` FROM underpayment_detections%s
		ORDER BY detected_at DESC LIMIT $%d OFFSET $%d`, where, n+1, n+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Detection
	for rows.Next() {
		d, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *detectionRepoPG) Update(ctx context.Context, d *Detection) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE underpayment_detections SET status = $2, notes = $3, updated_at = $4 WHERE id = $1`,
		d.ID, d.Status, d.Notes, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update detection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
