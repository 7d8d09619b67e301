package remittance

import (
	"context"
	"errors"
	"fmt"
	"time"

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

type eraRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &eraRepoPG{pool: pool} }

func (r *eraRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const eraCols = `id, trace_number, interchange_control, payer_id, payer_name, payee_id, payee_name,
	payment_method, check_number, eft_trace_number, check_date, reported_payment_amount,
	payment_amount, status, received_at`

func (r *eraRepoPG) scanERA(row pgx.Row) (*ERA, error) {
	var e ERA
	err := row.Scan(&e.ID, &e.TraceNumber, &e.InterchangeControl, &e.PayerID, &e.PayerName, &e.PayeeID, &e.PayeeName,
		&e.PaymentMethod, &e.CheckNumber, &e.EFTTraceNumber, &e.CheckDate, &e.ReportedPaymentAmount,
		&e.PaymentAmount, &e.Status, &e.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *eraRepoPG) Create(ctx context.Context, e *ERA) error {
	e.ID = uuid.New()
	e.ReceivedAt = time.Now().UTC()
	if e.Status == "" {
		e.Status = StatusReceived
	}
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO eras (`+eraCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			e.ID, e.TraceNumber, e.InterchangeControl, e.PayerID, e.PayerName, e.PayeeID, e.PayeeName,
			e.PaymentMethod, e.CheckNumber, e.EFTTraceNumber, e.CheckDate, e.ReportedPaymentAmount,
			e.PaymentAmount, e.Status, e.ReceivedAt)
		if err != nil {
			return fmt.Errorf("insert era: %w", err)
		}
		for i := range e.ClaimPayments {
			cp := &e.ClaimPayments[i]
			_, err := q.Exec(ctx, `
				INSERT INTO era_claim_payments (id, era_id, seq, claim_number, status_code,
					billed_amount, paid_amount, patient_responsibility, detail)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				uuid.New(), e.ID, i+1, cp.ClaimNumber, cp.StatusCode,
				cp.BilledAmount, cp.PaidAmount, cp.PatientResponsibility, cp)
			if err != nil {
				return fmt.Errorf("insert claim payment %s: %w", cp.ClaimNumber, err)
			}
		}
		return nil
	})
}

func (r *eraRepoPG) withClaimPayments(ctx context.Context, e *ERA, err error) (*ERA, error) {
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT detail FROM era_claim_payments WHERE era_id = $1 ORDER BY seq`, e.ID)
	if err != nil {
		return nil, fmt.Errorf("list claim payments: %w", err)
	}
	defer rows.Close()
	e.ClaimPayments = []ClaimPayment{}
	for rows.Next() {
		var cp ClaimPayment
		if err := rows.Scan(&cp); err != nil {
			return nil, fmt.Errorf("scan claim payment: %w", err)
		}
		e.ClaimPayments = append(e.ClaimPayments, cp)
	}
	return e, rows.Err()
}

func (r *eraRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ERA, error) {
	e, err := r.scanERA(r.conn(ctx).QueryRow(ctx, `SELECT `+eraCols+` FROM eras WHERE id = $1`, id))
	return r.withClaimPayments(ctx, e, err)
}

func (r *eraRepoPG) FindByTrace(ctx context.Context, traceNumber, payerID string) (*ERA, error) {
	e, err := r.scanERA(r.conn(ctx).QueryRow(ctx, `SELECT `+eraCols+` FROM eras
		WHERE trace_number = $1 AND payer_id = $2 ORDER BY received_at LIMIT 1`, traceNumber, payerID))
	return r.withClaimPayments(ctx, e, err)
}

func (r *eraRepoPG) FindByInterchange(ctx context.Context, interchangeControl, payerID string) (*ERA, error) {
	e, err := r.scanERA(r.conn(ctx).QueryRow(ctx, `SELECT `+eraCols+` FROM eras
		WHERE interchange_control = $1 AND payer_id = $2 ORDER BY received_at LIMIT 1`, interchangeControl, payerID))
	return r.withClaimPayments(ctx, e, err)
}

func (r *eraRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE eras SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update era status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns ERA headers without claim payments, newest first.
func (r *eraRepoPG) List(ctx context.Context, limit, offset int) ([]*ERA, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM eras`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+eraCols+` FROM eras ORDER BY received_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ERA
	for rows.Next() {
		e, err := r.scanERA(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
