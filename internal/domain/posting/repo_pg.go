package posting

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

const uniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type postingRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &postingRepoPG{pool: pool} }

func (r *postingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *postingRepoPG) Create(ctx context.Context, p *PaymentPosting) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		_, err := q.Exec(ctx, `
			INSERT INTO payment_postings (id, era_id, claim_id, claim_number, posted_at,
				deductible, coinsurance, copay, non_covered, transfers_to_patient)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			p.ID, p.ERAID, p.ClaimID, p.ClaimNumber, p.PostedAt,
			p.PatientResponsibility.Deductible, p.PatientResponsibility.Coinsurance,
			p.PatientResponsibility.Copay, p.PatientResponsibility.NonCovered, p.TransfersToPatient)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert posting: %w", err)
		}
		for _, pay := range p.Payments {
			_, err := q.Exec(ctx, `
				INSERT INTO posted_payments (id, posting_id, charge_id, procedure_code, source, amount)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				pay.ID, p.ID, pay.ChargeID, pay.ProcedureCode, pay.Source, pay.Amount)
			if err != nil {
				return fmt.Errorf("insert posted payment: %w", err)
			}
		}
		for _, adj := range p.Adjustments {
			_, err := q.Exec(ctx, `
				INSERT INTO posted_adjustments (id, posting_id, charge_id, group_code, reason_code, amount, description)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				adj.ID, p.ID, adj.ChargeID, adj.GroupCode, adj.ReasonCode, adj.Amount, adj.Description)
			if err != nil {
				return fmt.Errorf("insert posted adjustment: %w", err)
			}
		}
		return nil
	})
}

func (r *postingRepoPG) Exists(ctx context.Context, eraID, claimID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM payment_postings WHERE era_id = $1 AND claim_id = $2)`,
		eraID, claimID).Scan(&exists)
	return exists, err
}

func (r *postingRepoPG) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*PaymentPosting, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, era_id, claim_id, claim_number, posted_at,
			deductible, coinsurance, copay, non_covered, transfers_to_patient
		FROM payment_postings WHERE claim_id = $1 ORDER BY posted_at`, claimID)
	if err != nil {
		return nil, err
	}
	var items []*PaymentPosting
	for rows.Next() {
		var p PaymentPosting
		if err := rows.Scan(&p.ID, &p.ERAID, &p.ClaimID, &p.ClaimNumber, &p.PostedAt,
			&p.PatientResponsibility.Deductible, &p.PatientResponsibility.Coinsurance,
			&p.PatientResponsibility.Copay, &p.PatientResponsibility.NonCovered, &p.TransfersToPatient); err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, &p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range items {
		if err := r.loadLines(ctx, p); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *postingRepoPG) loadLines(ctx context.Context, p *PaymentPosting) error {
	q := r.conn(ctx)
	rows, err := q.Query(ctx, `
		SELECT id, charge_id, procedure_code, source, amount
		FROM posted_payments WHERE posting_id = $1`, p.ID)
	if err != nil {
		return fmt.Errorf("list posted payments: %w", err)
	}
	p.Payments = []PostedPayment{}
	for rows.Next() {
		pay := PostedPayment{PostingID: p.ID}
		if err := rows.Scan(&pay.ID, &pay.ChargeID, &pay.ProcedureCode, &pay.Source, &pay.Amount); err != nil {
			rows.Close()
			return err
		}
		p.Payments = append(p.Payments, pay)
	}
	rows.Close()

	rows, err = q.Query(ctx, `
		SELECT id, charge_id, group_code, reason_code, amount, description
		FROM posted_adjustments WHERE posting_id = $1`, p.ID)
	if err != nil {
		return fmt.Errorf("list posted adjustments: %w", err)
	}
	defer rows.Close()
	p.Adjustments = []PostedAdjustment{}
	for rows.Next() {
		adj := PostedAdjustment{PostingID: p.ID}
		if err := rows.Scan(&adj.ID, &adj.ChargeID, &adj.GroupCode, &adj.ReasonCode, &adj.Amount, &adj.Description); err != nil {
			return err
		}
		p.Adjustments = append(p.Adjustments, adj)
	}
	return rows.Err()
}
