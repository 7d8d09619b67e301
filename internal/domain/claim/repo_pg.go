package claim

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

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &claimRepoPG{pool: pool} }

func (r *claimRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const claimCols = `id, claim_number, patient_id, insurance_id, payer_id, payer_name, contract_id,
	subscriber_first_name, subscriber_last_name, patient_first_name, patient_last_name,
	primary_diagnosis, secondary_diagnoses, billing_provider, rendering_provider_npi,
	place_of_service, prior_auth_number, referral_number, service_date, submitted_date,
	status, paid_amount, adjusted_amount, created_at, updated_at`

func (r *claimRepoPG) scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.PatientID, &c.InsuranceID, &c.PayerID, &c.PayerName, &c.ContractID,
		&c.SubscriberFirstName, &c.SubscriberLastName, &c.PatientFirstName, &c.PatientLastName,
		&c.PrimaryDiagnosis, &c.SecondaryDiagnoses, &c.BillingProvider, &c.RenderingProviderNPI,
		&c.PlaceOfService, &c.PriorAuthNumber, &c.ReferralNumber, &c.ServiceDate, &c.SubmittedDate,
		&c.Status, &c.PaidAmount, &c.AdjustedAmount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	c.ID = uuid.New()
	if c.Status == "" {
		c.Status = StatusDraft
	}
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO claims (id, claim_number, patient_id, insurance_id, payer_id, payer_name, contract_id,
			subscriber_first_name, subscriber_last_name, patient_first_name, patient_last_name,
			primary_diagnosis, secondary_diagnoses, billing_provider, rendering_provider_npi,
			place_of_service, prior_auth_number, referral_number, service_date, submitted_date,
			status, paid_amount, adjusted_amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING created_at, updated_at`,
		c.ID, c.ClaimNumber, c.PatientID, c.InsuranceID, c.PayerID, c.PayerName, c.ContractID,
		c.SubscriberFirstName, c.SubscriberLastName, c.PatientFirstName, c.PatientLastName,
		c.PrimaryDiagnosis, c.SecondaryDiagnoses, c.BillingProvider, c.RenderingProviderNPI,
		c.PlaceOfService, c.PriorAuthNumber, c.ReferralNumber, c.ServiceDate, c.SubmittedDate,
		c.Status, c.PaidAmount, c.AdjustedAmount).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}

	for i := range c.Charges {
		ch := &c.Charges[i]
		ch.ID = uuid.New()
		ch.ClaimID = c.ID
		ch.LineNumber = i + 1
		_, err := q.Exec(ctx, `
			INSERT INTO claim_charges (id, claim_id, line_number, procedure_code, quantity,
				modifiers, diagnosis_pointers, total_charge, service_date)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			ch.ID, ch.ClaimID, ch.LineNumber, ch.ProcedureCode, ch.Quantity,
			ch.Modifiers, ch.DiagnosisPointers, ch.TotalCharge, ch.ServiceDate)
		if err != nil {
			return fmt.Errorf("insert charge %d: %w", ch.LineNumber, err)
		}
	}
	return nil
}

func (r *claimRepoPG) withCharges(ctx context.Context, c *Claim, err error) (*Claim, error) {
	if err != nil {
		return nil, err
	}
	charges, err := r.ListCharges(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Charges = charges
	return c, nil
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
	return r.withCharges(ctx, c, err)
}

func (r *claimRepoPG) GetByClaimNumber(ctx context.Context, claimNumber string) (*Claim, error) {
	c, err := r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE claim_number = $1`, claimNumber))
	return r.withCharges(ctx, c, err)
}

func (r *claimRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1 FOR UPDATE`, id))
	return r.withCharges(ctx, c, err)
}

func (r *claimRepoPG) LockByClaimNumber(ctx context.Context, claimNumber string) (*Claim, error) {
	c, err := r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE claim_number = $1 FOR UPDATE`, claimNumber))
	return r.withCharges(ctx, c, err)
}

func (r *claimRepoPG) Update(ctx context.Context, c *Claim) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET status=$2, submitted_date=$3, paid_amount=$4, adjusted_amount=$5,
			prior_auth_number=$6, referral_number=$7, contract_id=$8, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Status, c.SubmittedDate, c.PaidAmount, c.AdjustedAmount,
		c.PriorAuthNumber, c.ReferralNumber, c.ContractID)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *claimRepoPG) ListCharges(ctx context.Context, claimID uuid.UUID) ([]Charge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, line_number, procedure_code, quantity, modifiers,
			diagnosis_pointers, total_charge, service_date
		FROM claim_charges WHERE claim_id = $1 ORDER BY line_number`, claimID)
	if err != nil {
		return nil, fmt.Errorf("list charges: %w", err)
	}
	defer rows.Close()

	var charges []Charge
	for rows.Next() {
		var ch Charge
		if err := rows.Scan(&ch.ID, &ch.ClaimID, &ch.LineNumber, &ch.ProcedureCode, &ch.Quantity,
			&ch.Modifiers, &ch.DiagnosisPointers, &ch.TotalCharge, &ch.ServiceDate); err != nil {
			return nil, fmt.Errorf("scan charge: %w", err)
		}
		charges = append(charges, ch)
	}
	return charges, rows.Err()
}

func (r *claimRepoPG) ListOutstanding(ctx context.Context) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+claimCols+` FROM claims
		WHERE submitted_date IS NOT NULL AND status NOT IN ('PAID', 'CLOSED')
		ORDER BY submitted_date`)
	if err != nil {
		return nil, fmt.Errorf("list outstanding claims: %w", err)
	}

	var claims []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claims = append(claims, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range claims {
		if c.Charges, err = r.ListCharges(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return claims, nil
}
