package contract

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

type contractRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &contractRepoPG{pool: pool} }

func (r *contractRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const contractCols = `id, payer_id, name, reimbursement_method, payment_terms, specialty_formula, created_at, updated_at`

func (r *contractRepoPG) scanContract(row pgx.Row) (*PayerContract, error) {
	var c PayerContract
	err := row.Scan(&c.ID, &c.PayerID, &c.Name, &c.ReimbursementMethod, &c.PaymentTerms,
		&c.SpecialtyFormula, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *contractRepoPG) Create(ctx context.Context, c *PayerContract) error {
	c.ID = uuid.New()
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		err := q.QueryRow(ctx, `
			INSERT INTO payer_contracts (id, payer_id, name, reimbursement_method, payment_terms, specialty_formula)
			VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING created_at, updated_at`,
			c.ID, c.PayerID, c.Name, c.ReimbursementMethod, c.PaymentTerms, c.SpecialtyFormula,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert contract: %w", err)
		}

		for i := range c.FeeSchedules {
			s := &c.FeeSchedules[i]
			s.ID = uuid.New()
			if _, err := q.Exec(ctx, `
				INSERT INTO fee_schedules (id, contract_id, name, effective_date, expiration_date)
				VALUES ($1,$2,$3,$4,$5)`,
				s.ID, c.ID, s.Name, s.EffectiveDate, s.ExpirationDate); err != nil {
				return fmt.Errorf("insert fee schedule: %w", err)
			}
			for _, e := range s.Entries {
				if _, err := q.Exec(ctx, `
					INSERT INTO fee_schedule_entries (schedule_id, procedure_code, flat_rate,
						contracted_rate, percent_of_medicare, allowed_amount)
					VALUES ($1,$2,$3,$4,$5,$6)`,
					s.ID, e.ProcedureCode, e.FlatRate, e.ContractedRate, e.PercentOfMedicare, e.AllowedAmount); err != nil {
					return fmt.Errorf("insert fee schedule entry %s: %w", e.ProcedureCode, err)
				}
			}
		}

		for i, m := range c.ModifierRules {
			if _, err := q.Exec(ctx, `
				INSERT INTO contract_modifier_rules (contract_id, seq, modifier, kind, value)
				VALUES ($1,$2,$3,$4,$5)`,
				c.ID, i+1, m.Modifier, m.Kind, m.Value); err != nil {
				return fmt.Errorf("insert modifier rule %s: %w", m.Modifier, err)
			}
		}
		return nil
	})
}

func (r *contractRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PayerContract, error) {
	c, err := r.scanContract(r.conn(ctx).QueryRow(ctx, `SELECT `+contractCols+` FROM payer_contracts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadSchedules(ctx, c); err != nil {
		return nil, err
	}
	if err := r.loadModifierRules(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *contractRepoPG) loadSchedules(ctx context.Context, c *PayerContract) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, effective_date, expiration_date
		FROM fee_schedules WHERE contract_id = $1 ORDER BY effective_date`, c.ID)
	if err != nil {
		return fmt.Errorf("list fee schedules: %w", err)
	}
	c.FeeSchedules = []FeeSchedule{}
	for rows.Next() {
		var s FeeSchedule
		if err := rows.Scan(&s.ID, &s.Name, &s.EffectiveDate, &s.ExpirationDate); err != nil {
			rows.Close()
			return fmt.Errorf("scan fee schedule: %w", err)
		}
		c.FeeSchedules = append(c.FeeSchedules, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range c.FeeSchedules {
		s := &c.FeeSchedules[i]
		rows, err := r.conn(ctx).Query(ctx, `
			SELECT procedure_code, flat_rate, contracted_rate, percent_of_medicare, allowed_amount
			FROM fee_schedule_entries WHERE schedule_id = $1 ORDER BY procedure_code`, s.ID)
		if err != nil {
			return fmt.Errorf("list fee schedule entries: %w", err)
		}
		for rows.Next() {
			var e FeeScheduleEntry
			if err := rows.Scan(&e.ProcedureCode, &e.FlatRate, &e.ContractedRate, &e.PercentOfMedicare, &e.AllowedAmount); err != nil {
				rows.Close()
				return fmt.Errorf("scan fee schedule entry: %w", err)
			}
			s.Entries = append(s.Entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *contractRepoPG) loadModifierRules(ctx context.Context, c *PayerContract) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT modifier, kind, value FROM contract_modifier_rules
		WHERE contract_id = $1 ORDER BY seq`, c.ID)
	if err != nil {
		return fmt.Errorf("list modifier rules: %w", err)
	}
	defer rows.Close()
	c.ModifierRules = []ModifierRule{}
	for rows.Next() {
		var m ModifierRule
		if err := rows.Scan(&m.Modifier, &m.Kind, &m.Value); err != nil {
			return fmt.Errorf("scan modifier rule: %w", err)
		}
		c.ModifierRules = append(c.ModifierRules, m)
	}
	return rows.Err()
}

// List returns contract headers without schedules.
func (r *contractRepoPG) List(ctx context.Context, limit, offset int) ([]*PayerContract, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payer_contracts`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+contractCols+` FROM payer_contracts ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PayerContract
	for rows.Next() {
		c, err := r.scanContract(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
