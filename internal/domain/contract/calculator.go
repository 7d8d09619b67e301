package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/domain/claim"
	"github.com/ehr/revcycle/internal/platform/formula"
)

// Fallback ratios of billed charges.
var (
	noScheduleRatio   = decimal.RequireFromString("0.60")
	codeNotFoundRatio = decimal.RequireFromString("0.50")
	hundred           = decimal.NewFromInt(100)
)

// Basis records which rule produced an expected amount.
type Basis string

const (
	BasisFlatRate          Basis = "FLAT_RATE"
	BasisContractedRate    Basis = "CONTRACTED_RATE"
	BasisPercentOfMedicare Basis = "PERCENT_OF_MEDICARE"
	BasisAllowedAmount     Basis = "ALLOWED_AMOUNT"
	BasisNoSchedule        Basis = "NO_SCHEDULE_FALLBACK"
	BasisCodeNotFound      Basis = "CODE_NOT_FOUND_FALLBACK"
)

// Expectation is the expected reimbursement for one charge.
type Expectation struct {
	ProcedureCode string          `json:"procedure_code"`
	Basis         Basis           `json:"basis"`
	UnitRate      decimal.Decimal `json:"unit_rate"`
	Units         int             `json:"units"`
	Modifiers     []string        `json:"modifiers,omitempty"`
	Billed        decimal.Decimal `json:"billed"`
	Amount        decimal.Decimal `json:"amount"`
}

// SpecialtyAdjuster rewrites an expected amount after modifiers. The default
// evaluates the contract's SpecialtyFormula and passes the amount through
// when there is none.
type SpecialtyAdjuster func(ctx context.Context, c *PayerContract, ch *claim.Charge, amount decimal.Decimal) (decimal.Decimal, error)

// Calculator computes expected payment from payer contracts.
type Calculator struct {
	medicare  MedicareRateTable
	specialty SpecialtyAdjuster

	mu       sync.RWMutex
	compiled map[string]*formula.Expression
}

// CalculatorOption configures a Calculator.
type CalculatorOption func(*Calculator)

// WithSpecialtyAdjuster replaces the formula-based specialty step.
func WithSpecialtyAdjuster(fn SpecialtyAdjuster) CalculatorOption {
	return func(c *Calculator) { c.specialty = fn }
}

// NewCalculator creates a Calculator. medicare may be nil, in which case
// percent-of-Medicare rates are skipped.
func NewCalculator(medicare MedicareRateTable, opts ...CalculatorOption) *Calculator {
	c := &Calculator{medicare: medicare, compiled: make(map[string]*formula.Expression)}
	c.specialty = c.formulaAdjust
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ActiveSchedule returns the schedule whose window contains date. When
// several do, the latest effective wins. When none does, the schedule with
// the latest effective date is returned. Nil means the contract has none.
func ActiveSchedule(c *PayerContract, date time.Time) *FeeSchedule {
	var active, latest *FeeSchedule
	for i := range c.FeeSchedules {
		s := &c.FeeSchedules[i]
		if latest == nil || s.EffectiveDate.After(latest.EffectiveDate) {
			latest = s
		}
		if s.Contains(date) && (active == nil || s.EffectiveDate.After(active.EffectiveDate)) {
			active = s
		}
	}
	if active != nil {
		return active
	}
	return latest
}

// Expected computes the expected payment for one charge on a claim with the
// given service date.
func (calc *Calculator) Expected(ctx context.Context, ch *claim.Charge, serviceDate time.Time, c *PayerContract) (*Expectation, error) {
	units := ch.Quantity
	if units < 1 {
		units = 1
	}
	exp := &Expectation{ProcedureCode: ch.ProcedureCode, Units: units, Billed: ch.TotalCharge}

	schedule := ActiveSchedule(c, serviceDate)
	if schedule == nil {
		exp.Basis = BasisNoSchedule
		exp.Amount = ch.TotalCharge.Mul(noScheduleRatio).Round(2)
		return exp, nil
	}

	rate, basis, err := calc.unitRate(ctx, schedule.Entry(ch.ProcedureCode))
	if err != nil {
		return nil, err
	}
	if basis == "" {
		exp.Basis = BasisCodeNotFound
		exp.Amount = ch.TotalCharge.Mul(codeNotFoundRatio).Round(2)
		return exp, nil
	}
	exp.Basis = basis
	exp.UnitRate = rate

	amount := rate.Mul(decimal.NewFromInt(int64(units)))
	for _, m := range ch.Modifiers {
		rule, ok := c.ModifierRule(m)
		if !ok {
			rule, ok = DefaultModifierRule(m)
		}
		if ok {
			amount = rule.Apply(amount)
		}
		exp.Modifiers = append(exp.Modifiers, m)
	}

	amount, err = calc.specialty(ctx, c, ch, amount)
	if err != nil {
		return nil, fmt.Errorf("specialty adjustment for %s: %w", ch.ProcedureCode, err)
	}
	exp.Amount = amount.Round(2)
	return exp, nil
}

// ExpectedForClaim sums the expected payment over every charge of cl.
func (calc *Calculator) ExpectedForClaim(ctx context.Context, cl *claim.Claim, c *PayerContract) (decimal.Decimal, []Expectation, error) {
	total := decimal.Zero
	lines := make([]Expectation, 0, len(cl.Charges))
	for i := range cl.Charges {
		ch := &cl.Charges[i]
		date := cl.ServiceDate
		if ch.ServiceDate != nil {
			date = *ch.ServiceDate
		}
		exp, err := calc.Expected(ctx, ch, date, c)
		if err != nil {
			return decimal.Zero, nil, err
		}
		total = total.Add(exp.Amount)
		lines = append(lines, *exp)
	}
	return total, lines, nil
}

// unitRate resolves the per-unit rate in precedence order. An empty basis
// means the entry is missing or has no usable rate.
func (calc *Calculator) unitRate(ctx context.Context, e *FeeScheduleEntry) (decimal.Decimal, Basis, error) {
	if e == nil {
		return decimal.Zero, "", nil
	}
	if e.FlatRate != nil {
		return *e.FlatRate, BasisFlatRate, nil
	}
	if e.ContractedRate != nil {
		return *e.ContractedRate, BasisContractedRate, nil
	}
	if e.PercentOfMedicare != nil && calc.medicare != nil {
		base, err := calc.medicare.GetMedicareRate(ctx, e.ProcedureCode)
		switch {
		case err == nil:
			return base.Mul(*e.PercentOfMedicare).Div(hundred), BasisPercentOfMedicare, nil
		case !errors.Is(err, ErrNoMedicareRate):
			return decimal.Zero, "", fmt.Errorf("medicare rate for %s: %w", e.ProcedureCode, err)
		}
	}
	if e.AllowedAmount != nil {
		return *e.AllowedAmount, BasisAllowedAmount, nil
	}
	return decimal.Zero, "", nil
}

func (calc *Calculator) formulaAdjust(_ context.Context, c *PayerContract, ch *claim.Charge, amount decimal.Decimal) (decimal.Decimal, error) {
	if c.SpecialtyFormula == "" {
		return amount, nil
	}
	expr, err := calc.compile(c.SpecialtyFormula)
	if err != nil {
		return decimal.Zero, err
	}
	return expr.Eval(map[string]decimal.Decimal{
		"amount": amount,
		"units":  decimal.NewFromInt(int64(ch.Quantity)),
		"billed": ch.TotalCharge,
	})
}

func (calc *Calculator) compile(src string) (*formula.Expression, error) {
	calc.mu.RLock()
	expr, ok := calc.compiled[src]
	calc.mu.RUnlock()
	if ok {
		return expr, nil
	}
	expr, err := formula.Compile(src)
	if err != nil {
		return nil, err
	}
	calc.mu.Lock()
	calc.compiled[src] = expr
	calc.mu.Unlock()
	return expr, nil
}
