package contract

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when no contract matches.
var ErrNotFound = errors.New("contract not found")

// ReimbursementMethod describes how a contract pays.
type ReimbursementMethod string

const (
	MethodFeeSchedule       ReimbursementMethod = "FEE_SCHEDULE"
	MethodPercentOfMedicare ReimbursementMethod = "PERCENT_OF_MEDICARE"
	MethodPercentOfCharges  ReimbursementMethod = "PERCENT_OF_CHARGES"
)

// ModifierKind selects how a modifier rule changes the amount.
type ModifierKind string

const (
	// ModifierPercentage multiplies the running amount by Value.
	ModifierPercentage ModifierKind = "PERCENTAGE"
	// ModifierFlat adds Value to the running amount.
	ModifierFlat ModifierKind = "FLAT"
)

// ModifierRule adjusts the expected amount when a charge carries Modifier.
type ModifierRule struct {
	Modifier string          `json:"modifier" validate:"required"`
	Kind     ModifierKind    `json:"kind" validate:"required,oneof=PERCENTAGE FLAT"`
	Value    decimal.Decimal `json:"value"`
}

// Apply returns amount adjusted by the rule.
func (r ModifierRule) Apply(amount decimal.Decimal) decimal.Decimal {
	if r.Kind == ModifierFlat {
		return amount.Add(r.Value)
	}
	return amount.Mul(r.Value)
}

// PaymentTerms are the contract's prompt-pay terms.
type PaymentTerms struct {
	DaysToPay int `json:"days_to_pay"`
}

// FeeScheduleEntry holds the rates for one procedure code. At most one rate
// is used, chosen in field order.
type FeeScheduleEntry struct {
	ProcedureCode  string           `json:"procedure_code" validate:"required"`
	FlatRate       *decimal.Decimal `json:"flat_rate,omitempty"`
	ContractedRate *decimal.Decimal `json:"contracted_rate,omitempty"`
	// PercentOfMedicare is a percentage, 120 meaning 120% of the Medicare rate.
	PercentOfMedicare *decimal.Decimal `json:"percent_of_medicare,omitempty"`
	AllowedAmount     *decimal.Decimal `json:"allowed_amount,omitempty"`
}

// FeeSchedule is a time-bounded rate table.
type FeeSchedule struct {
	ID             uuid.UUID          `json:"id"`
	Name           string             `json:"name"`
	EffectiveDate  time.Time          `json:"effective_date" validate:"required"`
	ExpirationDate *time.Time         `json:"expiration_date,omitempty"`
	Entries        []FeeScheduleEntry `json:"entries" validate:"dive"`
}

// Contains reports whether date falls in the schedule's window. Both ends
// are inclusive.
func (s *FeeSchedule) Contains(date time.Time) bool {
	if date.Before(s.EffectiveDate) {
		return false
	}
	return s.ExpirationDate == nil || !date.After(*s.ExpirationDate)
}

// Entry returns the entry for code, or nil.
func (s *FeeSchedule) Entry(code string) *FeeScheduleEntry {
	for i := range s.Entries {
		if s.Entries[i].ProcedureCode == code {
			return &s.Entries[i]
		}
	}
	return nil
}

// PayerContract is a negotiated agreement with one payer.
type PayerContract struct {
	ID                  uuid.UUID           `json:"id"`
	PayerID             string              `json:"payer_id" validate:"required"`
	Name                string              `json:"name" validate:"required"`
	ReimbursementMethod ReimbursementMethod `json:"reimbursement_method"`
	FeeSchedules        []FeeSchedule       `json:"fee_schedules" validate:"dive"`
	ModifierRules       []ModifierRule      `json:"modifier_rules" validate:"dive"`
	PaymentTerms        PaymentTerms        `json:"payment_terms"`
	// SpecialtyFormula optionally rewrites each expected amount. It may use
	// the variables amount, units and billed.
	SpecialtyFormula string    `json:"specialty_formula,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ModifierRule returns the contract's rule for modifier, if any.
func (c *PayerContract) ModifierRule(modifier string) (ModifierRule, bool) {
	for _, r := range c.ModifierRules {
		if r.Modifier == modifier {
			return r, true
		}
	}
	return ModifierRule{}, false
}
