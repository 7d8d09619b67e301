package claim

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity ranks a validation issue. CRITICAL and ERROR block encoding;
// WARNING is advisory.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
)

// DefaultTimelyFilingDays is the service-date age after which a timely
// filing warning is raised.
const DefaultTimelyFilingDays = 90

// maxDiagnosisPointers is the number of pointers SV107 can carry.
const maxDiagnosisPointers = 4

// Issue is one validation finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
}

// PayerCheck records the outcome of one payer-specific rule.
type PayerCheck struct {
	Rule    string `json:"rule"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// ValidationResult is the outcome of validating one claim.
type ValidationResult struct {
	ClaimNumber         string       `json:"claim_number"`
	IsValid             bool         `json:"is_valid"`
	Errors              []Issue      `json:"errors"`
	Warnings            []Issue      `json:"warnings"`
	PayerSpecificChecks []PayerCheck `json:"payer_specific_checks"`
}

func (r *ValidationResult) add(sev Severity, code, field, format string, args ...interface{}) {
	issue := Issue{Severity: sev, Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
	if sev == SeverityWarning {
		r.Warnings = append(r.Warnings, issue)
		return
	}
	r.Errors = append(r.Errors, issue)
}

func (r *ValidationResult) check(rule string, passed bool, msg string) {
	r.PayerSpecificChecks = append(r.PayerSpecificChecks, PayerCheck{Rule: rule, Passed: passed, Message: msg})
}

// PayerRules holds the payer-specific requirements applied to a claim.
type PayerRules struct {
	PayerID          string         `json:"payer_id" mapstructure:"payer_id"`
	PriorAuthCodes   []string       `json:"prior_auth_codes,omitempty" mapstructure:"prior_auth_codes"`
	RequiresReferral bool           `json:"requires_referral" mapstructure:"requires_referral"`
	MaxUnits         map[string]int `json:"max_units,omitempty" mapstructure:"max_units"`
}

func (p *PayerRules) requiresPriorAuth(code string) bool {
	for _, c := range p.PriorAuthCodes {
		if c == code {
			return true
		}
	}
	return false
}

// PayerRuleSet resolves payer rules by the claim's insurance id.
type PayerRuleSet interface {
	RulesFor(insuranceID string) (*PayerRules, bool)
}

// StaticPayerRules is a PayerRuleSet backed by a fixed map.
type StaticPayerRules map[string]PayerRules

// RulesFor implements PayerRuleSet.
func (s StaticPayerRules) RulesFor(insuranceID string) (*PayerRules, bool) {
	r, ok := s[insuranceID]
	if !ok {
		return nil, false
	}
	return &r, true
}

// ValidateOptions controls per-call behaviour.
type ValidateOptions struct {
	// OverrideTimelyFiling suppresses the timely filing warning.
	OverrideTimelyFiling bool
}

// Validator runs pre-submission checks.
type Validator struct {
	rules            PayerRuleSet
	timelyFilingDays int
	now              func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithTimelyFilingDays overrides the timely filing window.
func WithTimelyFilingDays(days int) ValidatorOption {
	return func(v *Validator) {
		if days > 0 {
			v.timelyFilingDays = days
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a Validator. rules may be nil when no payer-specific
// rules apply.
func NewValidator(rules PayerRuleSet, opts ...ValidatorOption) *Validator {
	v := &Validator{rules: rules, timelyFilingDays: DefaultTimelyFilingDays, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks c and returns every finding.
func (v *Validator) Validate(c *Claim, opts ValidateOptions) *ValidationResult {
	res := &ValidationResult{
		ClaimNumber:         c.ClaimNumber,
		Errors:              []Issue{},
		Warnings:            []Issue{},
		PayerSpecificChecks: []PayerCheck{},
	}

	v.structural(c, res)
	v.temporal(c, opts, res)
	v.payerSpecific(c, res)

	res.IsValid = len(res.Errors) == 0
	return res
}

func (v *Validator) structural(c *Claim, res *ValidationResult) {
	if strings.TrimSpace(c.PatientID) == "" {
		res.add(SeverityCritical, "MISSING_PATIENT", "patient_id", "patient id is required")
	}
	if strings.TrimSpace(c.InsuranceID) == "" {
		res.add(SeverityCritical, "MISSING_INSURANCE", "insurance_id", "insurance id is required")
	}
	if strings.TrimSpace(c.PrimaryDiagnosis) == "" {
		res.add(SeverityError, "MISSING_PRIMARY_DIAGNOSIS", "primary_diagnosis", "primary diagnosis is required")
	}
	if strings.TrimSpace(c.BillingProvider.NPI) == "" {
		res.add(SeverityError, "MISSING_BILLING_PROVIDER", "billing_provider.npi", "billing provider NPI is required")
	}
	if len(c.Charges) == 0 {
		res.add(SeverityCritical, "NO_CHARGES", "charges", "claim must have at least one charge")
		return
	}

	diagCount := len(c.Diagnoses())
	for i, ch := range c.Charges {
		field := fmt.Sprintf("charges[%d]", i)
		if strings.TrimSpace(ch.ProcedureCode) == "" {
			res.add(SeverityError, "MISSING_PROCEDURE_CODE", field+".procedure_code", "charge %d has no procedure code", i+1)
		}
		if ch.Quantity < 1 {
			res.add(SeverityError, "INVALID_QUANTITY", field+".quantity", "charge %d quantity must be at least 1, got %d", i+1, ch.Quantity)
		}
		if ch.TotalCharge.IsNegative() {
			res.add(SeverityError, "NEGATIVE_CHARGE", field+".total_charge", "charge %d amount cannot be negative", i+1)
		}
		if len(ch.DiagnosisPointers) > maxDiagnosisPointers {
			res.add(SeverityError, "TOO_MANY_POINTERS", field+".diagnosis_pointers", "charge %d has %d diagnosis pointers, at most %d allowed", i+1, len(ch.DiagnosisPointers), maxDiagnosisPointers)
		}
		for _, p := range ch.DiagnosisPointers {
			if p < 1 || p > diagCount {
				res.add(SeverityError, "INVALID_DIAGNOSIS_POINTER", field+".diagnosis_pointers", "charge %d points to diagnosis %d but the claim has %d", i+1, p, diagCount)
			}
		}
	}
}

func (v *Validator) temporal(c *Claim, opts ValidateOptions, res *ValidationResult) {
	if c.ServiceDate.IsZero() {
		res.add(SeverityError, "MISSING_SERVICE_DATE", "service_date", "service date is required")
		return
	}
	now := v.now()
	if c.ServiceDate.After(now) {
		res.add(SeverityError, "FUTURE_SERVICE_DATE", "service_date", "service date %s is in the future", c.ServiceDate.Format("2006-01-02"))
		return
	}
	age := int(now.Sub(c.ServiceDate).Hours() / 24)
	if age > v.timelyFilingDays && !opts.OverrideTimelyFiling {
		res.add(SeverityWarning, "TIMELY_FILING_RISK", "service_date", "service date is %d days old, timely filing window is %d days", age, v.timelyFilingDays)
	}
}

func (v *Validator) payerSpecific(c *Claim, res *ValidationResult) {
	if v.rules == nil {
		return
	}
	rules, ok := v.rules.RulesFor(c.InsuranceID)
	if !ok {
		return
	}

	codesNeedingAuth := map[string]bool{}
	for _, ch := range c.Charges {
		if rules.requiresPriorAuth(ch.ProcedureCode) {
			codesNeedingAuth[ch.ProcedureCode] = true
		}
	}
	if len(codesNeedingAuth) > 0 {
		codes := sortedKeys(codesNeedingAuth)
		if c.PriorAuthNumber == "" {
			msg := fmt.Sprintf("prior authorization required for %s", strings.Join(codes, ", "))
			res.check("PRIOR_AUTHORIZATION", false, msg)
			res.add(SeverityError, "MISSING_PRIOR_AUTH", "prior_auth_number", "%s", msg)
		} else {
			res.check("PRIOR_AUTHORIZATION", true, "")
		}
	}

	if rules.RequiresReferral {
		if c.ReferralNumber == "" {
			res.check("REFERRAL", false, "payer requires a referral")
			res.add(SeverityError, "MISSING_REFERRAL", "referral_number", "payer requires a referral number")
		} else {
			res.check("REFERRAL", true, "")
		}
	}

	if len(rules.MaxUnits) > 0 {
		units := map[string]int{}
		for _, ch := range c.Charges {
			units[ch.ProcedureCode] += ch.Quantity
		}
		for _, code := range sortedKeys(units) {
			limit, ok := rules.MaxUnits[code]
			if !ok {
				continue
			}
			if units[code] > limit {
				msg := fmt.Sprintf("%s billed %d units, payer allows %d", code, units[code], limit)
				res.check("MAX_UNITS:"+code, false, msg)
				res.add(SeverityError, "UNITS_EXCEED_MAXIMUM", "charges", "%s", msg)
			} else {
				res.check("MAX_UNITS:"+code, true, "")
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
