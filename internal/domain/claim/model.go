package claim

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when no claim matches.
var ErrNotFound = errors.New("claim not found")

// Status is the lifecycle state of a claim.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusValidated     Status = "VALIDATED"
	StatusSubmitted     Status = "SUBMITTED"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusDenied        Status = "DENIED"
	StatusClosed        Status = "CLOSED"
)

var validStatuses = map[Status]bool{
	StatusDraft: true, StatusValidated: true, StatusSubmitted: true,
	StatusPartiallyPaid: true, StatusPaid: true, StatusDenied: true, StatusClosed: true,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return validStatuses[s] }

// Address is a postal address used on provider loops.
type Address struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2,omitempty"`
	City  string `json:"city"`
	State string `json:"state"`
	Zip   string `json:"zip"`
}

// Provider identifies the billing provider of a claim.
type Provider struct {
	NPI     string  `json:"npi" validate:"omitempty,npi"`
	Name    string  `json:"name"`
	TaxID   string  `json:"tax_id,omitempty"`
	Address Address `json:"address"`
}

// Charge is a single billed service line.
type Charge struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	ClaimID           uuid.UUID       `db:"claim_id" json:"claim_id"`
	LineNumber        int             `db:"line_number" json:"line_number"`
	ProcedureCode     string          `db:"procedure_code" json:"procedure_code" validate:"omitempty,procedure_code"`
	Quantity          int             `db:"quantity" json:"quantity" validate:"min=1"`
	Modifiers         []string        `db:"modifiers" json:"modifiers,omitempty" validate:"max=4,dive,modifier"`
	DiagnosisPointers []int           `db:"diagnosis_pointers" json:"diagnosis_pointers,omitempty"`
	TotalCharge       decimal.Decimal `db:"total_charge" json:"total_charge"`
	ServiceDate       *time.Time      `db:"service_date" json:"service_date,omitempty"`
}

// HasModifiers reports whether the charge carries any modifier.
func (ch *Charge) HasModifiers() bool {
	return len(ch.Modifiers) > 0
}

// Claim is a professional claim built at charge capture.
type Claim struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	ClaimNumber          string          `db:"claim_number" json:"claim_number" validate:"required"`
	PatientID            string          `db:"patient_id" json:"patient_id"`
	InsuranceID          string          `db:"insurance_id" json:"insurance_id"`
	PayerID              string          `db:"payer_id" json:"payer_id"`
	PayerName            string          `db:"payer_name" json:"payer_name"`
	ContractID           *uuid.UUID      `db:"contract_id" json:"contract_id,omitempty"`
	SubscriberFirstName  string          `db:"subscriber_first_name" json:"subscriber_first_name,omitempty"`
	SubscriberLastName   string          `db:"subscriber_last_name" json:"subscriber_last_name,omitempty"`
	PatientFirstName     string          `db:"patient_first_name" json:"patient_first_name,omitempty"`
	PatientLastName      string          `db:"patient_last_name" json:"patient_last_name,omitempty"`
	PrimaryDiagnosis     string          `db:"primary_diagnosis" json:"primary_diagnosis"`
	SecondaryDiagnoses   []string        `db:"secondary_diagnoses" json:"secondary_diagnoses,omitempty"`
	Charges              []Charge        `json:"charges" validate:"required,min=1,dive"`
	BillingProvider      Provider        `db:"billing_provider" json:"billing_provider"`
	RenderingProviderNPI string          `db:"rendering_provider_npi" json:"rendering_provider_npi,omitempty" validate:"omitempty,npi"`
	PlaceOfService       string          `db:"place_of_service" json:"place_of_service,omitempty"`
	PriorAuthNumber      string          `db:"prior_auth_number" json:"prior_auth_number,omitempty"`
	ReferralNumber       string          `db:"referral_number" json:"referral_number,omitempty"`
	ServiceDate          time.Time       `db:"service_date" json:"service_date"`
	SubmittedDate        *time.Time      `db:"submitted_date" json:"submitted_date,omitempty"`
	Status               Status          `db:"status" json:"status"`
	PaidAmount           decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	AdjustedAmount       decimal.Decimal `db:"adjusted_amount" json:"adjusted_amount"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// TotalCharges is the sum of all charge totals.
func (c *Claim) TotalCharges() decimal.Decimal {
	total := decimal.Zero
	for _, ch := range c.Charges {
		total = total.Add(ch.TotalCharge)
	}
	return total
}

// Balance is the amount still outstanding after payments and adjustments.
func (c *Claim) Balance() decimal.Decimal {
	return c.TotalCharges().Sub(c.PaidAmount).Sub(c.AdjustedAmount)
}

// IsFullyPaid reports whether no further payment is expected.
func (c *Claim) IsFullyPaid() bool {
	return c.Status == StatusPaid || c.Status == StatusClosed
}

// Diagnoses returns the primary diagnosis followed by the secondary ones.
func (c *Claim) Diagnoses() []string {
	var codes []string
	if c.PrimaryDiagnosis != "" {
		codes = append(codes, c.PrimaryDiagnosis)
	}
	return append(codes, c.SecondaryDiagnoses...)
}

// HasSeparatePatient reports whether the patient differs from the
// subscriber, which adds a patient hierarchical level to the 837.
func (c *Claim) HasSeparatePatient() bool {
	return c.PatientID != c.InsuranceID
}

// ChargeByProcedure returns the first charge billed with code, or nil.
func (c *Claim) ChargeByProcedure(code string) *Charge {
	for i := range c.Charges {
		if c.Charges[i].ProcedureCode == code {
			return &c.Charges[i]
		}
	}
	return nil
}
