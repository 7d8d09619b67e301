package remittance

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when no ERA matches.
var ErrNotFound = errors.New("era not found")

// ErrUnidentified rejects a stored ERA that carries neither a TRN trace
// number nor an ISA13 control number, since a repost could not be recognised.
var ErrUnidentified = errors.New("835 has no TRN trace number or ISA13 interchange control number")

// Claim adjustment group codes.
const (
	GroupContractual           = "CO"
	GroupPatientResponsibility = "PR"
	GroupOther                 = "OA"
	GroupPayerInitiated        = "PI"
	GroupCorrection            = "CR"
)

// ClaimStatusDenied is the CLP02 value for a denied claim.
const ClaimStatusDenied = "4"

// Status is the posting state of an ERA.
type Status string

const (
	StatusReceived        Status = "RECEIVED"
	StatusPosted          Status = "POSTED"
	StatusPartiallyPosted Status = "PARTIALLY_POSTED"
	StatusError           Status = "ERROR"
)

// ReconciliationTolerance is the allowed gap between billed and
// paid plus adjustments on one claim payment.
var ReconciliationTolerance = decimal.New(1, -2)

// PaymentAdjustment is one CAS reason/amount pair.
type PaymentAdjustment struct {
	GroupCode   string          `json:"group_code"`
	ReasonCode  string          `json:"reason_code"`
	Amount      decimal.Decimal `json:"amount"`
	Quantity    decimal.Decimal `json:"quantity"`
	Description string          `json:"description,omitempty"`
}

// IsPatientResponsibility reports whether the adjustment moves to the patient.
func (a PaymentAdjustment) IsPatientResponsibility() bool {
	return a.GroupCode == GroupPatientResponsibility
}

// ServiceLinePayment is the SVC loop of a claim payment.
type ServiceLinePayment struct {
	ProcedureCode string              `json:"procedure_code"`
	Modifiers     []string            `json:"modifiers,omitempty"`
	BilledAmount  decimal.Decimal     `json:"billed_amount"`
	PaidAmount    decimal.Decimal     `json:"paid_amount"`
	Units         decimal.Decimal     `json:"units"`
	ServiceDate   *time.Time          `json:"service_date,omitempty"`
	Adjustments   []PaymentAdjustment `json:"adjustments"`
}

// AdjustmentTotal sums the line's adjustments.
func (s *ServiceLinePayment) AdjustmentTotal() decimal.Decimal {
	return sumAdjustments(s.Adjustments)
}

// ClaimPayment is one CLP loop.
type ClaimPayment struct {
	ClaimNumber             string               `json:"claim_number"`
	StatusCode              string               `json:"status_code"`
	BilledAmount            decimal.Decimal      `json:"billed_amount"`
	PaidAmount              decimal.Decimal      `json:"paid_amount"`
	PatientResponsibility   decimal.Decimal      `json:"patient_responsibility"`
	PayerClaimControlNumber string               `json:"payer_claim_control_number,omitempty"`
	ServiceDate             *time.Time           `json:"service_date,omitempty"`
	Adjustments             []PaymentAdjustment  `json:"adjustments,omitempty"`
	ServiceLines            []ServiceLinePayment `json:"service_lines"`
}

// AllAdjustments returns claim-level adjustments followed by every service
// line's adjustments.
func (c *ClaimPayment) AllAdjustments() []PaymentAdjustment {
	out := append([]PaymentAdjustment(nil), c.Adjustments...)
	for _, l := range c.ServiceLines {
		out = append(out, l.Adjustments...)
	}
	return out
}

// AdjustmentTotal sums claim-level and line-level adjustments.
func (c *ClaimPayment) AdjustmentTotal() decimal.Decimal {
	return sumAdjustments(c.AllAdjustments())
}

// Reconciles reports whether paid plus adjustments equals billed within
// ReconciliationTolerance.
func (c *ClaimPayment) Reconciles() bool {
	gap := c.PaidAmount.Add(c.AdjustmentTotal()).Sub(c.BilledAmount).Abs()
	return gap.LessThanOrEqual(ReconciliationTolerance)
}

// IsDenied reports whether the payer denied the claim.
func (c *ClaimPayment) IsDenied() bool {
	return c.StatusCode == ClaimStatusDenied
}

// ERA is a decoded 835 remittance.
type ERA struct {
	ID                    uuid.UUID       `json:"id"`
	TraceNumber           string          `json:"trace_number"`
	InterchangeControl    string          `json:"interchange_control,omitempty"`
	PayerID               string          `json:"payer_id"`
	PayerName             string          `json:"payer_name"`
	PayeeID               string          `json:"payee_id,omitempty"`
	PayeeName             string          `json:"payee_name,omitempty"`
	PaymentMethod         string          `json:"payment_method"`
	CheckNumber           string          `json:"check_number,omitempty"`
	EFTTraceNumber        string          `json:"eft_trace_number,omitempty"`
	CheckDate             *time.Time      `json:"check_date,omitempty"`
	ReportedPaymentAmount decimal.Decimal `json:"reported_payment_amount"`
	PaymentAmount         decimal.Decimal `json:"payment_amount"`
	Status                Status          `json:"status"`
	ClaimPayments         []ClaimPayment  `json:"claim_payments"`
	ReceivedAt            time.Time       `json:"received_at"`
}

// Unreconciled returns the claim numbers whose amounts do not balance.
func (e *ERA) Unreconciled() []string {
	var out []string
	for i := range e.ClaimPayments {
		if !e.ClaimPayments[i].Reconciles() {
			out = append(out, e.ClaimPayments[i].ClaimNumber)
		}
	}
	return out
}

func sumAdjustments(adjs []PaymentAdjustment) decimal.Decimal {
	total := decimal.Zero
	for _, a := range adjs {
		total = total.Add(a.Amount)
	}
	return total
}

// CheckDateOrReceived returns the check date, or the receive time when the
// remittance carries none.
func (e *ERA) CheckDateOrReceived() time.Time {
	if e.CheckDate != nil {
		return *e.CheckDate
	}
	return e.ReceivedAt
}
