package posting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/domain/remittance"
)

// ErrDuplicate is returned by Repository.Create when a posting already
// exists for the same ERA and claim.
var ErrDuplicate = errors.New("posting already exists for era and claim")

// Payment sources.
const (
	SourceInsurance = "INSURANCE"
	SourcePatient   = "PATIENT"
)

// PostedPayment is money applied to a claim, either to a matched charge or
// at claim level when ChargeID is nil.
type PostedPayment struct {
	ID            uuid.UUID       `json:"id"`
	PostingID     uuid.UUID       `json:"posting_id"`
	ChargeID      *uuid.UUID      `json:"charge_id,omitempty"`
	ProcedureCode string          `json:"procedure_code,omitempty"`
	Source        string          `json:"source"`
	Amount        decimal.Decimal `json:"amount"`
}

// PostedAdjustment is one CAS entry applied to a claim.
type PostedAdjustment struct {
	ID          uuid.UUID       `json:"id"`
	PostingID   uuid.UUID       `json:"posting_id"`
	ChargeID    *uuid.UUID      `json:"charge_id,omitempty"`
	GroupCode   string          `json:"group_code"`
	ReasonCode  string          `json:"reason_code"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// ResponsibilityBreakdown splits patient responsibility by CARC.
type ResponsibilityBreakdown struct {
	Deductible  decimal.Decimal `json:"deductible"`
	Coinsurance decimal.Decimal `json:"coinsurance"`
	Copay       decimal.Decimal `json:"copay"`
	NonCovered  decimal.Decimal `json:"non_covered"`
}

// Add files a PR adjustment under its bucket: reason 1 deductible,
// 2 coinsurance, 3 copay, anything else non-covered.
func (b *ResponsibilityBreakdown) Add(reasonCode string, amount decimal.Decimal) {
	switch reasonCode {
	case "1":
		b.Deductible = b.Deductible.Add(amount)
	case "2":
		b.Coinsurance = b.Coinsurance.Add(amount)
	case "3":
		b.Copay = b.Copay.Add(amount)
	default:
		b.NonCovered = b.NonCovered.Add(amount)
	}
}

// Total sums every bucket.
func (b ResponsibilityBreakdown) Total() decimal.Decimal {
	return b.Deductible.Add(b.Coinsurance).Add(b.Copay).Add(b.NonCovered)
}

// PaymentPosting links one ERA claim payment to a claim. ERAID is nil for
// manually entered payments.
type PaymentPosting struct {
	ID                    uuid.UUID               `json:"id"`
	ERAID                 *uuid.UUID              `json:"era_id,omitempty"`
	ClaimID               uuid.UUID               `json:"claim_id"`
	ClaimNumber           string                  `json:"claim_number"`
	PostedAt              time.Time               `json:"posted_at"`
	Payments              []PostedPayment         `json:"payments"`
	Adjustments           []PostedAdjustment      `json:"adjustments"`
	PatientResponsibility ResponsibilityBreakdown `json:"patient_responsibility"`
	TransfersToPatient    decimal.Decimal         `json:"transfers_to_patient"`
}

// TotalPaid sums the posted payments.
func (p *PaymentPosting) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, pay := range p.Payments {
		total = total.Add(pay.Amount)
	}
	return total
}

// TotalAdjusted sums the posted adjustments.
func (p *PaymentPosting) TotalAdjusted() decimal.Decimal {
	total := decimal.Zero
	for _, adj := range p.Adjustments {
		total = total.Add(adj.Amount)
	}
	return total
}

// SuspensionReason explains why a claim payment was not posted.
type SuspensionReason string

const (
	ReasonClaimNotFound     SuspensionReason = "CLAIM_NOT_FOUND"
	ReasonPaidExceedsBilled SuspensionReason = "PAID_EXCEEDS_BILLED"
	ReasonAlreadyPaid       SuspensionReason = "ALREADY_PAID"
	ReasonDuplicatePosting  SuspensionReason = "DUPLICATE_POSTING"
	ReasonLookupFailed      SuspensionReason = "LOOKUP_FAILED"
	ReasonStoreFailed       SuspensionReason = "STORE_FAILED"
)

// Suspension is a claim payment held back for manual review. It never
// aborts the rest of the ERA.
type Suspension struct {
	ClaimNumber string           `json:"claim_number"`
	Reason      SuspensionReason `json:"reason"`
	Message     string           `json:"message"`
}

func (s *Suspension) Error() string {
	return fmt.Sprintf("claim %s suspended (%s): %s", s.ClaimNumber, s.Reason, s.Message)
}

// BatchResult summarizes posting one ERA.
type BatchResult struct {
	ERAID     uuid.UUID         `json:"era_id"`
	Posted    int               `json:"posted"`
	Suspended int               `json:"suspended"`
	Errors    []Suspension      `json:"errors"`
	Postings  []*PaymentPosting `json:"postings"`
	Status    remittance.Status `json:"status"`
}
