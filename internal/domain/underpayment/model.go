package underpayment

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when no detection matches.
var ErrNotFound = errors.New("underpayment detection not found")

// Status is the review state of a detection.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusAppealed  Status = "APPEALED"
	StatusResolved  Status = "RESOLVED"
	StatusDismissed Status = "DISMISSED"
)

var transitions = map[Status][]Status{
	StatusOpen:     {StatusAppealed, StatusResolved, StatusDismissed},
	StatusAppealed: {StatusResolved, StatusDismissed},
}

// CanMoveTo reports whether a detection in s may move to next.
func (s Status) CanMoveTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusAppealed, StatusResolved, StatusDismissed:
		return true
	}
	return false
}

// Reason is the likely cause of an underpayment. It is a hint for billing
// staff, not a diagnosis.
type Reason string

const (
	ReasonMissingModifierPayment Reason = "MISSING_MODIFIER_PAYMENT"
	ReasonBundlingError          Reason = "BUNDLING_ERROR"
	ReasonWrongContractedRate    Reason = "WRONG_CONTRACTED_RATE"
)

// Detection is a claim paid materially below its contracted amount.
type Detection struct {
	ID                 uuid.UUID       `json:"id"`
	ClaimID            uuid.UUID       `json:"claim_id"`
	ClaimNumber        string          `json:"claim_number"`
	ContractID         uuid.UUID       `json:"contract_id"`
	PostingID          *uuid.UUID      `json:"posting_id,omitempty"`
	ExpectedAmount     decimal.Decimal `json:"expected_amount"`
	PaidAmount         decimal.Decimal `json:"paid_amount"`
	Variance           decimal.Decimal `json:"variance"`
	VariancePercentage decimal.Decimal `json:"variance_percentage"`
	Reason             Reason          `json:"reason"`
	Status             Status          `json:"status"`
	Notes              string          `json:"notes,omitempty"`
	DetectedAt         time.Time       `json:"detected_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
