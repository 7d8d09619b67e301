package aging

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/domain/claim"
)

// Bucket labels in report order.
const (
	Bucket0To30   = "0-30"
	Bucket31To60  = "31-60"
	Bucket61To90  = "61-90"
	Bucket91To120 = "91-120"
	BucketOver120 = "120+"
)

const hoursPerDay = 24

var bucketBounds = []struct {
	label   string
	maxDays int
}{
	{Bucket0To30, 30},
	{Bucket31To60, 60},
	{Bucket61To90, 90},
	{Bucket91To120, 120},
}

// Bucket totals the outstanding balances of one age range.
type Bucket struct {
	Label  string          `json:"label"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Report is an accounts receivable aging snapshot.
type Report struct {
	AsOf        time.Time       `json:"as_of"`
	Buckets     []Bucket        `json:"buckets"`
	TotalCount  int             `json:"total_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// BucketLabel returns the bucket for a claim submitted days ago.
func BucketLabel(days int) string {
	for _, b := range bucketBounds {
		if days <= b.maxDays {
			return b.label
		}
	}
	return BucketOver120
}

// Build ages claims as of asOf. Claims that are paid, closed, unsubmitted
// or carry no positive balance are skipped.
func Build(asOf time.Time, claims []*claim.Claim) *Report {
	r := &Report{AsOf: asOf}
	idx := make(map[string]int, len(bucketBounds)+1)
	for _, b := range bucketBounds {
		idx[b.label] = len(r.Buckets)
		r.Buckets = append(r.Buckets, Bucket{Label: b.label})
	}
	idx[BucketOver120] = len(r.Buckets)
	r.Buckets = append(r.Buckets, Bucket{Label: BucketOver120})

	for _, cl := range claims {
		if cl.IsFullyPaid() || cl.SubmittedDate == nil {
			continue
		}
		balance := cl.Balance()
		if !balance.IsPositive() {
			continue
		}
		days := int(asOf.Sub(*cl.SubmittedDate).Hours() / hoursPerDay)
		if days < 0 {
			days = 0
		}
		b := &r.Buckets[idx[BucketLabel(days)]]
		b.Count++
		b.Amount = b.Amount.Add(balance)
		r.TotalCount++
		r.TotalAmount = r.TotalAmount.Add(balance)
	}
	return r
}

// OutstandingClaims lists claims that may still carry a balance.
type OutstandingClaims interface {
	ListOutstanding(ctx context.Context) ([]*claim.Claim, error)
}

type Service struct {
	claims OutstandingClaims
	now    func() time.Time
}

func NewService(claims OutstandingClaims) *Service {
	return &Service{claims: claims, now: time.Now}
}

// Report ages every outstanding claim. A zero asOf means now.
func (s *Service) Report(ctx context.Context, asOf time.Time) (*Report, error) {
	if asOf.IsZero() {
		asOf = s.now().UTC()
	}
	claims, err := s.claims.ListOutstanding(ctx)
	if err != nil {
		return nil, err
	}
	return Build(asOf, claims), nil
}
