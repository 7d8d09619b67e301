package underpayment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/domain/claim"
	"github.com/ehr/revcycle/internal/domain/contract"
	"github.com/ehr/revcycle/internal/domain/posting"
	"github.com/ehr/revcycle/internal/platform/metrics"
)

var hundred = decimal.NewFromInt(100)

// Thresholds must both be exceeded for a claim to be flagged.
type Thresholds struct {
	MinVariance decimal.Decimal
	MinPercent  decimal.Decimal
}

// DefaultThresholds flags variances over $25 and over 5%.
func DefaultThresholds() Thresholds {
	return Thresholds{MinVariance: decimal.NewFromInt(25), MinPercent: decimal.NewFromInt(5)}
}

// Assessment is the comparison of expected and paid amounts.
type Assessment struct {
	Expected   decimal.Decimal
	Paid       decimal.Decimal
	Variance   decimal.Decimal
	Percentage decimal.Decimal
	Flagged    bool
}

// Assess compares paid against expected. A zero expected amount is never
// flagged.
func (t Thresholds) Assess(expected, paid decimal.Decimal) Assessment {
	a := Assessment{Expected: expected, Paid: paid, Variance: expected.Sub(paid)}
	if !expected.IsPositive() {
		return a
	}
	a.Percentage = a.Variance.Div(expected).Mul(hundred).Round(2)
	a.Flagged = a.Variance.GreaterThan(t.MinVariance) && a.Variance.Div(expected).Mul(hundred).GreaterThan(t.MinPercent)
	return a
}

// Classify picks the first matching reason: a modifier on any charge, then
// more than one charge, then a wrong contracted rate.
func Classify(cl *claim.Claim) Reason {
	for i := range cl.Charges {
		if cl.Charges[i].HasModifiers() {
			return ReasonMissingModifierPayment
		}
	}
	if len(cl.Charges) > 1 {
		return ReasonBundlingError
	}
	return ReasonWrongContractedRate
}

// ContractLookup loads the contract a claim was billed under.
type ContractLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*contract.PayerContract, error)
}

// Detector flags claims paid below their contract.
type Detector struct {
	contracts  ContractLookup
	calc       *contract.Calculator
	store      Repository
	thresholds Thresholds
	metrics    *metrics.Recorder
	logger     zerolog.Logger
	now        func() time.Time
}

type Option func(*Detector)

func WithThresholds(t Thresholds) Option     { return func(d *Detector) { d.thresholds = t } }
func WithMetrics(r *metrics.Recorder) Option { return func(d *Detector) { d.metrics = r } }
func WithLogger(l zerolog.Logger) Option     { return func(d *Detector) { d.logger = l } }

func NewDetector(contracts ContractLookup, calc *contract.Calculator, store Repository, opts ...Option) *Detector {
	d := &Detector{
		contracts:  contracts,
		calc:       calc,
		store:      store,
		thresholds: DefaultThresholds(),
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check prices cl against its contract and stores a detection when the
// claim's paid amount falls below both thresholds. It returns nil when the
// claim has no contract, was denied, or is not underpaid. A claim with an
// OPEN detection keeps that detection.
func (d *Detector) Check(ctx context.Context, cl *claim.Claim, postingID *uuid.UUID) (*Detection, error) {
	if cl.ContractID == nil || cl.Status == claim.StatusDenied {
		return nil, nil
	}
	c, err := d.contracts.GetByID(ctx, *cl.ContractID)
	if err != nil {
		return nil, fmt.Errorf("load contract %s: %w", *cl.ContractID, err)
	}
	expected, _, err := d.calc.ExpectedForClaim(ctx, cl, c)
	if err != nil {
		return nil, fmt.Errorf("price claim %s: %w", cl.ClaimNumber, err)
	}

	a := d.thresholds.Assess(expected, cl.PaidAmount)
	if !a.Flagged {
		return nil, nil
	}

	open, err := d.store.FindOpen(ctx, cl.ID)
	if err == nil {
		return open, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := d.now().UTC()
	det := &Detection{
		ClaimID:            cl.ID,
		ClaimNumber:        cl.ClaimNumber,
		ContractID:         c.ID,
		PostingID:          postingID,
		ExpectedAmount:     a.Expected,
		PaidAmount:         a.Paid,
		Variance:           a.Variance,
		VariancePercentage: a.Percentage,
		Reason:             Classify(cl),
		Status:             StatusOpen,
		DetectedAt:         now,
		UpdatedAt:          now,
	}
	if err := d.store.Create(ctx, det); err != nil {
		return nil, fmt.Errorf("store detection: %w", err)
	}
	d.metrics.UnderpaymentFlagged()
	d.logger.Warn().
		Str("claim_number", cl.ClaimNumber).
		Str("expected", a.Expected.String()).
		Str("paid", a.Paid.String()).
		Str("reason", string(det.Reason)).
		Msg("underpayment flagged")
	return det, nil
}

// AfterPosting runs Check once a payment has posted to cl.
func (d *Detector) AfterPosting(ctx context.Context, cl *claim.Claim, p *posting.PaymentPosting) error {
	_, err := d.Check(ctx, cl, &p.ID)
	return err
}

var _ posting.UnderpaymentHook = (*Detector)(nil)
