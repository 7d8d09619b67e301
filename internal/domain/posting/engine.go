package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/revcycle/internal/domain/claim"
	"github.com/ehr/revcycle/internal/domain/remittance"
	"github.com/ehr/revcycle/internal/platform/metrics"
)

// DefaultConcurrency bounds how many claim payments post at once.
const DefaultConcurrency = 8

// ClaimStore is the part of the claim repository the engine needs.
// LockByClaimNumber holds the claim row until the surrounding transaction
// ends, so postings from concurrent ERAs apply to the claim one at a time.
type ClaimStore interface {
	LockByClaimNumber(ctx context.Context, claimNumber string) (*claim.Claim, error)
	Update(ctx context.Context, c *claim.Claim) error
}

// UnderpaymentHook runs after a claim payment posts. Its errors are logged
// and never affect the posting.
type UnderpaymentHook interface {
	AfterPosting(ctx context.Context, cl *claim.Claim, p *PaymentPosting) error
}

// TxRunner runs fn atomically. The default runs fn as is.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Engine posts ERA claim payments to claims.
type Engine struct {
	claims      ClaimStore
	postings    Repository
	hook        UnderpaymentHook
	inTx        TxRunner
	scope       TxRunner
	metrics     *metrics.Recorder
	logger      zerolog.Logger
	concurrency int
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithUnderpaymentHook(h UnderpaymentHook) Option { return func(e *Engine) { e.hook = h } }
func WithTxRunner(fn TxRunner) Option               { return func(e *Engine) { e.inTx = fn } }
func WithWorkerScope(fn TxRunner) Option            { return func(e *Engine) { e.scope = fn } }
func WithMetrics(r *metrics.Recorder) Option        { return func(e *Engine) { e.metrics = r } }
func WithLogger(l zerolog.Logger) Option            { return func(e *Engine) { e.logger = l } }

// WithConcurrency sets the posting fan-out. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewEngine(claims ClaimStore, postings Repository, opts ...Option) *Engine {
	e := &Engine{
		claims:      claims,
		postings:    postings,
		inTx:        passthrough,
		scope:       passthrough,
		logger:      zerolog.Nop(),
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func passthrough(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

type outcome struct {
	posting    *PaymentPosting
	suspension *Suspension
}

// PostERA posts every claim payment of era. Claim payments fail
// independently; failures come back as suspensions in the result. The
// returned error is non-nil only when ctx is cancelled.
func (e *Engine) PostERA(ctx context.Context, era *remittance.ERA) (*BatchResult, error) {
	results := make([]outcome, len(era.ClaimPayments))

	// Claim payments for the same claim number post in order on one worker so
	// that no two goroutines update the same claim.
	var order []string
	byClaim := make(map[string][]int)
	for i, cp := range era.ClaimPayments {
		if _, ok := byClaim[cp.ClaimNumber]; !ok {
			order = append(order, cp.ClaimNumber)
		}
		byClaim[cp.ClaimNumber] = append(byClaim[cp.ClaimNumber], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, number := range order {
		idxs := byClaim[number]
		g.Go(func() error {
			// Each worker gets its own connection; pgx connections are not
			// safe for concurrent use.
			err := e.scope(gctx, func(ctx context.Context) error {
				for _, i := range idxs {
					if err := ctx.Err(); err != nil {
						return err
					}
					p, err := e.postClaimPayment(ctx, era, &era.ClaimPayments[i])
					if err != nil {
						var s *Suspension
						if !errors.As(err, &s) {
							s = &Suspension{ClaimNumber: number, Reason: ReasonStoreFailed, Message: err.Error()}
						}
						results[i] = outcome{suspension: s}
						continue
					}
					results[i] = outcome{posting: p}
				}
				return nil
			})
			if err == nil || gctx.Err() != nil {
				return err
			}
			for _, i := range idxs {
				if results[i] == (outcome{}) {
					results[i] = outcome{suspension: &Suspension{
						ClaimNumber: number, Reason: ReasonLookupFailed, Message: "acquire connection: " + err.Error(),
					}}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &BatchResult{ERAID: era.ID, Errors: []Suspension{}, Postings: []*PaymentPosting{}}
	for _, r := range results {
		if r.suspension != nil {
			res.Suspended++
			res.Errors = append(res.Errors, *r.suspension)
			e.metrics.ClaimPayment("suspended")
			e.logger.Warn().
				Str("era_id", era.ID.String()).
				Str("claim_number", r.suspension.ClaimNumber).
				Str("reason", string(r.suspension.Reason)).
				Msg(r.suspension.Message)
			continue
		}
		res.Posted++
		res.Postings = append(res.Postings, r.posting)
		e.metrics.ClaimPayment("posted")
	}
	res.Status = batchStatus(res.Posted, len(era.ClaimPayments))

	e.logger.Info().
		Str("era_id", era.ID.String()).
		Int("posted", res.Posted).
		Int("suspended", res.Suspended).
		Str("status", string(res.Status)).
		Msg("ERA posted")
	return res, nil
}

func batchStatus(posted, total int) remittance.Status {
	switch {
	case posted == total:
		return remittance.StatusPosted
	case posted > 0:
		return remittance.StatusPartiallyPosted
	default:
		return remittance.StatusError
	}
}

func (e *Engine) postClaimPayment(ctx context.Context, era *remittance.ERA, cp *remittance.ClaimPayment) (*PaymentPosting, error) {
	suspend := func(reason SuspensionReason, format string, args ...interface{}) error {
		return &Suspension{ClaimNumber: cp.ClaimNumber, Reason: reason, Message: fmt.Sprintf(format, args...)}
	}
	if cp.PaidAmount.GreaterThan(cp.BilledAmount) {
		return nil, suspend(ReasonPaidExceedsBilled, "paid %s exceeds billed %s", cp.PaidAmount, cp.BilledAmount)
	}

	// Every check runs on the locked row; a snapshot read earlier could
	// already be stale when another ERA posts to the same claim.
	var p *PaymentPosting
	var updated claim.Claim
	err := e.inTx(ctx, func(ctx context.Context) error {
		cl, err := e.claims.LockByClaimNumber(ctx, cp.ClaimNumber)
		if errors.Is(err, claim.ErrNotFound) {
			return suspend(ReasonClaimNotFound, "no claim with number %s", cp.ClaimNumber)
		}
		if err != nil {
			return suspend(ReasonLookupFailed, "look up claim: %v", err)
		}
		if cl.IsFullyPaid() {
			return suspend(ReasonAlreadyPaid, "claim is already %s", cl.Status)
		}
		exists, err := e.postings.Exists(ctx, era.ID, cl.ID)
		if err != nil {
			return suspend(ReasonLookupFailed, "check existing posting: %v", err)
		}
		if exists {
			return suspend(ReasonDuplicatePosting, "era %s already posted to this claim", era.ID)
		}

		p = buildPosting(era, cp, cl)
		p.PostedAt = e.now().UTC()
		updated = *cl
		applyToClaim(&updated, cp, p)

		if err := e.postings.Create(ctx, p); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return suspend(ReasonDuplicatePosting, "era %s already posted to this claim", era.ID)
			}
			return suspend(ReasonStoreFailed, "store posting: %v", err)
		}
		if err := e.claims.Update(ctx, &updated); err != nil {
			return suspend(ReasonStoreFailed, "update claim: %v", err)
		}
		return nil
	})
	if err != nil {
		var s *Suspension
		if errors.As(err, &s) {
			return nil, s
		}
		return nil, suspend(ReasonStoreFailed, "store posting: %v", err)
	}

	if e.hook != nil {
		if err := e.hook.AfterPosting(ctx, &updated, p); err != nil {
			e.logger.Error().Err(err).Str("claim_number", updated.ClaimNumber).Msg("underpayment check failed")
		}
	}
	return p, nil
}

// buildPosting turns one claim payment into payments and adjustments
// against cl. Service lines whose procedure code matches no charge post at
// claim level.
func buildPosting(era *remittance.ERA, cp *remittance.ClaimPayment, cl *claim.Claim) *PaymentPosting {
	p := &PaymentPosting{
		ID:          uuid.New(),
		ClaimID:     cl.ID,
		ClaimNumber: cl.ClaimNumber,
		Payments:    []PostedPayment{},
		Adjustments: []PostedAdjustment{},
	}
	if era.ID != uuid.Nil {
		id := era.ID
		p.ERAID = &id
	}

	addAdjustments := func(chargeID *uuid.UUID, adjs []remittance.PaymentAdjustment) {
		for _, a := range adjs {
			p.Adjustments = append(p.Adjustments, PostedAdjustment{
				ID:          uuid.New(),
				PostingID:   p.ID,
				ChargeID:    chargeID,
				GroupCode:   a.GroupCode,
				ReasonCode:  a.ReasonCode,
				Amount:      a.Amount,
				Description: a.Description,
			})
			if a.IsPatientResponsibility() {
				p.PatientResponsibility.Add(a.ReasonCode, a.Amount)
				p.TransfersToPatient = p.TransfersToPatient.Add(a.Amount)
			}
		}
	}

	addAdjustments(nil, cp.Adjustments)

	linePaid := decimal.Zero
	for _, line := range cp.ServiceLines {
		var chargeID *uuid.UUID
		if ch := cl.ChargeByProcedure(line.ProcedureCode); ch != nil {
			id := ch.ID
			chargeID = &id
		}
		p.Payments = append(p.Payments, PostedPayment{
			ID:            uuid.New(),
			PostingID:     p.ID,
			ChargeID:      chargeID,
			ProcedureCode: line.ProcedureCode,
			Source:        SourceInsurance,
			Amount:        line.PaidAmount,
		})
		linePaid = linePaid.Add(line.PaidAmount)
		addAdjustments(chargeID, line.Adjustments)
	}

	// Whatever CLP04 pays beyond the service lines posts at claim level.
	if rest := cp.PaidAmount.Sub(linePaid); !rest.IsZero() {
		p.Payments = append(p.Payments, PostedPayment{
			ID:        uuid.New(),
			PostingID: p.ID,
			Source:    SourceInsurance,
			Amount:    rest,
		})
	}
	return p
}

// applyToClaim rolls the posting into the claim's totals and status.
func applyToClaim(cl *claim.Claim, cp *remittance.ClaimPayment, p *PaymentPosting) {
	cl.PaidAmount = cl.PaidAmount.Add(p.TotalPaid())
	cl.AdjustedAmount = cl.AdjustedAmount.Add(p.TotalAdjusted())
	switch {
	case cp.IsDenied():
		cl.Status = claim.StatusDenied
	case cl.Balance().LessThanOrEqual(decimal.Zero):
		cl.Status = claim.StatusPaid
	default:
		cl.Status = claim.StatusPartiallyPaid
	}
}
