package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/revcycle/internal/platform/metrics"
)

// TxRunner runs fn atomically. The default runs fn as is.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Service struct {
	claims    Repository
	validator *Validator
	encoder   *Encoder
	metrics   *metrics.Recorder
	logger    zerolog.Logger
	inTx      TxRunner
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTxRunner makes batch submission all or nothing.
func WithTxRunner(fn TxRunner) ServiceOption { return func(s *Service) { s.inTx = fn } }

func NewService(claims Repository, validator *Validator, encoder *Encoder, rec *metrics.Recorder, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		claims:    claims,
		validator: validator,
		encoder:   encoder,
		metrics:   rec,
		logger:    logger,
		inTx:      func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) },
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateClaim stores a new claim captured from charges. Only the data model
// invariants are enforced here; payer and filing rules run at validation.
func (s *Service) CreateClaim(ctx context.Context, c *Claim) error {
	if c.ClaimNumber == "" {
		return fmt.Errorf("claim_number is required")
	}
	if len(c.Charges) == 0 {
		return fmt.Errorf("claim must have at least one charge")
	}
	for i, ch := range c.Charges {
		if ch.Quantity < 1 {
			return fmt.Errorf("charge %d quantity must be at least 1", i+1)
		}
	}
	if c.ServiceDate.After(s.now()) {
		return fmt.Errorf("service_date cannot be in the future")
	}
	if c.Status == "" {
		c.Status = StatusDraft
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid claim status: %s", c.Status)
	}
	return s.claims.Create(ctx, c)
}

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.claims.GetByID(ctx, id)
}

// ValidateClaim runs the validator and promotes a valid draft to VALIDATED.
func (s *Service) ValidateClaim(ctx context.Context, id uuid.UUID, opts ValidateOptions) (*ValidationResult, error) {
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := s.validator.Validate(c, opts)
	if res.IsValid && c.Status == StatusDraft {
		c.Status = StatusValidated
		if err := s.claims.Update(ctx, c); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// SubmitBatch encodes the claims into one 837P interchange and marks them
// SUBMITTED. Claims already past submission are rejected. Either every claim
// in the batch is marked or none is.
func (s *Service) SubmitBatch(ctx context.Context, ids []uuid.UUID, opts ValidateOptions) (*Batch, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("claim_ids is required")
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("claim %s appears more than once in the batch", id)
		}
		seen[id] = true
	}

	var batch *Batch
	var count int
	err := s.inTx(ctx, func(ctx context.Context) error {
		claims := make([]*Claim, 0, len(ids))
		for _, id := range ids {
			c, err := s.claims.LockByID(ctx, id)
			if err != nil {
				return fmt.Errorf("load claim %s: %w", id, err)
			}
			if c.Status != StatusDraft && c.Status != StatusValidated {
				return fmt.Errorf("claim %s is %s and cannot be submitted", c.ClaimNumber, c.Status)
			}
			claims = append(claims, c)
		}

		encoded, err := s.encoder.Encode(ctx, claims, opts)
		if err != nil {
			return err
		}

		submitted := s.now()
		for _, c := range claims {
			marked := *c
			marked.Status = StatusSubmitted
			marked.SubmittedDate = &submitted
			if err := s.claims.Update(ctx, &marked); err != nil {
				return fmt.Errorf("mark claim %s submitted: %w", c.ClaimNumber, err)
			}
		}
		batch, count = encoded, len(claims)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ClaimsEncoded(count)
	s.logger.Info().
		Int64("interchange_control", batch.InterchangeControl).
		Int("claims", count).
		Int("segments", batch.SegmentCount).
		Msg("837 batch generated")
	return batch, nil
}
