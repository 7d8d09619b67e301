package remittance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/revcycle/internal/platform/metrics"
)

type Service struct {
	eras    Repository
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

// NewService creates a Service. eras may be nil when ERAs are only decoded
// and never stored.
func NewService(eras Repository, rec *metrics.Recorder, logger zerolog.Logger) *Service {
	return &Service{eras: eras, metrics: rec, logger: logger}
}

// Decode parses raw 835 text and records the parse duration.
func (s *Service) Decode(raw string) (*ERA, error) {
	start := time.Now()
	era, err := Parse(raw)
	s.metrics.ObserveParse(start)
	if err != nil {
		s.logger.Warn().Err(err).Int("claims_recovered", len(era.ClaimPayments)).Msg("835 decode failed")
		return era, err
	}
	if bad := era.Unreconciled(); len(bad) > 0 {
		s.logger.Warn().Strs("claim_numbers", bad).Msg("835 claim payments do not balance")
	}
	return era, nil
}

// Receive decodes and stores an ERA. A remittance already stored under the
// same payer trace number is returned instead of a new copy, with existing
// set, so that reposting a file stays idempotent. Files without a TRN are
// matched on ISA13 and payer instead.
func (s *Service) Receive(ctx context.Context, raw string) (era *ERA, existing bool, err error) {
	if s.eras == nil {
		return nil, false, fmt.Errorf("remittance: no ERA store configured")
	}
	era, err = s.Decode(raw)
	if err != nil {
		return era, false, err
	}

	prev, err := s.findPrevious(ctx, era)
	switch {
	case err == nil:
		s.logger.Info().
			Str("era_id", prev.ID.String()).
			Str("trace_number", era.TraceNumber).
			Str("interchange_control", era.InterchangeControl).
			Msg("ERA already received")
		return prev, true, nil
	case errors.Is(err, ErrUnidentified):
		return era, false, err
	case !errors.Is(err, ErrNotFound):
		return nil, false, err
	}

	if err := s.eras.Create(ctx, era); err != nil {
		return nil, false, err
	}
	s.logger.Info().
		Str("era_id", era.ID.String()).
		Str("trace_number", era.TraceNumber).
		Int("claims", len(era.ClaimPayments)).
		Str("payment_amount", era.PaymentAmount.String()).
		Msg("ERA received")
	return era, false, nil
}

func (s *Service) findPrevious(ctx context.Context, era *ERA) (*ERA, error) {
	switch {
	case era.TraceNumber != "":
		prev, err := s.eras.FindByTrace(ctx, era.TraceNumber, era.PayerID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("look up ERA by trace: %w", err)
		}
		return prev, err
	case era.InterchangeControl != "":
		prev, err := s.eras.FindByInterchange(ctx, era.InterchangeControl, era.PayerID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("look up ERA by interchange: %w", err)
		}
		return prev, err
	default:
		return nil, ErrUnidentified
	}
}

func (s *Service) GetERA(ctx context.Context, id uuid.UUID) (*ERA, error) {
	if s.eras == nil {
		return nil, ErrNotFound
	}
	return s.eras.GetByID(ctx, id)
}

func (s *Service) ListERAs(ctx context.Context, limit, offset int) ([]*ERA, int, error) {
	if s.eras == nil {
		return []*ERA{}, 0, nil
	}
	return s.eras.List(ctx, limit, offset)
}

// SetStatus records the posting outcome of an ERA.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if s.eras == nil {
		return nil
	}
	return s.eras.UpdateStatus(ctx, id, status)
}
