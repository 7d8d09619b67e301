package underpayment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidStatus is returned when a list filter names an unknown status.
var ErrInvalidStatus = errors.New("invalid status")

// StatusChange is a reviewer's update to a detection.
type StatusChange struct {
	Status Status `json:"status" validate:"required,oneof=OPEN APPEALED RESOLVED DISMISSED"`
	Notes  string `json:"notes"`
}

// InvalidTransitionError is returned for a status move the workflow forbids.
type InvalidTransitionError struct {
	From, To Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move detection from %s to %s", e.From, e.To)
}

type Service struct {
	store Repository
	now   func() time.Time
}

func NewService(store Repository) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) ListDetections(ctx context.Context, status Status, limit, offset int) ([]*Detection, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	return s.store.List(ctx, status, limit, offset)
}

// UpdateStatus moves a detection along OPEN → APPEALED → RESOLVED or
// DISMISSED.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, change StatusChange) (*Detection, error) {
	d, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.CanMoveTo(change.Status) {
		return nil, &InvalidTransitionError{From: d.Status, To: change.Status}
	}
	d.Status = change.Status
	if change.Notes != "" {
		d.Notes = change.Notes
	}
	d.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
