package underpayment

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists underpayment detections.
type Repository interface {
	Create(ctx context.Context, d *Detection) error
	GetByID(ctx context.Context, id uuid.UUID) (*Detection, error)
	// FindOpen returns the OPEN detection for a claim, or ErrNotFound.
	FindOpen(ctx context.Context, claimID uuid.UUID) (*Detection, error)
	// List filters by status unless status is empty.
	List(ctx context.Context, status Status, limit, offset int) ([]*Detection, int, error)
	Update(ctx context.Context, d *Detection) error
}
