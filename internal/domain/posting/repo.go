package posting

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists payment postings with their payments and adjustments.
type Repository interface {
	// Create stores p. It returns ErrDuplicate when the ERA was already
	// posted to the claim.
	Create(ctx context.Context, p *PaymentPosting) error
	Exists(ctx context.Context, eraID, claimID uuid.UUID) (bool, error)
	ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*PaymentPosting, error)
}
