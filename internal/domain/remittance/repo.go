package remittance

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists decoded ERAs with their claim payments.
type Repository interface {
	// Create assigns the ERA id and receive time and stores it.
	Create(ctx context.Context, era *ERA) error
	GetByID(ctx context.Context, id uuid.UUID) (*ERA, error)
	// FindByTrace returns the ERA previously stored for a payer trace number.
	FindByTrace(ctx context.Context, traceNumber, payerID string) (*ERA, error)
	// FindByInterchange returns the ERA previously stored for an ISA13
	// control number from the same payer.
	FindByInterchange(ctx context.Context, interchangeControl, payerID string) (*ERA, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	List(ctx context.Context, limit, offset int) ([]*ERA, int, error)
}
