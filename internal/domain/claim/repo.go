package claim

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists claims and their charges. Lookups return ErrNotFound
// when nothing matches. Returned claims always have Charges populated.
type Repository interface {
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	GetByClaimNumber(ctx context.Context, claimNumber string) (*Claim, error)
	// LockByID and LockByClaimNumber read a claim and lock its row for
	// the rest of the transaction in ctx.
	LockByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	LockByClaimNumber(ctx context.Context, claimNumber string) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	ListCharges(ctx context.Context, claimID uuid.UUID) ([]Charge, error)
	// ListOutstanding returns submitted claims that are not paid or closed.
	ListOutstanding(ctx context.Context) ([]*Claim, error)
}
