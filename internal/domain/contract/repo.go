package contract

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists payer contracts. Returned contracts embed their fee
// schedules, entries and modifier rules.
type Repository interface {
	Create(ctx context.Context, c *PayerContract) error
	GetByID(ctx context.Context, id uuid.UUID) (*PayerContract, error)
	List(ctx context.Context, limit, offset int) ([]*PayerContract, int, error)
}
