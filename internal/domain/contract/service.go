package contract

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/domain/claim"
	"github.com/ehr/revcycle/internal/platform/formula"
)

// ClaimLookup loads claims for expected-payment queries.
type ClaimLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*claim.Claim, error)
}

type Service struct {
	contracts Repository
	claims    ClaimLookup
	calc      *Calculator
}

func NewService(contracts Repository, claims ClaimLookup, calc *Calculator) *Service {
	return &Service{contracts: contracts, claims: claims, calc: calc}
}

// ClaimExpectation is the expected payment for a whole claim.
type ClaimExpectation struct {
	ClaimID    uuid.UUID       `json:"claim_id"`
	ContractID uuid.UUID       `json:"contract_id"`
	Expected   decimal.Decimal `json:"expected"`
	Lines      []Expectation   `json:"lines"`
}

func (s *Service) CreateContract(ctx context.Context, c *PayerContract) error {
	if c.PayerID == "" {
		return fmt.Errorf("payer_id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.ReimbursementMethod == "" {
		c.ReimbursementMethod = MethodFeeSchedule
	}
	for _, sch := range c.FeeSchedules {
		if sch.ExpirationDate != nil && sch.ExpirationDate.Before(sch.EffectiveDate) {
			return fmt.Errorf("fee schedule %q expires before it takes effect", sch.Name)
		}
	}
	for _, m := range c.ModifierRules {
		if m.Kind != ModifierPercentage && m.Kind != ModifierFlat {
			return fmt.Errorf("modifier %s: invalid kind %q", m.Modifier, m.Kind)
		}
	}
	if c.SpecialtyFormula != "" {
		if _, err := formula.Compile(c.SpecialtyFormula); err != nil {
			return fmt.Errorf("specialty_formula: %w", err)
		}
	}
	return s.contracts.Create(ctx, c)
}

func (s *Service) GetContract(ctx context.Context, id uuid.UUID) (*PayerContract, error) {
	return s.contracts.GetByID(ctx, id)
}

func (s *Service) ListContracts(ctx context.Context, limit, offset int) ([]*PayerContract, int, error) {
	return s.contracts.List(ctx, limit, offset)
}

// ExpectedForClaim prices a stored claim against a contract.
func (s *Service) ExpectedForClaim(ctx context.Context, contractID, claimID uuid.UUID) (*ClaimExpectation, error) {
	c, err := s.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	cl, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	total, lines, err := s.calc.ExpectedForClaim(ctx, cl, c)
	if err != nil {
		return nil, err
	}
	return &ClaimExpectation{ClaimID: cl.ID, ContractID: c.ID, Expected: total, Lines: lines}, nil
}
