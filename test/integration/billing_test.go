//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/revcycle/internal/domain/claim"
	"github.com/ehr/revcycle/internal/domain/contract"
	"github.com/ehr/revcycle/internal/platform/db"
	"github.com/ehr/revcycle/migrations"
)

func TestMigrations_AppliedOnTenantCreate(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t, "mig")

	statuses, err := db.NewMigrator(globalDB.Pool, migrations.FS).Status(ctx, db.SchemaFor(tenantID))
	if err != nil {
		t.Fatalf("migration status: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("expected at least one migration")
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %d (%s) not applied", s.Version, s.Name)
		}
	}

	// A second run has nothing left to do.
	n, err := db.NewMigrator(globalDB.Pool, migrations.FS).Up(ctx, db.SchemaFor(tenantID))
	if err != nil || n != 0 {
		t.Errorf("expected no pending migrations, got %d, %v", n, err)
	}
}

func TestClaimCRUD(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t, "clm")
	created := createTestClaim(t, ctx, tenantID, "CLM-1001", "150.00", nil)
	repo := claim.NewRepoPG(globalDB.Pool)

	t.Run("GetByID", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			got, err := repo.GetByID(ctx, created.ID)
			if err != nil {
				return err
			}
			if got.ClaimNumber != "CLM-1001" || got.Status != claim.StatusSubmitted {
				t.Errorf("unexpected claim %+v", got)
			}
			if len(got.Charges) != 1 || got.Charges[0].ProcedureCode != "99213" {
				t.Errorf("expected one 99213 charge, got %+v", got.Charges)
			}
			if !got.Charges[0].TotalCharge.Equal(dec("150")) {
				t.Errorf("expected 150.00 charge, got %s", got.Charges[0].TotalCharge)
			}
			if got.BillingProvider.NPI != "1234567893" || got.BillingProvider.Address.City != "AUSTIN" {
				t.Errorf("billing provider not round-tripped: %+v", got.BillingProvider)
			}
			if len(got.SecondaryDiagnoses) != 1 || got.SecondaryDiagnoses[0] != "I10" {
				t.Errorf("secondary diagnoses not round-tripped: %v", got.SecondaryDiagnoses)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
	})

	t.Run("GetByClaimNumber", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			got, err := repo.GetByClaimNumber(ctx, "CLM-1001")
			if err != nil {
				return err
			}
			if got.ID != created.ID {
				t.Errorf("expected %s, got %s", created.ID, got.ID)
			}
			if _, err := repo.GetByClaimNumber(ctx, "CLM-NOPE"); !errors.Is(err, claim.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("GetByClaimNumber: %v", err)
		}
	})

	t.Run("UpdateAndOutstanding", func(t *testing.T) {
		err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
			outstanding, err := repo.ListOutstanding(ctx)
			if err != nil {
				return err
			}
			if len(outstanding) != 1 {
				t.Errorf("expected 1 outstanding claim, got %d", len(outstanding))
			}

			cl, err := repo.GetByID(ctx, created.ID)
			if err != nil {
				return err
			}
			cl.Status = claim.StatusPaid
			cl.PaidAmount = dec("150")
			if err := repo.Update(ctx, cl); err != nil {
				return err
			}

			outstanding, err = repo.ListOutstanding(ctx)
			if err != nil {
				return err
			}
			if len(outstanding) != 0 {
				t.Errorf("expected paid claim to leave the outstanding list, got %d", len(outstanding))
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	})
}

func TestClaim_DuplicateNumberRejected(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t, "dup")
	createTestClaim(t, ctx, tenantID, "CLM-2001", "100.00", nil)

	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		return claim.NewRepoPG(globalDB.Pool).Create(ctx, &claim.Claim{ClaimNumber: "CLM-2001"})
	})
	if err == nil {
		t.Error("expected duplicate claim number to be rejected")
	}
}

func TestContractCRUD(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t, "ctr")
	created := createTestContract(t, ctx, tenantID, "90.00")
	repo := contract.NewRepoPG(globalDB.Pool)

	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		got, err := repo.GetByID(ctx, created.ID)
		if err != nil {
			return err
		}
		if got.PaymentTerms.DaysToPay != 30 {
			t.Errorf("expected 30 days to pay, got %d", got.PaymentTerms.DaysToPay)
		}
		if len(got.FeeSchedules) != 1 || len(got.FeeSchedules[0].Entries) != 2 {
			t.Fatalf("expected one schedule with two entries, got %+v", got.FeeSchedules)
		}
		e := got.FeeSchedules[0].Entry("99213")
		if e == nil || e.ContractedRate == nil || !e.ContractedRate.Equal(dec("90")) {
			t.Errorf("unexpected 99213 entry %+v", e)
		}
		if e.FlatRate != nil {
			t.Error("expected no flat rate on the 99213 entry")
		}
		if len(got.ModifierRules) != 1 || got.ModifierRules[0].Kind != contract.ModifierPercentage {
			t.Errorf("unexpected modifier rules %+v", got.ModifierRules)
		}

		items, total, err := repo.List(ctx, 10, 0)
		if err != nil {
			return err
		}
		if total != 1 || len(items) != 1 {
			t.Errorf("expected 1 contract, got %d/%d", len(items), total)
		}

		if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, contract.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("contract repo: %v", err)
	}
}

func TestExpectedForStoredClaim(t *testing.T) {
	ctx := context.Background()
	tenantID := newTenant(t, "exp")
	ctr := createTestContract(t, ctx, tenantID, "90.00")
	cl := createTestClaim(t, ctx, tenantID, "CLM-3001", "150.00", &ctr.ID)

	svc := contract.NewService(contract.NewRepoPG(globalDB.Pool), claim.NewRepoPG(globalDB.Pool),
		contract.NewCalculator(contract.ReferenceMedicareRates()))
	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		exp, err := svc.ExpectedForClaim(ctx, ctr.ID, cl.ID)
		if err != nil {
			return err
		}
		if !exp.Expected.Equal(dec("90")) {
			t.Errorf("expected 90.00 expected total, got %s", exp.Expected)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ExpectedForClaim: %v", err)
	}
}
