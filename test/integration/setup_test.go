//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/domain/claim"
	"github.com/ehr/revcycle/internal/domain/contract"
	"github.com/ehr/revcycle/internal/platform/db"
	"github.com/ehr/revcycle/migrations"
)

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// globalDB is the package-level test database, initialized once in TestMain.
var globalDB *testDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tdb, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres: %v\n", err)
		os.Exit(1)
	}

	globalDB = tdb
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupPostgres connects to INTEGRATION_DATABASE_URL when set and otherwise
// starts a disposable postgres:16-alpine container.
func setupPostgres(ctx context.Context) (*testDB, func(), error) {
	connStr := os.Getenv("INTEGRATION_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("start postgres container: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &testDB{Pool: pool, ConnStr: connStr}, func() {
		pool.Close()
		cleanup()
	}, nil
}

// createTenantSchema creates a new tenant schema and runs all migrations.
func createTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	if err := db.CreateTenantSchema(ctx, globalDB.Pool, tenantID, migrations.FS); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
}

// dropTenantSchema drops a tenant schema for cleanup.
func dropTenantSchema(t *testing.T, ctx context.Context, tenantID string) {
	t.Helper()
	schema := db.SchemaFor(tenantID)
	_, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
	if err != nil {
		t.Logf("warning: failed to drop schema %s: %v", schema, err)
	}
}

// withTenantConn runs fn on a connection scoped to the tenant schema, the
// way request handlers see it.
func withTenantConn(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	return db.WithOwnConn(db.WithTenant(ctx, tenantID), globalDB.Pool, fn)
}

// newTenant provisions a schema for one test and drops it afterwards.
func newTenant(t *testing.T, prefix string) string {
	t.Helper()
	tenantID := uniqueTenantID(prefix)
	createTenantSchema(t, context.Background(), tenantID)
	t.Cleanup(func() { dropTenantSchema(t, context.Background(), tenantID) })
	return tenantID
}

// uniqueTenantID generates a unique tenant ID for test isolation.
func uniqueTenantID(prefix string) string {
	short := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	return fmt.Sprintf("%s_%s", prefix, short)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ratePtr(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

// createTestContract stores a fee schedule contract paying rate for 99213.
func createTestContract(t *testing.T, ctx context.Context, tenantID, rate string) *contract.PayerContract {
	t.Helper()
	c := &contract.PayerContract{
		PayerID:             "60054",
		Name:                "Aetna PPO " + uuid.NewString()[:4],
		ReimbursementMethod: contract.MethodFeeSchedule,
		PaymentTerms:        contract.PaymentTerms{DaysToPay: 30},
		FeeSchedules: []contract.FeeSchedule{{
			Name:          "2024",
			EffectiveDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Entries: []contract.FeeScheduleEntry{
				{ProcedureCode: "99213", ContractedRate: ratePtr(rate)},
				{ProcedureCode: "85025", FlatRate: ratePtr("12.00")},
			},
		}},
		ModifierRules: []contract.ModifierRule{
			{Modifier: "50", Kind: contract.ModifierPercentage, Value: dec("1.5")},
		},
	}
	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		return contract.NewRepoPG(globalDB.Pool).Create(ctx, c)
	})
	if err != nil {
		t.Fatalf("create test contract: %v", err)
	}
	return c
}

// createTestClaim stores a submitted claim with one 99213 charge.
func createTestClaim(t *testing.T, ctx context.Context, tenantID, number, billed string, contractID *uuid.UUID) *claim.Claim {
	t.Helper()
	submitted := time.Now().UTC().Add(-24 * time.Hour)
	cl := &claim.Claim{
		ClaimNumber:         number,
		PatientID:           "MEM123",
		InsuranceID:         "MEM123",
		PayerID:             "60054",
		PayerName:           "AETNA",
		ContractID:          contractID,
		SubscriberFirstName: "JANE",
		SubscriberLastName:  "DOE",
		PrimaryDiagnosis:    "E11.9",
		SecondaryDiagnoses:  []string{"I10"},
		BillingProvider: claim.Provider{
			NPI:     "1234567893",
			Name:    "ACME CLINIC",
			Address: claim.Address{Line1: "1 MAIN ST", City: "AUSTIN", State: "TX", Zip: "78701"},
		},
		ServiceDate:   time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		SubmittedDate: &submitted,
		Status:        claim.StatusSubmitted,
		Charges: []claim.Charge{
			{LineNumber: 1, ProcedureCode: "99213", Quantity: 1, TotalCharge: dec(billed), DiagnosisPointers: []int{1}},
		},
	}
	err := withTenantConn(ctx, tenantID, func(ctx context.Context) error {
		return claim.NewRepoPG(globalDB.Pool).Create(ctx, cl)
	})
	if err != nil {
		t.Fatalf("create test claim: %v", err)
	}
	return cl
}
