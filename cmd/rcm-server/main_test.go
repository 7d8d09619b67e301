package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/config"
	"github.com/ehr/revcycle/internal/domain/claim"
	"github.com/ehr/revcycle/internal/domain/remittance"
	"github.com/ehr/revcycle/internal/platform/x12"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// ---------------------------------------------------------------------------
// Wiring helpers
// ---------------------------------------------------------------------------

func TestLoadPayerRules(t *testing.T) {
	path := writeFile(t, "payers.yaml", `
payers:
  - insurance_id: MEM123
    payer_id: "60054"
    prior_auth_codes: ["99214"]
    requires_referral: true
    max_units:
      j1100: 2
  - insurance_id: MEM456
    payer_id: "87726"
`)
	rules, err := loadPayerRules(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, ok := rules.RulesFor("MEM123")
	if !ok {
		t.Fatal("expected rules for MEM123")
	}
	if r.PayerID != "60054" || !r.RequiresReferral || len(r.PriorAuthCodes) != 1 {
		t.Errorf("unexpected rules %+v", r)
	}
	if r.MaxUnits["J1100"] != 2 {
		t.Errorf("expected max units keyed by upper-case code, got %v", r.MaxUnits)
	}
	if _, ok := rules.RulesFor("MEM456"); !ok {
		t.Error("expected rules for MEM456")
	}
}

func TestLoadPayerRules_Empty(t *testing.T) {
	rules, err := loadPayerRules("")
	if err != nil || len(rules) != 0 {
		t.Errorf("expected no rules, got %v, %v", rules, err)
	}
}

func TestLoadPayerRules_Errors(t *testing.T) {
	if _, err := loadPayerRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeFile(t, "payers.yaml", "payers:\n  - payer_id: \"60054\"\n")
	if _, err := loadPayerRules(path); err == nil {
		t.Error("expected error for entry without insurance_id")
	}
}

func TestControlSequence_Memory(t *testing.T) {
	seq, client, err := controlSequence(&config.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Error("expected no redis client without REDIS_URL")
	}
	if _, ok := seq.(*x12.MemorySequence); !ok {
		t.Errorf("expected MemorySequence, got %T", seq)
	}
}

func TestControlSequence_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	seq, client, err := controlSequence(&config.Config{RedisURL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()

	n, err := seq.Next(context.Background(), "isa")
	if err != nil || n != 1 {
		t.Fatalf("expected 1, got %d, %v", n, err)
	}
	if got, _ := mr.Get(controlNumberPrefix + "isa"); got != "1" {
		t.Errorf("expected counter stored under prefix, got %q", got)
	}
}

func TestControlSeedCmd(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Set(controlNumberPrefix+x12.GroupSequence, "900")
	url := "redis://" + mr.Addr()

	out, _, err := runCmd(t, "control", "seed", "--value", "500", "--redis-url", url)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "interchange: next control number 501") {
		t.Errorf("unexpected output %q", out)
	}
	if got, _ := mr.Get(controlNumberPrefix + x12.InterchangeSequence); got != "500" {
		t.Errorf("expected interchange seeded to 500, got %q", got)
	}
	// A sequence already past the seed is left alone.
	if got, _ := mr.Get(controlNumberPrefix + x12.GroupSequence); got != "900" {
		t.Errorf("expected group sequence kept at 900, got %q", got)
	}

	seq, client, err := controlSequence(&config.Config{RedisURL: url})
	if err != nil {
		t.Fatalf("control sequence: %v", err)
	}
	defer client.Close()
	if n, _ := seq.Next(context.Background(), x12.TransactionSequence); n != 501 {
		t.Errorf("expected next transaction number 501, got %d", n)
	}
}

func TestControlSeedCmd_RequiresRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	if _, _, err := runCmd(t, "control", "seed", "--value", "10"); err == nil {
		t.Error("expected error without a redis url")
	}
}

func TestControlSequence_BadURL(t *testing.T) {
	if _, _, err := controlSequence(&config.Config{RedisURL: "://nope"}); err == nil {
		t.Error("expected error for malformed REDIS_URL")
	}
}

func TestEnvelopeAndThresholds(t *testing.T) {
	cfg := &config.Config{
		X12SubmitterID:          "SUB01",
		X12ReceiverID:           "CH01",
		X12UsageIndicator:       "T",
		UnderpaymentMinVariance: 10,
		UnderpaymentMinPercent:  2.5,
	}
	env := envelopeFrom(cfg)
	if env.SenderID != "SUB01" || env.ReceiverID != "CH01" || env.UsageIndicator != "T" {
		t.Errorf("unexpected envelope %+v", env)
	}
	th := thresholdsFrom(cfg)
	if !th.MinVariance.Equal(decimal.NewFromInt(10)) || !th.MinPercent.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("unexpected thresholds %+v", th)
	}
}

func TestRateLimitFrom_FallsBackToDefaults(t *testing.T) {
	rl := rateLimitFrom(&config.Config{})
	if rl.RequestsPerSecond != 100 || rl.BurstSize != 200 {
		t.Errorf("expected default rate limit, got %+v", rl)
	}
	rl = rateLimitFrom(&config.Config{RateLimitRPS: 5, RateLimitBurst: 10})
	if rl.RequestsPerSecond != 5 || rl.BurstSize != 10 {
		t.Errorf("expected configured rate limit, got %+v", rl)
	}
}

func TestMigrationSource_Embedded(t *testing.T) {
	names, err := fs.Glob(migrationSource(""), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 || names[0] != "001_core.sql" {
		t.Errorf("expected embedded 001_core.sql, got %v", names)
	}
}

// ---------------------------------------------------------------------------
// edi commands
// ---------------------------------------------------------------------------

func claimsJSON(t *testing.T) string {
	t.Helper()
	claims := []*claim.Claim{{
		ClaimNumber:         "CLM-1001",
		PatientID:           "MEM123",
		InsuranceID:         "MEM123",
		PayerID:             "60054",
		PayerName:           "AETNA",
		SubscriberFirstName: "JANE",
		SubscriberLastName:  "DOE",
		PrimaryDiagnosis:    "E11.9",
		BillingProvider: claim.Provider{
			NPI:     "1234567893",
			Name:    "ACME CLINIC",
			TaxID:   "123456789",
			Address: claim.Address{Line1: "1 MAIN ST", City: "AUSTIN", State: "TX", Zip: "78701"},
		},
		ServiceDate: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		Status:      claim.StatusDraft,
		Charges: []claim.Charge{
			{ProcedureCode: "99213", Quantity: 1, TotalCharge: decimal.NewFromInt(150), DiagnosisPointers: []int{1}},
		},
	}}
	b, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	return string(b)
}

func TestEDIEncode(t *testing.T) {
	in := writeFile(t, "claims.json", claimsJSON(t))
	out, _, err := runCmd(t, "edi", "encode", "--in", in, "--start-control", "41", "--override-timely-filing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "ISA*") {
		t.Errorf("expected interchange to start with ISA, got %q", out[:min(len(out), 20)])
	}
	if !strings.Contains(out, "*000000042*") {
		t.Error("expected interchange control number to continue after --start-control")
	}
	if !strings.Contains(out, "ST*837*") || !strings.Contains(out, "CLM*CLM-1001*") {
		t.Error("expected an 837 transaction carrying the claim")
	}
}

func TestEDIEncode_ToFile(t *testing.T) {
	in := writeFile(t, "claims.json", claimsJSON(t))
	dest := filepath.Join(t.TempDir(), "out.x12")
	_, stderr, err := runCmd(t, "edi", "encode", "--in", in, "--out", dest, "--override-timely-filing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, err := os.ReadFile(dest)
	if err != nil || !strings.Contains(string(content), "IEA*1*") {
		t.Errorf("expected interchange written to file, got %v", err)
	}
	if !strings.Contains(stderr, "wrote 1 claim(s)") {
		t.Errorf("expected summary on stderr, got %q", stderr)
	}
}

func TestEDIEncode_InvalidClaims(t *testing.T) {
	in := writeFile(t, "claims.json", `[{"claim_number":"CLM-1","charges":[]}]`)
	if _, _, err := runCmd(t, "edi", "encode", "--in", in); err == nil {
		t.Error("expected invalid claims to be refused")
	}

	bad := writeFile(t, "claims.json", `{"not":"an array"}`)
	if _, _, err := runCmd(t, "edi", "encode", "--in", bad); err == nil {
		t.Error("expected a decode error")
	}
}

const sample835 = "ISA*00*          *00*          *ZZ*PAYERX         *ZZ*SUBMITTER01    *240601*1200*^*00501*000000042*0*P*:~\n" +
	"GS*HP*PAYERX*SUBMITTER01*20240601*1200*42*X*005010X221A1~\n" +
	"ST*835*0001~\n" +
	"BPR*I*400*C*CHK************20240605~\n" +
	"TRN*1*CHK12345*1512345678~\n" +
	"N1*PR*AETNA*XV*60054~\n" +
	"CLP*12345*1*500*400*100**PCN1~\n" +
	"SVC*HC:99213*500*400**1~\n" +
	"CAS*PR*96*100~\n" +
	"SE*8*0001~\n" +
	"GE*1*42~\n" +
	"IEA*1*000000042~"

func TestEDIDecode(t *testing.T) {
	in := writeFile(t, "era.835", sample835)
	out, _, err := runCmd(t, "edi", "decode", "--in", in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var era remittance.ERA
	if err := json.Unmarshal([]byte(out), &era); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if era.TraceNumber != "CHK12345" || len(era.ClaimPayments) != 1 {
		t.Errorf("unexpected era %+v", era)
	}
	if !era.ClaimPayments[0].PaidAmount.Equal(decimal.NewFromInt(400)) {
		t.Errorf("expected 400 paid, got %s", era.ClaimPayments[0].PaidAmount)
	}
}

func TestEDIDecode_StructuralError(t *testing.T) {
	truncated := strings.Replace(sample835, "SE*8*0001~\n", "", 1)
	in := writeFile(t, "era.835", truncated)
	out, _, err := runCmd(t, "edi", "decode", "--in", in)
	if err == nil {
		t.Fatal("expected parse error for unterminated transaction")
	}
	if !strings.Contains(out, `"claim_payments"`) {
		t.Error("expected the partial ERA to be printed")
	}
}
