package contract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/domain/claim"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datep(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func flatContract(code, rate string) *PayerContract {
	return &PayerContract{
		Name:    "Flat",
		PayerID: "P1",
		FeeSchedules: []FeeSchedule{{
			Name:          "2024",
			EffectiveDate: date(2024, 1, 1),
			Entries:       []FeeScheduleEntry{{ProcedureCode: code, FlatRate: decp(rate)}},
		}},
	}
}

func charge(code string, qty int, billed string, mods ...string) *claim.Charge {
	return &claim.Charge{ProcedureCode: code, Quantity: qty, TotalCharge: dec(billed), Modifiers: mods}
}

func TestExpected_ModifierComposition(t *testing.T) {
	calc := NewCalculator(nil)
	c := flatContract("27447", "100")
	svc := date(2024, 3, 1)

	tests := []struct {
		name string
		mods []string
		want string
	}{
		{"no modifiers", nil, "100"},
		{"bilateral", []string{"50"}, "50"},
		{"bilateral then multiple", []string{"50", "51"}, "25"},
		{"assistant surgeon", []string{"80"}, "116"},
		{"technical component", []string{"TC"}, "74"},
		{"two surgeons", []string{"62"}, "62.5"},
		{"unknown modifier", []string{"ZZ"}, "100"},
		{"informational modifier", []string{"25"}, "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, err := calc.Expected(context.Background(), charge("27447", 1, "2000", tt.mods...), svc, c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !exp.Amount.Equal(dec(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, exp.Amount)
			}
			if exp.Basis != BasisFlatRate {
				t.Errorf("expected FLAT_RATE basis, got %s", exp.Basis)
			}
		})
	}
}

func TestExpected_ContractModifierRulesOverrideDefaults(t *testing.T) {
	calc := NewCalculator(nil)
	c := flatContract("27447", "100")
	c.ModifierRules = []ModifierRule{
		{Modifier: "50", Kind: ModifierPercentage, Value: dec("1.5")},
		{Modifier: "GT", Kind: ModifierFlat, Value: dec("12.50")},
	}

	exp, err := calc.Expected(context.Background(), charge("27447", 1, "200", "50", "GT"), date(2024, 3, 1), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 100 * 1.5 + 12.50
	if !exp.Amount.Equal(dec("162.5")) {
		t.Errorf("expected 162.5, got %s", exp.Amount)
	}
}

func TestExpected_ModifierOrderMatters(t *testing.T) {
	calc := NewCalculator(nil)
	c := flatContract("99213", "100")
	c.ModifierRules = []ModifierRule{{Modifier: "GT", Kind: ModifierFlat, Value: dec("10")}}

	a, _ := calc.Expected(context.Background(), charge("99213", 1, "200", "GT", "50"), date(2024, 3, 1), c)
	b, _ := calc.Expected(context.Background(), charge("99213", 1, "200", "50", "GT"), date(2024, 3, 1), c)
	if !a.Amount.Equal(dec("55")) || !b.Amount.Equal(dec("60")) {
		t.Errorf("expected 55 and 60, got %s and %s", a.Amount, b.Amount)
	}
}

func TestActiveSchedule(t *testing.T) {
	c := &PayerContract{FeeSchedules: []FeeSchedule{
		{Name: "2023", EffectiveDate: date(2023, 1, 1), ExpirationDate: datep(2023, 12, 31)},
		{Name: "2024H1", EffectiveDate: date(2024, 1, 1), ExpirationDate: datep(2024, 6, 30)},
	}}

	tests := []struct {
		name string
		on   time.Time
		want string
	}{
		{"inside first window", date(2023, 5, 1), "2023"},
		{"inside second window", date(2024, 2, 1), "2024H1"},
		{"first day inclusive", date(2024, 1, 1), "2024H1"},
		{"last day inclusive", date(2023, 12, 31), "2023"},
		{"after all windows", date(2025, 1, 1), "2024H1"},
		{"before all windows", date(2020, 1, 1), "2024H1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ActiveSchedule(c, tt.on)
			if s == nil || s.Name != tt.want {
				t.Errorf("expected %s, got %+v", tt.want, s)
			}
		})
	}

	if ActiveSchedule(&PayerContract{}, date(2024, 1, 1)) != nil {
		t.Error("expected nil for a contract without schedules")
	}
}

func TestExpected_UsesScheduleForServiceDate(t *testing.T) {
	calc := NewCalculator(nil)
	c := &PayerContract{FeeSchedules: []FeeSchedule{
		{Name: "old", EffectiveDate: date(2023, 1, 1), ExpirationDate: datep(2023, 12, 31),
			Entries: []FeeScheduleEntry{{ProcedureCode: "99213", ContractedRate: decp("80")}}},
		{Name: "new", EffectiveDate: date(2024, 1, 1),
			Entries: []FeeScheduleEntry{{ProcedureCode: "99213", ContractedRate: decp("90")}}},
	}}
	old, _ := calc.Expected(context.Background(), charge("99213", 1, "150"), date(2023, 6, 1), c)
	cur, _ := calc.Expected(context.Background(), charge("99213", 1, "150"), date(2024, 6, 1), c)
	if !old.Amount.Equal(dec("80")) || !cur.Amount.Equal(dec("90")) {
		t.Errorf("expected 80 and 90, got %s and %s", old.Amount, cur.Amount)
	}
}

func TestExpected_Fallbacks(t *testing.T) {
	calc := NewCalculator(nil)

	exp, err := calc.Expected(context.Background(), charge("99213", 1, "200", "50"), date(2024, 3, 1), &PayerContract{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.Basis != BasisNoSchedule || !exp.Amount.Equal(dec("120")) {
		t.Errorf("expected 60%% of billed (120) without modifiers, got %s %s", exp.Basis, exp.Amount)
	}

	exp, err = calc.Expected(context.Background(), charge("99999", 1, "200", "50"), date(2024, 3, 1), flatContract("99213", "100"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.Basis != BasisCodeNotFound || !exp.Amount.Equal(dec("100")) {
		t.Errorf("expected 50%% of billed (100), got %s %s", exp.Basis, exp.Amount)
	}
}

func TestExpected_RatePrecedence(t *testing.T) {
	medicare := StaticMedicareRates{"99213": dec("90")}
	calc := NewCalculator(medicare)

	tests := []struct {
		name  string
		entry FeeScheduleEntry
		basis Basis
		want  string
	}{
		{"flat wins", FeeScheduleEntry{FlatRate: decp("70"), ContractedRate: decp("80"), PercentOfMedicare: decp("120"), AllowedAmount: decp("95")}, BasisFlatRate, "140"},
		{"contracted next", FeeScheduleEntry{ContractedRate: decp("80"), PercentOfMedicare: decp("120"), AllowedAmount: decp("95")}, BasisContractedRate, "160"},
		{"percent of medicare", FeeScheduleEntry{PercentOfMedicare: decp("120"), AllowedAmount: decp("95")}, BasisPercentOfMedicare, "216"},
		{"allowed last", FeeScheduleEntry{AllowedAmount: decp("95")}, BasisAllowedAmount, "190"},
		{"no usable rate", FeeScheduleEntry{}, BasisCodeNotFound, "150"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.ProcedureCode = "99213"
			c := &PayerContract{FeeSchedules: []FeeSchedule{{EffectiveDate: date(2024, 1, 1), Entries: []FeeScheduleEntry{tt.entry}}}}
			exp, err := calc.Expected(context.Background(), charge("99213", 2, "300"), date(2024, 3, 1), c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if exp.Basis != tt.basis || !exp.Amount.Equal(dec(tt.want)) {
				t.Errorf("expected %s %s, got %s %s", tt.basis, tt.want, exp.Basis, exp.Amount)
			}
		})
	}
}

func TestExpected_MedicareMissingFallsThrough(t *testing.T) {
	calc := NewCalculator(StaticMedicareRates{})
	c := &PayerContract{FeeSchedules: []FeeSchedule{{EffectiveDate: date(2024, 1, 1), Entries: []FeeScheduleEntry{
		{ProcedureCode: "99213", PercentOfMedicare: decp("120"), AllowedAmount: decp("75")},
	}}}}
	exp, err := calc.Expected(context.Background(), charge("99213", 1, "150"), date(2024, 3, 1), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.Basis != BasisAllowedAmount || !exp.Amount.Equal(dec("75")) {
		t.Errorf("expected allowed amount 75, got %s %s", exp.Basis, exp.Amount)
	}
}

type failingMedicare struct{}

func (failingMedicare) GetMedicareRate(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("rate service down")
}

func TestExpected_MedicareLookupError(t *testing.T) {
	calc := NewCalculator(failingMedicare{})
	c := &PayerContract{FeeSchedules: []FeeSchedule{{EffectiveDate: date(2024, 1, 1), Entries: []FeeScheduleEntry{
		{ProcedureCode: "99213", PercentOfMedicare: decp("120")},
	}}}}
	if _, err := calc.Expected(context.Background(), charge("99213", 1, "150"), date(2024, 3, 1), c); err == nil {
		t.Error("expected lookup error to surface")
	}
}

func TestExpected_SpecialtyFormula(t *testing.T) {
	calc := NewCalculator(nil)
	c := flatContract("99213", "100")
	c.SpecialtyFormula = "amount * 1.1 + units * 2"

	exp, err := calc.Expected(context.Background(), charge("99213", 3, "400"), date(2024, 3, 1), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 300 * 1.1 + 3 * 2
	if !exp.Amount.Equal(dec("336")) {
		t.Errorf("expected 336, got %s", exp.Amount)
	}

	c.SpecialtyFormula = "amount * (("
	if _, err := calc.Expected(context.Background(), charge("99213", 1, "100"), date(2024, 3, 1), c); err == nil {
		t.Error("expected formula error")
	}
}

func TestExpected_CustomSpecialtyAdjuster(t *testing.T) {
	double := func(_ context.Context, _ *PayerContract, _ *claim.Charge, amt decimal.Decimal) (decimal.Decimal, error) {
		return amt.Mul(decimal.NewFromInt(2)), nil
	}
	calc := NewCalculator(nil, WithSpecialtyAdjuster(double))
	exp, _ := calc.Expected(context.Background(), charge("99213", 1, "100"), date(2024, 3, 1), flatContract("99213", "40"))
	if !exp.Amount.Equal(dec("80")) {
		t.Errorf("expected 80, got %s", exp.Amount)
	}
}

func TestExpected_RoundsToCents(t *testing.T) {
	calc := NewCalculator(nil)
	exp, _ := calc.Expected(context.Background(), charge("99213", 1, "100", "81"), date(2024, 3, 1), flatContract("99213", "33.33"))
	// 33.33 * 0.13 = 4.3329
	if !exp.Amount.Equal(dec("4.33")) {
		t.Errorf("expected 4.33, got %s", exp.Amount)
	}
}

func TestExpectedForClaim(t *testing.T) {
	calc := NewCalculator(nil)
	c := flatContract("99213", "100")
	cl := &claim.Claim{
		ServiceDate: date(2024, 3, 1),
		Charges: []claim.Charge{
			*charge("99213", 1, "150"),
			*charge("85025", 1, "40"),
		},
	}
	total, lines, err := calc.ExpectedForClaim(context.Background(), cl, c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 100 flat + 50% of 40
	if !total.Equal(dec("120")) || len(lines) != 2 {
		t.Errorf("expected 120 over 2 lines, got %s over %d", total, len(lines))
	}
}

func TestReferenceMedicareRates(t *testing.T) {
	rates := ReferenceMedicareRates()
	if _, err := rates.GetMedicareRate(context.Background(), "99213"); err != nil {
		t.Errorf("expected 99213 in reference table: %v", err)
	}
	if _, err := rates.GetMedicareRate(context.Background(), "00000"); !errors.Is(err, ErrNoMedicareRate) {
		t.Errorf("expected ErrNoMedicareRate, got %v", err)
	}
}
