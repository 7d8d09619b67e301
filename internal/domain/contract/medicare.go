package contract

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNoMedicareRate is returned when the rate table has no entry for a code.
var ErrNoMedicareRate = errors.New("contract: no medicare rate for code")

// MedicareRateTable resolves the Medicare allowed amount for a procedure code.
type MedicareRateTable interface {
	GetMedicareRate(ctx context.Context, code string) (decimal.Decimal, error)
}

// StaticMedicareRates is a fixed reference table.
type StaticMedicareRates map[string]decimal.Decimal

// GetMedicareRate implements MedicareRateTable.
func (t StaticMedicareRates) GetMedicareRate(_ context.Context, code string) (decimal.Decimal, error) {
	rate, ok := t[code]
	if !ok {
		return decimal.Zero, ErrNoMedicareRate
	}
	return rate, nil
}

// ReferenceMedicareRates returns a small national physician fee schedule
// reference table covering common office codes.
func ReferenceMedicareRates() StaticMedicareRates {
	rates := map[string]string{
		"99202": "72.13",
		"99203": "111.36",
		"99204": "166.28",
		"99211": "23.38",
		"99212": "56.95",
		"99213": "91.62",
		"99214": "129.37",
		"99215": "182.45",
		"36415": "3.00",
		"80053": "10.56",
		"85025": "7.77",
		"93000": "16.80",
		"71046": "31.42",
		"20610": "64.36",
		"97110": "29.20",
	}
	out := make(StaticMedicareRates, len(rates))
	for code, r := range rates {
		out[code] = decimal.RequireFromString(r)
	}
	return out
}
