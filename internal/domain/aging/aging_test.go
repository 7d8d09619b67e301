package aging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ehr/revcycle/internal/domain/claim"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var asOf = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

func outstanding(daysAgo int, total, paid, adjusted string, status claim.Status) *claim.Claim {
	submitted := asOf.AddDate(0, 0, -daysAgo)
	return &claim.Claim{
		Status:         status,
		SubmittedDate:  &submitted,
		Charges:        []claim.Charge{{ProcedureCode: "99213", Quantity: 1, TotalCharge: d(total)}},
		PaidAmount:     d(paid),
		AdjustedAmount: d(adjusted),
	}
}

func bucket(r *Report, label string) Bucket {
	for _, b := range r.Buckets {
		if b.Label == label {
			return b
		}
	}
	return Bucket{}
}

func TestBucketLabel(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{0, Bucket0To30}, {30, Bucket0To30}, {31, Bucket31To60}, {60, Bucket31To60},
		{61, Bucket61To90}, {90, Bucket61To90}, {91, Bucket91To120}, {120, Bucket91To120},
		{121, BucketOver120}, {400, BucketOver120},
	}
	for _, tt := range tests {
		if got := BucketLabel(tt.days); got != tt.want {
			t.Errorf("BucketLabel(%d) = %s, want %s", tt.days, got, tt.want)
		}
	}
}

func TestBuild(t *testing.T) {
	unsubmitted := outstanding(10, "100", "0", "0", claim.StatusValidated)
	unsubmitted.SubmittedDate = nil

	claims := []*claim.Claim{
		outstanding(10, "100", "0", "0", claim.StatusSubmitted),
		outstanding(25, "200", "50", "0", claim.StatusPartiallyPaid),
		outstanding(45, "300", "0", "0", claim.StatusSubmitted),
		outstanding(75, "120", "0", "20", claim.StatusDenied),
		outstanding(100, "80", "0", "0", claim.StatusSubmitted),
		outstanding(200, "500", "0", "0", claim.StatusSubmitted),
		outstanding(20, "100", "100", "0", claim.StatusPaid),
		outstanding(20, "100", "0", "0", claim.StatusClosed),
		outstanding(20, "100", "80", "20", claim.StatusPartiallyPaid),
		unsubmitted,
	}
	r := Build(asOf, claims)

	if len(r.Buckets) != 5 || r.Buckets[0].Label != Bucket0To30 || r.Buckets[4].Label != BucketOver120 {
		t.Fatalf("unexpected buckets %+v", r.Buckets)
	}
	want := map[string]struct {
		count  int
		amount string
	}{
		Bucket0To30:   {2, "250"},
		Bucket31To60:  {1, "300"},
		Bucket61To90:  {1, "100"},
		Bucket91To120: {1, "80"},
		BucketOver120: {1, "500"},
	}
	for label, w := range want {
		b := bucket(r, label)
		if b.Count != w.count || !b.Amount.Equal(d(w.amount)) {
			t.Errorf("%s: expected %d / %s, got %d / %s", label, w.count, w.amount, b.Count, b.Amount)
		}
	}
	if r.TotalCount != 6 || !r.TotalAmount.Equal(d("1230")) {
		t.Errorf("expected 6 claims totalling 1230, got %d / %s", r.TotalCount, r.TotalAmount)
	}
}

type mockOutstanding struct {
	claims []*claim.Claim
	err    error
}

func (m *mockOutstanding) ListOutstanding(context.Context) ([]*claim.Claim, error) {
	return m.claims, m.err
}

func TestHandler_Report(t *testing.T) {
	h := NewHandler(NewService(&mockOutstanding{claims: []*claim.Claim{
		outstanding(10, "100", "0", "0", claim.StatusSubmitted),
	}}))
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?as_of=2024-06-30", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Report(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var r Report
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !r.AsOf.Equal(asOf) || r.TotalCount != 1 || r.Buckets[0].Count != 1 {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestHandler_Report_Errors(t *testing.T) {
	e := echo.New()

	h := NewHandler(NewService(&mockOutstanding{}))
	req := httptest.NewRequest(http.MethodGet, "/?as_of=06/30/2024", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if he, ok := h.Report(c).(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Error("expected 400 for a malformed date")
	}

	h = NewHandler(NewService(&mockOutstanding{err: errors.New("db down")}))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	c = e.NewContext(req, httptest.NewRecorder())
	if he, ok := h.Report(c).(*echo.HTTPError); !ok || he.Code != http.StatusInternalServerError {
		t.Error("expected 500 when claims cannot be listed")
	}
}

func TestService_DefaultsToNow(t *testing.T) {
	svc := NewService(&mockOutstanding{})
	svc.now = func() time.Time { return asOf }
	r, err := svc.Report(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.AsOf.Equal(asOf) {
		t.Errorf("expected as_of %v, got %v", asOf, r.AsOf)
	}
}
