// Package metrics exposes Prometheus instruments for the claims pipeline. A
// nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the service's instruments on a private registry.
type Recorder struct {
	registry      *prometheus.Registry
	claimsEncoded prometheus.Counter
	claimPayments *prometheus.CounterVec
	underpayments prometheus.Counter
	eraParse      prometheus.Histogram
}

// New creates a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		claimsEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rcm_claims_encoded_total",
			Help: "Claims written into 837P interchanges.",
		}),
		claimPayments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcm_era_claim_payments_total",
			Help: "ERA claim payments processed by the posting engine, by result.",
		}, []string{"result"}),
		underpayments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rcm_underpayments_flagged_total",
			Help: "Claims flagged as underpaid against their contract.",
		}),
		eraParse: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rcm_era_parse_seconds",
			Help:    "Time spent decoding 835 files.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.claimsEncoded, r.claimPayments, r.underpayments, r.eraParse,
	)
	return r
}

// ClaimsEncoded adds n encoded claims.
func (r *Recorder) ClaimsEncoded(n int) {
	if r == nil {
		return
	}
	r.claimsEncoded.Add(float64(n))
}

// ClaimPayment counts one processed claim payment with result "posted" or
// "suspended".
func (r *Recorder) ClaimPayment(result string) {
	if r == nil {
		return
	}
	r.claimPayments.WithLabelValues(result).Inc()
}

// UnderpaymentFlagged counts one flagged claim.
func (r *Recorder) UnderpaymentFlagged() {
	if r == nil {
		return
	}
	r.underpayments.Inc()
}

// ObserveParse records the duration of one 835 decode started at start.
func (r *Recorder) ObserveParse(start time.Time) {
	if r == nil {
		return
	}
	r.eraParse.Observe(time.Since(start).Seconds())
}

// Gatherer exposes the registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an echo handler serving the registry.
func (r *Recorder) Handler() echo.HandlerFunc {
	h := promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
	return echo.WrapHandler(http.Handler(h))
}
