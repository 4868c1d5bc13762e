package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Settlement outcomes.
const (
	OutcomeGranted    = "granted"
	OutcomeSuppressed = "suppressed"
	OutcomeNoReferral = "no_referral"
	OutcomeExisting   = "existing"
	OutcomeConflict   = "conflict"
	OutcomeError      = "error"
)

// Metrics holds the referral service collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	SettlementsTotal   *prometheus.CounterVec
	SettlementRetries  prometheus.Counter
	SettlementDuration prometheus.Histogram
	BonusCentsTotal    *prometheus.CounterVec
	CompletionsTotal   *prometheus.CounterVec
	CapturesTotal      *prometheus.CounterVec
	RateLimitedTotal   prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SettlementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_settlements_total",
			Help: "Signup settlements by outcome",
		}, []string{"outcome"}),
		SettlementRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "referral_settlement_retries_total",
			Help: "Settlement transactions re-run after a serialization conflict",
		}),
		SettlementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "referral_settlement_duration_seconds",
			Help:    "Wall time of Settle including retries",
			Buckets: prometheus.DefBuckets,
		}),
		BonusCentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_bonus_cents_total",
			Help: "Bonus amounts credited to wallets",
		}, []string{"entry_type"}),
		CompletionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_completions_total",
			Help: "Referral completion attempts by outcome",
		}, []string{"outcome"}),
		CapturesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_captures_total",
			Help: "Claimed-code capture store operations by result",
		}, []string{"result"}),
		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "referral_signup_rate_limited_total",
			Help: "Signup completion requests rejected by the per-IP limiter",
		}),
	}
}

func (m *Metrics) RecordSettlement(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(outcome).Inc()
	m.SettlementDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.SettlementRetries.Inc()
}

func (m *Metrics) RecordBonus(entryType string, cents int64) {
	if m == nil || cents <= 0 {
		return
	}
	m.BonusCentsTotal.WithLabelValues(entryType).Add(float64(cents))
}

func (m *Metrics) RecordCompletion(outcome string) {
	if m == nil {
		return
	}
	m.CompletionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCapture(result string) {
	if m == nil {
		return
	}
	m.CapturesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}
