package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledger"

// Engine records posting-engine activity. A nil *Engine, or one built with a
// nil registerer, is a no-op.
type Engine struct {
	posted      *prometheus.CounterVec
	failures    *prometheus.CounterVec
	lockWait    prometheus.Histogram
	resequenced prometheus.Counter
	recalc      *prometheus.CounterVec
	drift       prometheus.Gauge
}

// NewEngine registers the engine metrics on the provided registerer.
func NewEngine(reg prometheus.Registerer) *Engine {
	if reg == nil {
		return &Engine{}
	}
	e := &Engine{
		posted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vouchers_posted_total",
			Help:      "Vouchers committed, by operation.",
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Engine operations that aborted, by operation and error kind.",
		}, []string{"operation", "kind"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "account_lock_wait_seconds",
			Help:      "Time spent acquiring the per-account locks of one operation.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		resequenced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_resequenced_total",
			Help:      "Later-dated ledger rows whose running balance was shifted by a back-dated write.",
		}),
		recalc: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalculation_updates_total",
			Help:      "Rows rewritten by balance recalculation, by target.",
		}, []string{"target"}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_drift_rows",
			Help:      "Drifted accounts plus entries found by the last verification.",
		}),
	}
	reg.MustRegister(e.posted, e.failures, e.lockWait, e.resequenced, e.recalc, e.drift)
	return e
}

// IncPosted counts a committed posting operation (post, post_draft, reverse, unpost).
func (e *Engine) IncPosted(operation string) {
	if e == nil || e.posted == nil {
		return
	}
	e.posted.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (e *Engine) IncFailure(operation, kind string) {
	if e == nil || e.failures == nil {
		return
	}
	e.failures.WithLabelValues(normalizeLabel(operation), normalizeLabel(kind)).Inc()
}

func (e *Engine) ObserveLockWait(d time.Duration) {
	if e == nil || e.lockWait == nil {
		return
	}
	e.lockWait.Observe(d.Seconds())
}

func (e *Engine) AddResequenced(n int) {
	if e == nil || e.resequenced == nil || n <= 0 {
		return
	}
	e.resequenced.Add(float64(n))
}

// AddRecalculated counts rewritten account and entry rows.
func (e *Engine) AddRecalculated(accounts, entries int) {
	if e == nil || e.recalc == nil {
		return
	}
	if accounts > 0 {
		e.recalc.WithLabelValues("account").Add(float64(accounts))
	}
	if entries > 0 {
		e.recalc.WithLabelValues("entry").Add(float64(entries))
	}
}

func (e *Engine) SetDrift(n int) {
	if e == nil || e.drift == nil {
		return
	}
	e.drift.Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
