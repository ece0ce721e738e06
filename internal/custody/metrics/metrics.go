package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the custody use cases.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Mints              prometheus.Counter
	UnitsMinted        prometheus.Counter
	HandoffsIssued     *prometheus.CounterVec
	ReceiptsConfirmed  *prometheus.CounterVec
	IdempotentConfirms *prometheus.CounterVec
	LedgerOutcomes     *prometheus.CounterVec
	PublishFailures    prometheus.Counter
	UseCaseDuration    *prometheus.HistogramVec
}

// New registers custody metrics on reg, or the default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Mints: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmatrace_mints_total",
			Help: "Total number of completed mint requests",
		}),
		UnitsMinted: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmatrace_units_minted_total",
			Help: "Total number of units minted",
		}),
		HandoffsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmatrace_handoffs_issued_total",
			Help: "Total custody handoff documents issued by kind",
		}, []string{"kind"}),
		ReceiptsConfirmed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmatrace_receipts_confirmed_total",
			Help: "Total receipts confirmed by kind",
		}, []string{"kind"}),
		IdempotentConfirms: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmatrace_receipts_already_confirmed_total",
			Help: "Confirmations short-circuited because the receipt was already confirmed",
		}, []string{"kind"}),
		LedgerOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmatrace_ledger_outcomes_total",
			Help: "Ledger settlement attempts by result",
		}, []string{"result"}), // result: "settled", "rejected", "indeterminate", "unavailable"
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "pharmatrace_event_publish_failures_total",
			Help: "Domain event batches that failed to publish after persistence",
		}),
		UseCaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pharmatrace_usecase_duration_seconds",
			Help:    "Duration of custody use cases",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementMint(units int) {
	if m != nil {
		m.Mints.Inc()
		m.UnitsMinted.Add(float64(units))
	}
}

func (m *Metrics) IncrementHandoffIssued(kind string) {
	if m != nil {
		m.HandoffsIssued.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementReceiptConfirmed(kind string) {
	if m != nil {
		m.ReceiptsConfirmed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementIdempotentConfirm(kind string) {
	if m != nil {
		m.IdempotentConfirms.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementLedgerOutcome(result string) {
	if m != nil {
		m.LedgerOutcomes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

// ObserveUseCase records the duration of an operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveUseCase(operation string, start time.Time) {
	if m != nil {
		m.UseCaseDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
