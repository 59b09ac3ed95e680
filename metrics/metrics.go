// Package metrics exposes Prometheus instruments for the fee engine.
package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/tuition-engine/fee"
)

const (
	PostingReasonMissingAccount = "missing_account"
	PostingReasonUnbalanced     = "unbalanced"
	PostingReasonUnknown        = "unknown"
)

type Config struct {
	ServiceName string
	Environment string
}

// FeeMetrics implements fee.Instrumentation.
type FeeMetrics struct {
	schedulesGenerated *prometheus.CounterVec
	installments       prometheus.Histogram
	amountAllocated    prometheus.Counter
	amountUnallocated  prometheus.Counter
	postings           *prometheus.CounterVec
	postingFailures    *prometheus.CounterVec
	refreshes          *prometheus.CounterVec
	refreshDuration    prometheus.Histogram
}

var _ fee.Instrumentation = (*FeeMetrics)(nil)

// New registers the engine's instruments on registerer. A nil registerer
// uses prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer, cfg Config) *FeeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "feeengine"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &FeeMetrics{
		schedulesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fee_schedules_generated_total",
			Help:        "Installment schedules generated, by fee type.",
			ConstLabels: constLabels,
		}, []string{"fee_type"}),
		installments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "fee_schedule_installments",
			Help:        "Installments per generated schedule.",
			Buckets:     []float64{1, 2, 3, 4, 6, 9, 12, 18, 24},
			ConstLabels: constLabels,
		}),
		amountAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fee_amount_allocated_total",
			Help:        "Receipt money applied to installments across replays.",
			ConstLabels: constLabels,
		}),
		amountUnallocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fee_amount_unallocated_total",
			Help:        "Receipt money left over after all installments were paid, across replays.",
			ConstLabels: constLabels,
		}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fee_ledger_postings_total",
			Help:        "Ledger transactions written, by transaction type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		postingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fee_ledger_posting_failures_total",
			Help:        "Ledger postings that failed, by transaction type and reason.",
			ConstLabels: constLabels,
		}, []string{"type", "reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fee_refreshes_total",
			Help:        "Schedule refreshes by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "fee_refresh_duration_seconds",
			Help:        "Latency of one subject refresh including storage.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.schedulesGenerated,
		m.installments,
		m.amountAllocated,
		m.amountUnallocated,
		m.postings,
		m.postingFailures,
		m.refreshes,
		m.refreshDuration,
	)
	return m
}

func (m *FeeMetrics) ScheduleGenerated(feeType fee.FeeType, installments int) {
	m.schedulesGenerated.WithLabelValues(string(feeType)).Inc()
	m.installments.Observe(float64(installments))
}

func (m *FeeMetrics) ReceiptAllocated(allocated, unallocated fee.Money) {
	m.amountAllocated.Add(allocated.Value.InexactFloat64())
	m.amountUnallocated.Add(unallocated.Value.InexactFloat64())
}

func (m *FeeMetrics) TransactionPosted(txType fee.TransactionType) {
	m.postings.WithLabelValues(string(txType)).Inc()
}

func (m *FeeMetrics) PostingFailed(txType fee.TransactionType, err error) {
	m.postingFailures.WithLabelValues(string(txType), ClassifyPostingFailure(err)).Inc()
}

func (m *FeeMetrics) RefreshFinished(outcome string, elapsed time.Duration) {
	m.refreshes.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(elapsed.Seconds())
}

// ClassifyPostingFailure maps posting errors to low-cardinality reasons.
func ClassifyPostingFailure(err error) string {
	switch {
	case errors.Is(err, fee.ErrMissingLedgerAccount):
		return PostingReasonMissingAccount
	case errors.Is(err, fee.ErrUnbalancedTransaction):
		return PostingReasonUnbalanced
	default:
		return PostingReasonUnknown
	}
}
