package fee

import "time"

// Instrumentation receives engine events. metrics.FeeMetrics is the
// Prometheus implementation; the zero Service uses NoopInstrumentation.
type Instrumentation interface {
	ScheduleGenerated(feeType FeeType, installments int)
	ReceiptAllocated(allocated, unallocated Money)
	TransactionPosted(txType TransactionType)
	PostingFailed(txType TransactionType, err error)
	RefreshFinished(outcome string, elapsed time.Duration)
}

// Refresh outcomes reported to Instrumentation.RefreshFinished.
const (
	OutcomeRefreshed = "refreshed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

type NoopInstrumentation struct{}

func (NoopInstrumentation) ScheduleGenerated(FeeType, int)        {}
func (NoopInstrumentation) ReceiptAllocated(Money, Money)         {}
func (NoopInstrumentation) TransactionPosted(TransactionType)     {}
func (NoopInstrumentation) PostingFailed(TransactionType, error)  {}
func (NoopInstrumentation) RefreshFinished(string, time.Duration) {}
