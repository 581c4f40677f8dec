package pel

import (
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

// Metrics tracks one timer per pipeline stage duration, the inter-block
// "start time" and "finish time" skew used to confirm that consecutive
// blocks actually overlap, and a running gas counter.
type Metrics struct {
	RecvBlockTimeDiff     metrics.Timer
	FilterTransactionTime metrics.Timer
	ExecuteDuration       metrics.Timer
	StartExecuteTimeDiff  metrics.Timer
	MerklizeDuration      metrics.Timer
	SealDuration          metrics.Timer
	VerifyDuration        metrics.Timer
	MakeCanonicalDuration metrics.Timer
	FinishCommitTimeDiff  metrics.Timer
	TotalGasUsed          metrics.Counter
}

// NewMetrics registers (or reuses, if already registered) the pipeline's
// metrics under the "pel/" namespace in r. A nil r selects
// metrics.DefaultRegistry, the same convention metrics.GetOrRegisterX uses
// throughout go-ethereum.
func NewMetrics(r metrics.Registry) *Metrics {
	return &Metrics{
		RecvBlockTimeDiff:     metrics.GetOrRegisterTimer("pel/recv_block_time_diff", r),
		FilterTransactionTime: metrics.GetOrRegisterTimer("pel/filter_transaction_duration", r),
		ExecuteDuration:       metrics.GetOrRegisterTimer("pel/execute_duration", r),
		StartExecuteTimeDiff:  metrics.GetOrRegisterTimer("pel/start_execute_time_diff", r),
		MerklizeDuration:      metrics.GetOrRegisterTimer("pel/merklize_duration", r),
		SealDuration:          metrics.GetOrRegisterTimer("pel/seal_duration", r),
		VerifyDuration:        metrics.GetOrRegisterTimer("pel/verify_duration", r),
		MakeCanonicalDuration: metrics.GetOrRegisterTimer("pel/make_canonical_duration", r),
		FinishCommitTimeDiff:  metrics.GetOrRegisterTimer("pel/finish_commit_time_diff", r),
		TotalGasUsed:          metrics.GetOrRegisterCounter("pel/total_gas_used", r),
	}
}

// record is a small helper so stage methods can write a one-liner instead
// of repeating timer.UpdateSince(start) with the receiver spelled out.
func record(t metrics.Timer, since time.Time) {
	t.UpdateSince(since)
}
