package metrics

import "time"

// StoreMetrics observes Record Store calls.
//
// It satisfies store.Metrics, so it can be passed straight to store.Instrument.
// Stores built without one run with no metrics overhead.
//
// Example usage:
//
//	s, _ := config.CreateRecordStore(ctx, &cfg.Store)
//	s = store.Instrument(s, prometheus.NewStoreMetrics("sqlite"))
type StoreMetrics interface {
	// RecordOperation records one completed call.
	//
	// Parameters:
	//   - operation: "read", "append", "write" or "update"
	//   - domain: the domain the call touched
	//   - duration: time spent, including waiting for the domain lock
	//   - err: the call's error, nil on success
	RecordOperation(operation, domain string, duration time.Duration, err error)
}

// NewNoopStoreMetrics returns a StoreMetrics that discards everything.
func NewNoopStoreMetrics() StoreMetrics {
	return noopStoreMetrics{}
}

type noopStoreMetrics struct{}

func (noopStoreMetrics) RecordOperation(string, string, time.Duration, error) {}
