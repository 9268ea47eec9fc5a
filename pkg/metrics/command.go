package metrics

import "time"

// CommandMetrics observes the command listener end to end: connections,
// admission, the worker pool and dispatched verbs.
//
// It satisfies dispatch.Metrics and workerpool.Metrics so a single instance
// can be handed to every layer.
type CommandMetrics interface {
	// ObserveCommand records one dispatched verb. kind is empty on success.
	ObserveCommand(verb string, ok bool, kind string, d time.Duration)

	SetQueueDepth(depth int)
	SetBusyWorkers(n int)
	ObserveTask(d time.Duration, panicked bool)

	// SetInFlight reports the admission slots currently held.
	SetInFlight(n int)

	RecordConnectionAccepted()
	RecordConnectionClosed()

	// RecordConnectionRejected counts connections closed before dispatch.
	// reason is "throttled", "admission" or "shutdown".
	RecordConnectionRejected(reason string)
}

// FeedMetrics observes the market price feed.
type FeedMetrics interface {
	RecordFetch(symbol string, ok bool, d time.Duration)
	SetLastRefresh(t time.Time)
}

// NewNoopCommandMetrics returns a CommandMetrics that discards everything.
func NewNoopCommandMetrics() CommandMetrics {
	return noopCommandMetrics{}
}

type noopCommandMetrics struct{}

func (noopCommandMetrics) ObserveCommand(string, bool, string, time.Duration) {}
func (noopCommandMetrics) SetQueueDepth(int)                                  {}
func (noopCommandMetrics) SetBusyWorkers(int)                                 {}
func (noopCommandMetrics) ObserveTask(time.Duration, bool)                    {}
func (noopCommandMetrics) SetInFlight(int)                                    {}
func (noopCommandMetrics) RecordConnectionAccepted()                          {}
func (noopCommandMetrics) RecordConnectionClosed()                            {}
func (noopCommandMetrics) RecordConnectionRejected(string)                    {}

// NewNoopFeedMetrics returns a FeedMetrics that discards everything.
func NewNoopFeedMetrics() FeedMetrics {
	return noopFeedMetrics{}
}

type noopFeedMetrics struct{}

func (noopFeedMetrics) RecordFetch(string, bool, time.Duration) {}
func (noopFeedMetrics) SetLastRefresh(time.Time)                {}
