// Package stats counts dispatched commands by verb and outcome.
//
// Recording is best effort: callers log a failed Record and carry on.
package stats

import (
	"context"
	"time"
)

// Event is one dispatched command.
type Event struct {
	Verb string
	OK   bool
	// Kind is the failure kind, empty on success.
	Kind string
	At   time.Time
}

// Recorder persists command statistics.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
