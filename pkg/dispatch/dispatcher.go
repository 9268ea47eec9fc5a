// Package dispatch turns one decoded request into one Result.
//
// Each request walks RECEIVED -> PARSED -> [AUTH_CHECKED] -> EXECUTED ->
// REPLIED. Every business failure is caught here and becomes an error
// reply; nothing a handler does can escape to crash the worker.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/pkg/protocol"
	"github.com/marmos91/stockd/pkg/session"
	"github.com/marmos91/stockd/pkg/stats"
	"github.com/marmos91/stockd/pkg/trade"
)

// Metrics observes completed dispatches.
type Metrics interface {
	ObserveCommand(verb string, ok bool, kind string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommand(string, bool, string, time.Duration) {}

// Options configures a Dispatcher.
type Options struct {
	// TradeRequiresAuth makes BUY and SELL require a session whose identity
	// matches the user argument.
	TradeRequiresAuth bool

	Stats   stats.Recorder
	Metrics Metrics
}

// Outcome is the result of one dispatch plus the states it went through.
type Outcome struct {
	Verb   string
	Result Result
	Path   []State
}

// Dispatcher routes commands to handlers. Safe for concurrent use.
type Dispatcher struct {
	sessions *session.Registry
	trade    *trade.Service
	opts     Options
	routes   map[string]*Route
}

func New(sessions *session.Registry, svc *trade.Service, opts Options) *Dispatcher {
	if opts.Stats == nil {
		opts.Stats = stats.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	d := &Dispatcher{sessions: sessions, trade: svc, opts: opts}
	d.routes = d.buildRoutes()
	return d
}

// Route returns the table entry for verb.
func (d *Dispatcher) Route(verb string) (*Route, bool) {
	r, ok := d.routes[verb]
	return r, ok
}

// Dispatch processes req and returns the reply to send.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Request) Outcome {
	start := time.Now()
	out := Outcome{Verb: verbUnknown, Path: []State{StateReceived}}

	out.Result = d.run(ctx, req, &out)
	out.Path = append(out.Path, StateReplied)

	d.observe(ctx, out, time.Since(start))
	return out
}

func (d *Dispatcher) run(ctx context.Context, req *protocol.Request, out *Outcome) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler for %s panicked: %v", out.Verb, r)
			result = Fatal(errors.New("handler panic"), "Internal error")
		}
	}()

	// Preflight short-circuits before any business parsing.
	if req.Preflight() {
		out.Verb = VerbPreflight
		return Empty()
	}

	cmd, err := protocol.ParseCommand(req.Line)
	if err != nil {
		return Fail(ErrMalformedCommand, "Malformed command")
	}
	if cmd.Verb == VerbPreflight {
		out.Verb = VerbPreflight
		return Empty()
	}

	route, ok := d.routes[cmd.Verb]
	if !ok {
		return Fail(ErrUnknownCommand, "Unknown command")
	}
	out.Verb = route.Verb

	for i := 0; i < route.MinArgs; i++ {
		if cmd.Arg(i) == "" {
			return Fail(ErrMalformedCommand, "Malformed command")
		}
	}
	out.Path = append(out.Path, StateParsed)

	call := &Call{Command: cmd, Token: req.Token}

	if route.RequiresAuth {
		identity, ok := d.sessions.Lookup(req.Token)
		if !ok {
			return Fail(ErrUnauthenticated, "Not authenticated")
		}
		if route.SelfOnly && cmd.Arg(0) != identity {
			logger.Warn("%s for %q rejected: session belongs to %q", route.Verb, cmd.Arg(0), identity)
			return Fail(ErrUnauthenticated, "Not authenticated")
		}
		call.Identity = identity
		out.Path = append(out.Path, StateAuthChecked)
	}

	result = route.Handler(ctx, call)
	out.Path = append(out.Path, StateExecuted)
	return result
}

func (d *Dispatcher) observe(ctx context.Context, out Outcome, elapsed time.Duration) {
	kind := ""
	if e := out.Result.Err(); e != nil {
		kind = KindLabel(e.Kind)
	}

	d.opts.Metrics.ObserveCommand(out.Verb, out.Result.IsOK(), kind, elapsed)

	ev := stats.Event{Verb: out.Verb, OK: out.Result.IsOK(), Kind: kind, At: time.Now()}
	if err := d.opts.Stats.Record(ctx, ev); err != nil {
		logger.Warn("Dropping stats for %s: %v", out.Verb, err)
	}

	logger.Debug("Dispatched %s ok=%t kind=%q in %s", out.Verb, out.Result.IsOK(), kind, elapsed)
}
