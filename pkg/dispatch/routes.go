package dispatch

import (
	"context"

	"github.com/marmos91/stockd/pkg/protocol"
)

// Verbs understood by the dispatcher.
const (
	VerbLogin     = "LOGIN"
	VerbRegister  = "REGISTER"
	VerbLogout    = "LOGOUT"
	VerbMarket    = "GET_MARKET"
	VerbBuy       = "BUY"
	VerbSell      = "SELL"
	VerbPortfolio = "PORTFOLIO"
	VerbBuys      = "CSV_BUYS"
	VerbSells     = "RECENT_SELLS"
	VerbPreflight = "OPTIONS"
	verbUnknown   = "UNKNOWN"
)

// Call is what a handler sees of the request.
type Call struct {
	Command protocol.Command
	// Token is the presented credential, possibly empty.
	Token string
	// Identity is set once the auth check passed.
	Identity string
}

// Handler executes one verb.
type Handler func(ctx context.Context, call *Call) Result

// Route is one dispatch table entry.
type Route struct {
	Verb string

	// RequiresAuth makes the dispatcher resolve the session before Handler runs.
	RequiresAuth bool

	// MinArgs is the number of leading arguments that must be present and
	// non-empty.
	MinArgs int

	// SelfOnly requires the first argument to equal the session identity.
	// Only meaningful with RequiresAuth.
	SelfOnly bool

	Handler Handler
}

func (d *Dispatcher) buildRoutes() map[string]*Route {
	tradeAuth := d.opts.TradeRequiresAuth

	routes := []*Route{
		{Verb: VerbLogin, MinArgs: 2, Handler: d.handleLogin},
		{Verb: VerbRegister, MinArgs: 2, Handler: d.handleRegister},
		{Verb: VerbLogout, RequiresAuth: true, Handler: d.handleLogout},
		{Verb: VerbMarket, Handler: d.handleMarket},
		{Verb: VerbBuy, MinArgs: 3, RequiresAuth: tradeAuth, SelfOnly: tradeAuth, Handler: d.handleBuy},
		{Verb: VerbSell, MinArgs: 3, RequiresAuth: tradeAuth, SelfOnly: tradeAuth, Handler: d.handleSell},
		{Verb: VerbPortfolio, RequiresAuth: true, Handler: d.handlePortfolio},
		{Verb: VerbBuys, RequiresAuth: true, Handler: d.handleBuys},
		{Verb: VerbSells, RequiresAuth: true, Handler: d.handleSells},
	}

	table := make(map[string]*Route, len(routes))
	for _, r := range routes {
		table[r.Verb] = r
	}
	return table
}
