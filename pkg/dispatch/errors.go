package dispatch

import (
	"errors"
	"fmt"

	"github.com/marmos91/stockd/pkg/store"
	"github.com/marmos91/stockd/pkg/trade"
)

// Kinds a dispatch can fail with besides the trade errors.
var (
	ErrMalformedCommand = errors.New("malformed command")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrUnauthenticated  = errors.New("not authenticated")
)

// Error is a failed dispatch. Kind is one of the taxonomy sentinels and Msg is
// the reason shown to the client.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

var kinds = []error{
	ErrMalformedCommand,
	ErrUnknownCommand,
	ErrUnauthenticated,
	store.ErrStoreIO,
	trade.ErrInvalidCredentials,
	trade.ErrUserExists,
	trade.ErrUnknownTicker,
	trade.ErrInsufficientHoldings,
	trade.ErrInsufficientQuantity,
	trade.ErrCorruptRecord,
}

// KindOf returns the taxonomy sentinel err wraps, or err itself when it
// matches none.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return err
}

// KindLabel names the kind of err for stats and metrics. Unclassified errors
// share the "internal" label.
func KindLabel(err error) string {
	if err == nil {
		return ""
	}
	k := KindOf(err)
	for _, known := range kinds {
		if k == known {
			return k.Error()
		}
	}
	return "internal"
}
