package dispatch

import "github.com/marmos91/stockd/pkg/protocol"

// Result is the outcome of a handler: either Ok with a message and optional
// payload, or Err with a kind. It becomes wire text only in Reply.
type Result struct {
	err *Error

	message    string
	payload    string
	hasPayload bool

	// Session side effects applied to the reply.
	token  string
	revoke bool

	empty bool
	fatal bool
}

// Ok is a success without payload.
func Ok(message string) Result {
	return Result{message: message}
}

// OkPayload is a success carrying payload, which may be empty.
func OkPayload(message, payload string) Result {
	return Result{message: message, payload: payload, hasPayload: true}
}

// Empty is the bodiless success used for preflight.
func Empty() Result {
	return Result{empty: true}
}

// Fail is an error reply of the given kind.
func Fail(kind error, msg string) Result {
	return Result{err: &Error{Kind: KindOf(kind), Msg: msg}}
}

// Fatal aborts the task: the connection is closed without a reply.
func Fatal(kind error, msg string) Result {
	r := Fail(kind, msg)
	r.fatal = true
	return r
}

// WithToken issues token to the client alongside the reply.
func (r Result) WithToken(token string) Result {
	r.token = token
	return r
}

// WithRevoke expires the client's session cookie.
func (r Result) WithRevoke() Result {
	r.revoke = true
	return r
}

func (r Result) IsOK() bool      { return r.err == nil }
func (r Result) Err() *Error     { return r.err }
func (r Result) IsFatal() bool   { return r.fatal }
func (r Result) Token() string   { return r.token }
func (r Result) Payload() string { return r.payload }

// Message returns the client-facing text of either branch.
func (r Result) Message() string {
	if r.err != nil {
		return r.err.Msg
	}
	return r.message
}

// Reply serializes r for the protocol layer.
func (r Result) Reply() protocol.Reply {
	if r.empty {
		return protocol.Reply{OK: true, Empty: true}
	}
	if r.err != nil {
		return protocol.Reply{Message: r.err.Msg}
	}
	return protocol.Reply{
		OK:         true,
		Message:    r.message,
		Payload:    r.payload,
		HasPayload: r.hasPayload,
		SetToken:   r.token,
		ClearToken: r.revoke,
	}
}
