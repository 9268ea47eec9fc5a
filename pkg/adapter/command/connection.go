package command

import (
	"bufio"
	"context"
	"errors"
	"net"
	"time"

	"github.com/marmos91/stockd/internal/logger"
	"github.com/marmos91/stockd/pkg/dispatch"
	"github.com/marmos91/stockd/pkg/protocol"
)

// connection serves exactly one request: read, dispatch, reply, close.
type connection struct {
	adapter *Adapter
	conn    net.Conn
}

func newConnection(a *Adapter, conn net.Conn) *connection {
	return &connection{adapter: a, conn: conn}
}

// serve runs on a worker. Closing the socket and releasing the admission slot
// are the caller's job, so they happen even if serve panics.
func (c *connection) serve(ctx context.Context) {
	cfg := c.adapter.config
	clientAddr := c.conn.RemoteAddr().String()

	if cfg.ReadTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout)); err != nil {
			logger.Warn("Failed to set read deadline for %s: %v", clientAddr, err)
		}
	}

	req, err := protocol.ReadRequest(bufio.NewReader(c.conn), protocol.ReadOptions{
		CookieName: cfg.SessionCookie,
		MaxBytes:   cfg.MaxRequestBytes,
	})
	if err != nil {
		c.readFailed(err)
		return
	}
	logger.Debug("Request from %s (%s): %q", clientAddr, req.Mode, redact(req.Line))

	out := c.adapter.dispatcher.Dispatch(ctx, req)
	if out.Result.IsFatal() {
		logger.Error("Closing %s without reply: %s failed: %v", clientAddr, out.Verb, out.Result.Err())
		return
	}

	if cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
			logger.Warn("Failed to set write deadline for %s: %v", clientAddr, err)
		}
	}

	err = protocol.WriteReply(c.conn, req, out.Result.Reply(), protocol.WriteOptions{
		CookieName:    cfg.SessionCookie,
		AllowedOrigin: cfg.AllowedOrigin,
	})
	if err != nil {
		logger.Debug("Error writing reply to %s: %v", clientAddr, err)
	}
}

// readFailed answers requests that arrived but could not be decoded. A client
// that sent nothing or went away gets no reply.
func (c *connection) readFailed(err error) {
	clientAddr := c.conn.RemoteAddr().String()

	var netErr net.Error
	switch {
	case errors.Is(err, protocol.ErrEmptyRequest):
		logger.Debug("Connection from %s closed without a request", clientAddr)
		return
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Connection from %s timed out: %v", clientAddr, err)
		return
	}

	logger.Debug("Unreadable request from %s: %v", clientAddr, err)

	rep := dispatch.Fail(dispatch.ErrMalformedCommand, "Malformed command").Reply()
	if c.adapter.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.adapter.config.WriteTimeout))
	}
	_ = protocol.WriteReply(c.conn, nil, rep, protocol.WriteOptions{})
}

// redact hides the password field of LOGIN and REGISTER in logs.
func redact(line string) string {
	cmd, err := protocol.ParseCommand(line)
	if err != nil {
		return line
	}
	if (cmd.Verb == dispatch.VerbLogin || cmd.Verb == dispatch.VerbRegister) && len(cmd.Args) > 1 {
		cmd.Args = append([]string{cmd.Args[0], "***"}, cmd.Args[2:]...)
	}
	return cmd.String()
}
