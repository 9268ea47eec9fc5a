package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Mode is the framing a request arrived in. Replies use the same framing.
type Mode int

const (
	// ModeRaw is a bare command line terminated by a newline or EOF.
	ModeRaw Mode = iota
	// ModeHTTP is a minimal HTTP/1.x request.
	ModeHTTP
)

func (m Mode) String() string {
	if m == ModeHTTP {
		return "http"
	}
	return "raw"
}

var (
	ErrEmptyRequest    = errors.New("empty request")
	ErrRequestTooLarge = errors.New("request too large")
)

// DefaultMaxBytes bounds a command line or body when ReadOptions leaves it zero.
const DefaultMaxBytes = 8 << 10

// Request is what the listener extracted from one connection.
type Request struct {
	Mode   Mode
	Method string // HTTP method, empty in raw mode
	Line   string // command line, e.g. LOGIN|alice|pw1
	Token  string // session credential from the cookie or a bearer header
	Origin string // Origin header, used for CORS replies
}

// Preflight reports whether this is a CORS preflight needing an empty reply.
func (r *Request) Preflight() bool {
	return r.Method == http.MethodOptions
}

// ReadOptions tunes ReadRequest.
type ReadOptions struct {
	// CookieName is the cookie carrying the session token.
	CookieName string
	// MaxBytes caps the command line or HTTP body.
	MaxBytes int64
}

var httpMethods = []string{"GET ", "POST ", "OPTIONS ", "HEAD ", "PUT ", "DELETE "}

// ReadRequest decodes one request. The first bytes decide the framing: an
// HTTP method followed by a space means HTTP, anything else is a raw line.
func ReadRequest(br *bufio.Reader, opts ReadOptions) (*Request, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyRequest
		}
		return nil, err
	}

	isHTTP, err := sniffHTTP(br)
	if err != nil {
		return nil, err
	}
	if isHTTP {
		return readHTTP(br, opts)
	}
	return readRaw(br, opts)
}

func sniffHTTP(br *bufio.Reader) (bool, error) {
	for _, m := range httpMethods {
		n := br.Buffered()
		if n > len(m) {
			n = len(m)
		}
		prefix, _ := br.Peek(n)
		if !bytes.HasPrefix([]byte(m), prefix) {
			continue
		}
		if n < len(m) {
			// Only a fragment has arrived so far; wait for enough to decide.
			full, err := br.Peek(len(m))
			if err != nil && !errors.Is(err, io.EOF) {
				return false, err
			}
			prefix = full
		}
		if bytes.Equal(prefix, []byte(m)) {
			return true, nil
		}
	}
	return false, nil
}

func readRaw(br *bufio.Reader, opts ReadOptions) (*Request, error) {
	lr := bufio.NewReader(io.LimitReader(br, opts.MaxBytes+1))
	line, err := lr.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(len(line)) > opts.MaxBytes {
		return nil, ErrRequestTooLarge
	}

	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, ErrEmptyRequest
	}
	return &Request{Mode: ModeRaw, Line: line}, nil
}

func readHTTP(br *bufio.Reader, opts ReadOptions) (*Request, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, fmt.Errorf("malformed http request: %w", err)
	}
	defer func() { _ = req.Body.Close() }()

	r := &Request{
		Mode:   ModeHTTP,
		Method: req.Method,
		Origin: req.Header.Get("Origin"),
		Token:  credential(req, opts.CookieName),
	}

	switch req.Method {
	case http.MethodOptions:
		return r, nil
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(req.Body, opts.MaxBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if int64(len(body)) > opts.MaxBytes {
			return nil, ErrRequestTooLarge
		}
		r.Line = strings.TrimSpace(string(body))
	default:
		r.Line = commandFromTarget(req.RequestURI)
	}

	if int64(len(r.Line)) > opts.MaxBytes {
		return nil, ErrRequestTooLarge
	}
	return r, nil
}

// commandFromTarget turns "/LOGIN%7Calice%7Cpw1?x" into "LOGIN|alice|pw1".
func commandFromTarget(target string) string {
	path, _, _ := strings.Cut(target, "?")
	path = strings.TrimPrefix(path, "/")

	decoded, err := url.PathUnescape(path)
	if err != nil {
		return path
	}
	return decoded
}

func credential(req *http.Request, cookieName string) string {
	if auth := req.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookieName != "" {
		if c, err := req.Cookie(cookieName); err == nil {
			return c.Value
		}
	}
	return ""
}
