package protocol

import (
	"bytes"
	"io"
	"net/http"
	"strings"
)

const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Reply is a rendered result ready for the wire.
type Reply struct {
	OK      bool
	Message string

	// Payload is appended after a third separator when HasPayload is set,
	// even if it is empty.
	Payload    string
	HasPayload bool

	// SetToken, when non-empty, is issued to the client as the session cookie.
	SetToken string
	// ClearToken expires the session cookie.
	ClearToken bool

	// Empty produces a bodiless 200, used for preflight.
	Empty bool
}

// Line renders STATUS|message[|payload].
func (r Reply) Line() string {
	if r.Empty {
		return ""
	}

	status := StatusError
	if r.OK {
		status = StatusOK
	}

	var b strings.Builder
	b.WriteString(status)
	b.WriteString(Separator)
	b.WriteString(r.Message)
	if r.HasPayload {
		b.WriteString(Separator)
		b.WriteString(r.Payload)
	}
	return b.String()
}

// WriteOptions controls HTTP framing.
type WriteOptions struct {
	CookieName string
	// AllowedOrigin is sent in Access-Control-Allow-Origin. With "*" the
	// request's Origin is echoed instead, since browsers reject a wildcard
	// on credentialed requests.
	AllowedOrigin string
}

// WriteReply writes rep in the request's framing. A nil req means raw.
func WriteReply(w io.Writer, req *Request, rep Reply, opts WriteOptions) error {
	if req == nil || req.Mode == ModeRaw {
		_, err := io.WriteString(w, rep.Line()+"\n")
		return err
	}

	body := rep.Line()
	status := http.StatusOK
	if !rep.OK && !rep.Empty {
		status = http.StatusBadRequest
	}

	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	header.Set("Access-Control-Allow-Origin", allowOrigin(opts.AllowedOrigin, req.Origin))
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	header.Set("Access-Control-Allow-Credentials", "true")

	if cookie := sessionCookie(opts.CookieName, rep); cookie != nil {
		header.Add("Set-Cookie", cookie.String())
	}

	// Response.Write emits Content-Length and Connection: close itself.
	resp := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Close:         true,
	}
	return resp.Write(w)
}

func allowOrigin(allowed, origin string) string {
	if allowed == "" {
		allowed = "*"
	}
	if allowed == "*" && origin != "" {
		return origin
	}
	return allowed
}

func sessionCookie(name string, rep Reply) *http.Cookie {
	if name == "" {
		return nil
	}
	switch {
	case rep.SetToken != "":
		return &http.Cookie{Name: name, Value: rep.SetToken, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode}
	case rep.ClearToken:
		return &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, SameSite: http.SameSiteLaxMode}
	}
	return nil
}
