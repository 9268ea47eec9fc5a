package protocol

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func read(t *testing.T, raw string) (*Request, error) {
	t.Helper()
	return ReadRequest(bufio.NewReader(strings.NewReader(raw)), ReadOptions{CookieName: "sid", MaxBytes: 256})
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		verb string
		args []string
	}{
		{"no args", "GET_MARKET", "GET_MARKET", []string{}},
		{"args", "BUY|alice|AAPL|10", "BUY", []string{"alice", "AAPL", "10"}},
		{"trailing newline", "LOGIN|alice|pw1\r\n", "LOGIN", []string{"alice", "pw1"}},
		{"empty field kept", "REGISTER||pw", "REGISTER", []string{"", "pw"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.verb, cmd.Verb)
			assert.Equal(t, tt.args, cmd.Args)
		})
	}

	_, err := ParseCommand("  \n")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestCommandRest(t *testing.T) {
	cmd, err := ParseCommand("LOGIN|alice|p|w")
	require.NoError(t, err)

	assert.Equal(t, "alice", cmd.Arg(0))
	assert.Equal(t, "p|w", cmd.Rest(1))
	assert.Equal(t, "", cmd.Arg(5))
	assert.Equal(t, "", cmd.Rest(5))
	assert.Equal(t, "LOGIN|alice|p|w", cmd.String())
}

func TestReadRawLine(t *testing.T) {
	req, err := read(t, "GET_MARKET\n")
	require.NoError(t, err)
	assert.Equal(t, ModeRaw, req.Mode)
	assert.Equal(t, "GET_MARKET", req.Line)

	req, err = read(t, "LOGIN|alice|pw1")
	require.NoError(t, err)
	assert.Equal(t, "LOGIN|alice|pw1", req.Line)
}

func TestReadHTTPGet(t *testing.T) {
	req, err := read(t, "GET /LOGIN%7Calice%7Cpw1 HTTP/1.1\r\nHost: x\r\nOrigin: http://app\r\n\r\n")
	require.NoError(t, err)

	assert.Equal(t, ModeHTTP, req.Mode)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "LOGIN|alice|pw1", req.Line)
	assert.Equal(t, "http://app", req.Origin)
}

func TestReadHTTPGetUnescapedPipes(t *testing.T) {
	req, err := read(t, "GET /BUY|alice|AAPL|10?nocache=1 HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "BUY|alice|AAPL|10", req.Line)
}

func TestReadHTTPPostBody(t *testing.T) {
	body := "REGISTER|bob|secret"
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Type: text/plain\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\nCookie: sid=tok-123\r\n\r\n" + body

	req, err := read(t, raw)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, body, req.Line)
	assert.Equal(t, "tok-123", req.Token)
}

func TestBearerBeatsCookie(t *testing.T) {
	req, err := read(t, "GET /PORTFOLIO HTTP/1.1\r\nHost: x\r\nAuthorization: Bearer abc\r\nCookie: sid=def\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, "abc", req.Token)
}

func TestReadPreflight(t *testing.T) {
	req, err := read(t, "OPTIONS / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	assert.True(t, req.Preflight())
	assert.Empty(t, req.Line)
}

func TestReadLimits(t *testing.T) {
	_, err := read(t, strings.Repeat("A", 300)+"\n")
	assert.ErrorIs(t, err, ErrRequestTooLarge)

	body := strings.Repeat("B", 300)
	_, err = read(t, "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 300\r\n\r\n"+body)
	assert.ErrorIs(t, err, ErrRequestTooLarge)

	_, err = read(t, "")
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

func TestReplyLine(t *testing.T) {
	assert.Equal(t, "OK|Login successful", Reply{OK: true, Message: "Login successful"}.Line())
	assert.Equal(t, "ERROR|Unknown command", Reply{Message: "Unknown command"}.Line())
	assert.Equal(t, "OK|Portfolio|", Reply{OK: true, Message: "Portfolio", HasPayload: true}.Line())
	assert.Equal(t, "OK|Market data|AAPL,Apple Inc.,150.00;",
		Reply{OK: true, Message: "Market data", Payload: "AAPL,Apple Inc.,150.00;", HasPayload: true}.Line())
}

func parseResponse(t *testing.T, raw []byte) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestWriteHTTPReply(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{Mode: ModeHTTP, Method: http.MethodGet, Origin: "http://app"}

	err := WriteReply(&buf, req, Reply{OK: true, Message: "Login successful", SetToken: "tok"}, WriteOptions{CookieName: "sid", AllowedOrigin: "*"})
	require.NoError(t, err)

	raw := buf.String()
	assert.True(t, strings.HasPrefix(raw, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, raw, "Set-Cookie: sid=tok; Path=/; HttpOnly; SameSite=Lax\r\n")

	resp, body := parseResponse(t, buf.Bytes())
	assert.Equal(t, "OK|Login successful", body)
	assert.Equal(t, int64(len(body)), resp.ContentLength)
	assert.True(t, resp.Close)
	assert.Equal(t, "http://app", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestWriteHTTPErrorIs400(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{Mode: ModeHTTP, Method: http.MethodPost}

	require.NoError(t, WriteReply(&buf, req, Reply{Message: "Not authenticated"}, WriteOptions{AllowedOrigin: "http://app"}))

	resp, body := parseResponse(t, buf.Bytes())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ERROR|Not authenticated", body)
	assert.Equal(t, "http://app", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Set-Cookie"))
}

func TestWritePreflightReply(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{Mode: ModeHTTP, Method: http.MethodOptions}

	require.NoError(t, WriteReply(&buf, req, Reply{OK: true, Empty: true}, WriteOptions{}))

	resp, body := parseResponse(t, buf.Bytes())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWriteClearsCookie(t *testing.T) {
	var buf bytes.Buffer
	req := &Request{Mode: ModeHTTP, Method: http.MethodGet}

	require.NoError(t, WriteReply(&buf, req, Reply{OK: true, Message: "Logged out", ClearToken: true}, WriteOptions{CookieName: "sid"}))
	assert.Contains(t, buf.String(), "Set-Cookie: sid=; Path=/; Max-Age=0; HttpOnly; SameSite=Lax")
}

func TestWriteRawReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReply(&buf, &Request{Mode: ModeRaw}, Reply{OK: true, Message: "User registered"}, WriteOptions{}))
	assert.Equal(t, "OK|User registered\n", buf.String())
}
