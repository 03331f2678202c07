package http1

import (
	"errors"
	"strings"
	"testing"
)

func feedAll(t *testing.T, p *HeadParser, chunks ...string) (int, Status, error) {
	t.Helper()
	total := 0
	var status Status
	var err error
	for _, c := range chunks {
		var n int
		n, status, err = p.Feed([]byte(c))
		total += n
		if err != nil || status == Done {
			return total, status, err
		}
	}
	return total, status, err
}

func TestHeadParser(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		verify func(t *testing.T, req *Request)
	}{
		{
			name:   "simple get",
			chunks: []string{"GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"},
			verify: func(t *testing.T, req *Request) {
				if req.Method != MethodGet {
					t.Errorf("method = %q, want GET", req.Method)
				}
				if req.Path != "/index.html" {
					t.Errorf("path = %q, want /index.html", req.Path)
				}
				if req.Version != HTTP11 {
					t.Errorf("version = %v, want HTTP/1.1", req.Version)
				}
				if req.Header("host") != "x" {
					t.Errorf("host = %q, want x", req.Header("host"))
				}
			},
		},
		{
			name:   "split across many feeds",
			chunks: []string{"PO", "ST /a/b?x=1&y=", "hello+world HT", "TP/1.0\r", "\nA: 1\r\nA:", " 2\r\n", "\r", "\n"},
			verify: func(t *testing.T, req *Request) {
				if req.Method != MethodPost {
					t.Errorf("method = %q, want POST", req.Method)
				}
				if len(req.Segments) != 2 || req.Segments[0] != "a" || req.Segments[1] != "b" {
					t.Errorf("segments = %v, want [a b]", req.Segments)
				}
				if got := req.Query.Get("y"); got != "hello world" {
					t.Errorf("query y = %q, want %q", got, "hello world")
				}
				if got := req.Headers.Joined("a"); got != "1, 2" {
					t.Errorf("joined A = %q, want %q", got, "1, 2")
				}
				if req.Version != HTTP10 {
					t.Errorf("version = %v, want HTTP/1.0", req.Version)
				}
			},
		},
		{
			name:   "unknown method preserved",
			chunks: []string{"BREW /pot HTTP/1.1\n\n"},
			verify: func(t *testing.T, req *Request) {
				if req.Method != "BREW" || req.Method.Known() {
					t.Errorf("method = %q known=%v", req.Method, req.Method.Known())
				}
			},
		},
		{
			name:   "leading blank lines skipped",
			chunks: []string{"\r\n\r\nGET / HTTP/1.1\r\n\r\n"},
			verify: func(t *testing.T, req *Request) {
				if req.Path != "/" || len(req.Segments) != 0 {
					t.Errorf("path = %q segments = %v", req.Path, req.Segments)
				}
			},
		},
		{
			name:   "percent decoded path and bare query key",
			chunks: []string{"GET /a%20b/c?flag HTTP/1.1\r\n\r\n"},
			verify: func(t *testing.T, req *Request) {
				if req.Segments[0] != "a b" {
					t.Errorf("segment = %q, want %q", req.Segments[0], "a b")
				}
				if v, ok := req.Query["flag"]; !ok || v[0] != "" {
					t.Errorf("flag = %v, want empty value", v)
				}
			},
		},
		{
			name:   "absolute form target",
			chunks: []string{"GET http://host:80/x/y?z=1 HTTP/1.1\r\n\r\n"},
			verify: func(t *testing.T, req *Request) {
				if req.Path != "/x/y" || req.RawQuery != "z=1" {
					t.Errorf("path = %q query = %q", req.Path, req.RawQuery)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewHeadParser(DefaultLimits())
			_, status, err := feedAll(t, p, tt.chunks...)
			if err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
			if status != Done {
				t.Fatalf("status = %v, want Done", status)
			}
			tt.verify(t, p.Request())
		})
	}
}

func TestHeadParserLeavesBodyBytes(t *testing.T) {
	p := NewHeadParser(DefaultLimits())
	data := "POST /x HTTP/1.1\r\nContent-Length: 4\r\n\r\nbodyGET"
	n, status, err := p.Feed([]byte(data))
	if err != nil || status != Done {
		t.Fatalf("Feed() = %v, %v", status, err)
	}
	if rest := data[n:]; rest != "bodyGET" {
		t.Errorf("unconsumed = %q, want %q", rest, "bodyGET")
	}

	// Feeding after Done consumes nothing.
	n2, status, _ := p.Feed([]byte("more"))
	if n2 != 0 || status != Done {
		t.Errorf("Feed after Done = %d, %v", n2, status)
	}

	p.Reset()
	if p.Started() || p.Request() != nil {
		t.Error("Reset() should clear parser state")
	}
}

func TestHeadParserErrors(t *testing.T) {
	small := DefaultLimits()
	small.MaxHeaders = 2
	small.MaxRequestLine = 32
	small.MaxPathSegments = 3

	tests := []struct {
		name   string
		limits Limits
		input  string
		kind   ErrorKind
	}{
		{"missing version", DefaultLimits(), "GET /\r\n\r\n", KindMalformedEncoding},
		{"bad version", DefaultLimits(), "GET / HTTP/2.0\r\n\r\n", KindMalformedEncoding},
		{"bad method token", DefaultLimits(), "G(T / HTTP/1.1\r\n\r\n", KindMalformedEncoding},
		{"bad escape in path", DefaultLimits(), "GET /a%zz HTTP/1.1\r\n\r\n", KindMalformedEncoding},
		{"truncated escape in query", DefaultLimits(), "GET /a?b=%2 HTTP/1.1\r\n\r\n", KindMalformedEncoding},
		{"header without colon", DefaultLimits(), "GET / HTTP/1.1\r\nnocolon\r\n\r\n", KindMalformedEncoding},
		{"obs fold", DefaultLimits(), "GET / HTTP/1.1\r\nA: 1\r\n  2\r\n\r\n", KindMalformedEncoding},
		{"too many headers", small, "GET / HTTP/1.1\r\nA: 1\r\nB: 2\r\nC: 3\r\n\r\n", KindRequestTooLarge},
		{"request line too long", small, "GET /" + strings.Repeat("a", 64) + " HTTP/1.1\r\n\r\n", KindRequestTooLarge},
		{"too many segments", small, "GET /a/b/c/d HTTP/1.1\r\n\r\n", KindRequestTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewHeadParser(tt.limits)
			_, _, err := p.Feed([]byte(tt.input))
			if err == nil {
				t.Fatal("Feed() expected error")
			}
			if got := KindOf(err); got != tt.kind {
				t.Errorf("kind = %v, want %v (err = %v)", got, tt.kind, err)
			}
			// The parser stays failed.
			if _, _, err2 := p.Feed([]byte("\r\n")); !errors.Is(err2, &Error{Kind: tt.kind}) {
				t.Errorf("second Feed() error = %v, want same kind", err2)
			}
		})
	}
}

func TestRequestHelpers(t *testing.T) {
	p := NewHeadParser(DefaultLimits())
	_, _, err := p.Feed([]byte("GET / HTTP/1.0\r\n" +
		"Connection: Keep-Alive\r\n" +
		"Upgrade: WebSocket\r\n" +
		"Authorization: Basic dXNlcjpwYXNz\r\n" +
		"Content-Length: 12\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	req := p.Request()
	if !req.KeepAliveRequested() {
		t.Error("HTTP/1.0 with keep-alive token should keep alive")
	}
	if !req.WantsUpgrade("websocket") {
		t.Error("WantsUpgrade(websocket) = false")
	}
	if user, pass, ok := req.BasicAuth(); !ok || user != "user" || pass != "pass" {
		t.Errorf("BasicAuth() = %q, %q, %v", user, pass, ok)
	}
	if req.ContentLength() != 12 {
		t.Errorf("ContentLength() = %d, want 12", req.ContentLength())
	}
}

func TestUnescapeLenient(t *testing.T) {
	tests := []struct{ in, want string }{
		{"hello%20world", "hello world"},
		{"a+b", "a b"},
		{"100%", "100%"},
		{"%zzok", "%zzok"},
		{"%4", "%4"},
	}
	for _, tt := range tests {
		if got := UnescapeLenient(tt.in); got != tt.want {
			t.Errorf("UnescapeLenient(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
