package http1

import (
	"errors"
	"strings"
	"testing"
)

type recordSink struct {
	strings.Builder
	writes int
	fail   error
}

func (s *recordSink) Write(p []byte) error {
	if s.fail != nil {
		return s.fail
	}
	s.writes++
	s.Builder.Write(p)
	return nil
}

func TestResponseBufferedGetsContentLength(t *testing.T) {
	sink := &recordSink{}
	req := requestWith(t, "GET / HTTP/1.1\r\n\r\n")
	res := NewResponse(sink, req, DefaultCacheSize)
	res.Header().Set("Content-Type", "text/plain")
	res.WriteString("hello ")
	res.WriteString("world")
	if sink.writes != 0 {
		t.Fatalf("buffered response wrote %d times before Finish", sink.writes)
	}
	if err := res.Finish(); err != nil {
		t.Fatal(err)
	}
	want := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 11\r\n\r\nhello world"
	if sink.String() != want {
		t.Errorf("wire =\n%q\nwant\n%q", sink.String(), want)
	}
	if !res.KeepAlive() {
		t.Error("KeepAlive() = false for a framed HTTP/1.1 response")
	}
}

func TestResponseOverflowChunked(t *testing.T) {
	sink := &recordSink{}
	req := requestWith(t, "GET / HTTP/1.1\r\n\r\n")
	res := NewResponse(sink, req, 4)
	res.WriteString("abc")
	res.WriteString("defgh")
	res.Finish()
	want := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n5\r\ndefgh\r\n0\r\n\r\n"
	if sink.String() != want {
		t.Errorf("wire =\n%q\nwant\n%q", sink.String(), want)
	}
	if !res.KeepAlive() {
		t.Error("chunked HTTP/1.1 response should keep alive")
	}
}

func TestResponseOverflowHTTP10ClosesConnection(t *testing.T) {
	sink := &recordSink{}
	req := requestWith(t, "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")
	res := NewResponse(sink, req, 2)
	res.WriteString("abcdef")
	res.Finish()
	if !strings.Contains(sink.String(), "Connection: close\r\n") {
		t.Errorf("missing Connection: close in %q", sink.String())
	}
	if !strings.HasSuffix(sink.String(), "\r\n\r\nabcdef") {
		t.Errorf("body not close-delimited: %q", sink.String())
	}
	if res.KeepAlive() {
		t.Error("close-delimited response must not keep alive")
	}
}

func TestResponseExplicitLength(t *testing.T) {
	sink := &recordSink{}
	req := requestWith(t, "GET / HTTP/1.1\r\n\r\n")
	res := NewResponse(sink, req, DefaultCacheSize)
	if err := res.SetContentLength(4); err != nil {
		t.Fatal(err)
	}
	res.WriteString("ab")
	if !res.HeadSent() {
		t.Error("head should be sent on first write when length is known")
	}
	res.WriteString("cd")
	res.Finish()
	if !strings.HasSuffix(sink.String(), "Content-Length: 4\r\n\r\nabcd") {
		t.Errorf("wire = %q", sink.String())
	}

	if err := res.SetStatus(500); !errors.Is(err, ErrHeadersSent) {
		t.Errorf("SetStatus after head = %v, want ErrHeadersSent", err)
	}
}

func TestResponseShortBodyClosesConnection(t *testing.T) {
	sink := &recordSink{}
	req := requestWith(t, "GET / HTTP/1.1\r\n\r\n")
	res := NewResponse(sink, req, DefaultCacheSize)
	res.SetContentLength(10)
	res.WriteString("abc")
	res.Finish()
	if res.KeepAlive() {
		t.Error("response shorter than its Content-Length must close the connection")
	}
}

func TestResponseHeadRequest(t *testing.T) {
	sink := &recordSink{}
	req := requestWith(t, "HEAD / HTTP/1.1\r\n\r\n")
	res := NewResponse(sink, req, DefaultCacheSize)
	res.WriteString("12345")
	res.Finish()
	want := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"
	if sink.String() != want {
		t.Errorf("wire = %q, want %q", sink.String(), want)
	}
}

func TestResponseNoBodyStatus(t *testing.T) {
	sink := &recordSink{}
	req := requestWith(t, "DELETE /x HTTP/1.1\r\n\r\n")
	res := NewResponse(sink, req, DefaultCacheSize)
	res.SetStatus(204)
	res.WriteString("ignored")
	res.Finish()
	want := "HTTP/1.1 204 No Content\r\n\r\n"
	if sink.String() != want {
		t.Errorf("wire = %q, want %q", sink.String(), want)
	}
}

func TestResponseConnectionHeaders(t *testing.T) {
	tests := []struct {
		name      string
		head      string
		closeReq  bool
		wantConn  string
		keepAlive bool
	}{
		{"http11 default", "GET / HTTP/1.1\r\n\r\n", false, "", true},
		{"http11 close requested", "GET / HTTP/1.1\r\nConnection: close\r\n\r\n", false, "close", false},
		{"http10 default", "GET / HTTP/1.0\r\n\r\n", false, "close", false},
		{"http10 keep-alive", "GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", false, "keep-alive", true},
		{"handler forces close", "GET / HTTP/1.1\r\n\r\n", true, "close", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordSink{}
			res := NewResponse(sink, requestWith(t, tt.head), DefaultCacheSize)
			if tt.closeReq {
				res.CloseAfterSend()
			}
			res.WriteString("x")
			res.Finish()
			got := ""
			for _, line := range strings.Split(sink.String(), "\r\n") {
				if v, ok := strings.CutPrefix(line, "Connection: "); ok {
					got = v
				}
			}
			if got != tt.wantConn {
				t.Errorf("Connection header = %q, want %q", got, tt.wantConn)
			}
			if res.KeepAlive() != tt.keepAlive {
				t.Errorf("KeepAlive() = %v, want %v", res.KeepAlive(), tt.keepAlive)
			}
		})
	}
}

func TestResponseErrorPage(t *testing.T) {
	sink := &recordSink{}
	res := NewResponse(sink, requestWith(t, "GET / HTTP/1.1\r\n\r\n"), DefaultCacheSize)
	res.WriteString("partial")
	if err := res.Error(404, ""); err != nil {
		t.Fatal(err)
	}
	res.Finish()
	if !strings.HasPrefix(sink.String(), "HTTP/1.1 404 Not Found\r\n") {
		t.Errorf("status line wrong: %q", sink.String())
	}
	if !strings.HasSuffix(sink.String(), "\r\n\r\nNot Found\n") || strings.Contains(sink.String(), "partial") {
		t.Errorf("body wrong: %q", sink.String())
	}
}

func TestResponseSinkFailure(t *testing.T) {
	sink := &recordSink{fail: errors.New("broken pipe")}
	res := NewResponse(sink, requestWith(t, "GET / HTTP/1.1\r\n\r\n"), DefaultCacheSize)
	res.WriteString("x")
	if err := res.Finish(); err == nil {
		t.Fatal("Finish() should report sink failure")
	}
	if res.KeepAlive() {
		t.Error("KeepAlive() must be false after a write failure")
	}
	if _, err := res.WriteString("y"); err == nil {
		t.Error("Write after failure should error")
	}
}
