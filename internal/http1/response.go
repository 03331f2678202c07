package http1

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Sink receives serialized response bytes. An error from Write is fatal to
// the connection.
type Sink interface {
	Write(p []byte) error
}

// DefaultCacheSize is the number of body bytes buffered while waiting to see
// whether the whole response fits and can be sent with a Content-Length.
const DefaultCacheSize = 1400

// ErrHeadersSent is returned when the status or headers are changed after
// the head has been written.
var ErrHeadersSent = errors.New("response head already sent")

type framing uint8

const (
	framingUndecided framing = iota
	framingLength
	framingChunked
	framingClose
	framingNone
)

// Response is the handler-facing response writer. If the handler calls
// SetContentLength before the first Write the body is streamed with that
// length. Otherwise output is buffered up to the cache size; a response that
// fits is sent with a computed Content-Length, a larger one switches to
// chunked coding (HTTP/1.1) or to a close-delimited body (HTTP/1.0).
type Response struct {
	sink Sink
	req  *Request

	status     int
	statusText string
	header     Headers

	contentLength int64
	cacheSize     int
	buf           []byte

	headSent   bool
	framing    framing
	written    int64
	closeAfter bool
	finished   bool
	err        error
}

// NewResponse creates a response for req writing to sink.
func NewResponse(sink Sink, req *Request, cacheSize int) *Response {
	if cacheSize < 0 {
		cacheSize = 0
	}
	return &Response{
		sink:          sink,
		req:           req,
		status:        http.StatusOK,
		contentLength: -1,
		cacheSize:     cacheSize,
	}
}

// Status returns the status code that is or will be sent.
func (r *Response) Status() int {
	return r.status
}

// SetStatus sets the status code. It has no effect after the head was sent.
func (r *Response) SetStatus(code int) error {
	if r.headSent {
		return ErrHeadersSent
	}
	r.status = code
	return nil
}

// SetStatusText overrides the reason phrase.
func (r *Response) SetStatusText(text string) error {
	if r.headSent {
		return ErrHeadersSent
	}
	r.statusText = text
	return nil
}

// Header returns the mutable header collection. Framing headers
// (Content-Length, Transfer-Encoding) are managed by the response itself.
func (r *Response) Header() *Headers {
	return &r.header
}

// SetContentLength declares the body length. It must be called before the
// first Write to stream without buffering.
func (r *Response) SetContentLength(n int64) error {
	if r.headSent || len(r.buf) > 0 {
		return ErrHeadersSent
	}
	if n < 0 {
		return fmt.Errorf("negative content length %d", n)
	}
	r.contentLength = n
	return nil
}

// CloseAfterSend forces the connection closed once this response is done,
// overriding keep-alive.
func (r *Response) CloseAfterSend() {
	r.closeAfter = true
}

// HeadSent reports whether the status line and headers were written.
func (r *Response) HeadSent() bool {
	return r.headSent
}

// Written returns the number of body bytes accepted so far.
func (r *Response) Written() int64 {
	return r.written
}

// Err returns the first sink error, if any.
func (r *Response) Err() error {
	return r.err
}

func (r *Response) bodyAllowed() bool {
	s := r.status
	return !(s >= 100 && s < 200) && s != http.StatusNoContent && s != http.StatusNotModified
}

func (r *Response) isHead() bool {
	return r.req != nil && r.req.Method == MethodHead
}

// Write implements io.Writer for the response body.
func (r *Response) Write(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.finished {
		return 0, errors.New("write after response finished")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !r.bodyAllowed() {
		return len(p), nil
	}

	if !r.headSent {
		switch {
		case r.contentLength >= 0:
			r.framing = framingLength
			if err := r.sendHead(nil); err != nil {
				return 0, err
			}
		case len(r.buf)+len(p) <= r.cacheSize:
			if !r.isHead() {
				r.buf = append(r.buf, p...)
			}
			r.written += int64(len(p))
			return len(p), nil
		default:
			return r.overflow(p)
		}
	}
	return r.writeBody(p)
}

// WriteString writes s to the body.
func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// overflow gives up on buffering and commits to an open-ended framing.
func (r *Response) overflow(p []byte) (int, error) {
	if r.req != nil && r.req.Version.AtLeast(1, 1) {
		r.framing = framingChunked
	} else {
		r.framing = framingClose
		r.closeAfter = true
	}
	pending := r.buf
	r.buf = nil
	if err := r.sendHead(nil); err != nil {
		return 0, err
	}
	if len(pending) > 0 {
		if err := r.emit(pending); err != nil {
			return 0, err
		}
	}
	return r.writeBody(p)
}

func (r *Response) writeBody(p []byte) (int, error) {
	n := len(p)
	if r.framing == framingLength {
		left := r.contentLength - r.written
		if int64(n) > left {
			// the declared length is what the peer trusts; drop the excess
			p = p[:left]
			r.closeAfter = true
		}
	}
	if r.isHead() {
		r.written += int64(len(p))
		return n, nil
	}
	if len(p) > 0 {
		if err := r.emit(p); err != nil {
			return 0, err
		}
	}
	r.written += int64(len(p))
	if len(p) < n {
		return len(p), fmt.Errorf("body exceeds declared Content-Length %d", r.contentLength)
	}
	return n, nil
}

func (r *Response) emit(p []byte) error {
	if r.framing != framingChunked {
		return r.write(p)
	}
	out := make([]byte, 0, len(p)+12)
	out = strconv.AppendInt(out, int64(len(p)), 16)
	out = append(out, '\r', '\n')
	out = append(out, p...)
	out = append(out, '\r', '\n')
	return r.write(out)
}

func (r *Response) write(p []byte) error {
	if r.err != nil {
		return r.err
	}
	if err := r.sink.Write(p); err != nil {
		r.err = err
		return err
	}
	return nil
}

// wantsClose decides the Connection header at head time.
func (r *Response) wantsClose() bool {
	if r.closeAfter || r.framing == framingClose {
		return true
	}
	if r.req == nil || !r.req.KeepAliveRequested() {
		return true
	}
	return r.header.HasToken("Connection", "close")
}

// sendHead writes the status line and headers, followed by body if non-nil.
func (r *Response) sendHead(body []byte) error {
	r.headSent = true
	if r.header.HasToken("Connection", "close") {
		r.closeAfter = true
	}
	r.header.Del("Content-Length")
	r.header.Del("Transfer-Encoding")

	switch r.framing {
	case framingLength:
		r.header.Set("Content-Length", strconv.FormatInt(r.contentLength, 10))
	case framingChunked:
		r.header.Set("Transfer-Encoding", "chunked")
	}

	if r.status != http.StatusSwitchingProtocols {
		r.header.Del("Connection")
		if r.wantsClose() {
			r.closeAfter = true
			r.header.Set("Connection", "close")
		} else if !r.req.Version.AtLeast(1, 1) {
			r.header.Set("Connection", "keep-alive")
		}
	}

	text := r.statusText
	if text == "" {
		text = http.StatusText(r.status)
	}
	out := make([]byte, 0, 256+len(body))
	out = append(out, "HTTP/1.1 "...)
	out = strconv.AppendInt(out, int64(r.status), 10)
	out = append(out, ' ')
	out = append(out, text...)
	out = append(out, '\r', '\n')
	for _, h := range r.header.All() {
		out = append(out, h.Name...)
		out = append(out, ':', ' ')
		out = append(out, h.Value...)
		out = append(out, '\r', '\n')
	}
	out = append(out, '\r', '\n')
	out = append(out, body...)
	return r.write(out)
}

// Finish completes the response: it sends a buffered response with its
// computed length, or the terminating chunk of a chunked one. It is safe to
// call more than once.
func (r *Response) Finish() error {
	if r.finished {
		return r.err
	}
	r.finished = true
	if r.err != nil {
		return r.err
	}

	if !r.headSent {
		if !r.bodyAllowed() {
			r.framing = framingNone
			return r.sendHead(nil)
		}
		if r.contentLength < 0 {
			r.contentLength = r.written
		}
		r.framing = framingLength
		if r.contentLength != r.written && !r.isHead() {
			r.closeAfter = true
		}
		body := r.buf
		r.buf = nil
		return r.sendHead(body)
	}

	switch r.framing {
	case framingChunked:
		if r.isHead() {
			return nil
		}
		return r.write([]byte("0\r\n\r\n"))
	case framingLength:
		if r.written < r.contentLength && !r.isHead() {
			// the peer is still waiting for bytes that will never come
			r.closeAfter = true
		}
	}
	return nil
}

// Finished reports whether Finish has run.
func (r *Response) Finished() bool {
	return r.finished
}

// KeepAlive reports whether the connection may carry another request after
// this response.
func (r *Response) KeepAlive() bool {
	return r.err == nil && !r.closeAfter && !r.wantsClose()
}

// Error replaces the response with a plain-text error page. It fails once
// the head has been sent.
func (r *Response) Error(code int, msg string) error {
	if r.headSent {
		return ErrHeadersSent
	}
	r.status = code
	r.statusText = ""
	r.buf = r.buf[:0]
	r.written = 0
	r.contentLength = -1
	r.header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg == "" {
		msg = http.StatusText(code)
	}
	_, err := r.WriteString(msg + "\n")
	return err
}
