package http1

import (
	"bytes"
	"strconv"
	"strings"
)

// Limits bounds the memory a single request head may claim.
type Limits struct {
	MaxRequestLine  int // bytes, excluding CRLF
	MaxHeaderLine   int // bytes per header line, excluding CRLF
	MaxHeaders      int // number of header lines
	MaxPathSegments int
}

// DefaultLimits returns limits sized for small devices talking to browsers.
func DefaultLimits() Limits {
	return Limits{
		MaxRequestLine:  1024,
		MaxHeaderLine:   1024,
		MaxHeaders:      32,
		MaxPathSegments: 32,
	}
}

// Status is the outcome of feeding bytes to a resumable parser.
type Status int

const (
	NeedMore Status = iota
	Done
)

type headState uint8

const (
	stateRequestLine headState = iota
	stateHeaders
	stateDone
	stateFailed
)

// HeadParser parses one request head incrementally. Bytes may arrive in
// arbitrary pieces; a partial line is kept between calls to Feed.
type HeadParser struct {
	limits Limits
	state  headState
	line   []byte
	req    *Request
	err    error
}

// NewHeadParser creates a parser enforcing limits.
func NewHeadParser(limits Limits) *HeadParser {
	return &HeadParser{limits: limits}
}

// Reset prepares the parser for the next request on the same connection.
func (p *HeadParser) Reset() {
	p.state = stateRequestLine
	p.line = p.line[:0]
	p.req = nil
	p.err = nil
}

// Started reports whether any bytes of the current head have been seen.
func (p *HeadParser) Started() bool {
	return p.state != stateRequestLine || len(p.line) > 0
}

// Request returns the parsed request once Feed has reported Done.
func (p *HeadParser) Request() *Request {
	if p.state != stateDone {
		return nil
	}
	return p.req
}

// Feed consumes bytes from data and returns how many were used. Bytes after
// the terminating empty line are left unconsumed; they belong to the body or
// to the next request.
func (p *HeadParser) Feed(data []byte) (int, Status, error) {
	switch p.state {
	case stateDone:
		return 0, Done, nil
	case stateFailed:
		return 0, NeedMore, p.err
	}

	consumed := 0
	for consumed < len(data) {
		rest := data[consumed:]
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			if err := p.appendLine(rest); err != nil {
				return consumed, NeedMore, p.fail(err)
			}
			return len(data), NeedMore, nil
		}
		if err := p.appendLine(rest[:nl]); err != nil {
			return consumed, NeedMore, p.fail(err)
		}
		consumed += nl + 1

		line := p.line
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if bytes.IndexByte(line, '\r') >= 0 {
			return consumed, NeedMore, p.fail(newError(KindMalformedEncoding, "bare CR in line"))
		}

		if err := p.processLine(string(line)); err != nil {
			return consumed, NeedMore, p.fail(err)
		}
		p.line = p.line[:0]
		if p.state == stateDone {
			return consumed, Done, nil
		}
	}
	return consumed, NeedMore, nil
}

func (p *HeadParser) fail(err error) error {
	p.state = stateFailed
	p.err = err
	return err
}

func (p *HeadParser) appendLine(b []byte) error {
	limit := p.limits.MaxHeaderLine
	what := "header line"
	if p.state == stateRequestLine {
		limit = p.limits.MaxRequestLine
		what = "request line"
	}
	// +1 leaves room for the CR that precedes LF
	if limit > 0 && len(p.line)+len(b) > limit+1 {
		return newError(KindRequestTooLarge, "%s exceeds %d bytes", what, limit)
	}
	p.line = append(p.line, b...)
	return nil
}

func (p *HeadParser) processLine(line string) error {
	switch p.state {
	case stateRequestLine:
		if line == "" {
			// tolerate stray CRLF between pipelined requests
			return nil
		}
		req, err := parseRequestLine(line, p.limits.MaxPathSegments)
		if err != nil {
			return err
		}
		p.req = req
		p.state = stateHeaders
		return nil

	case stateHeaders:
		if line == "" {
			p.state = stateDone
			return nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			return newError(KindMalformedEncoding, "obsolete header folding is not supported")
		}
		if p.limits.MaxHeaders > 0 && p.req.Headers.Len() >= p.limits.MaxHeaders {
			return newError(KindRequestTooLarge, "more than %d header lines", p.limits.MaxHeaders)
		}
		name, value, err := ParseHeaderLine(line)
		if err != nil {
			return err
		}
		p.req.Headers.Add(name, value)
		return nil
	}
	return nil
}

func parseRequestLine(line string, maxSegments int) (*Request, error) {
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || target == "" || strings.IndexByte(proto, ' ') >= 0 {
		return nil, newError(KindMalformedEncoding, "malformed request line %q", line)
	}
	if !validToken(method) {
		return nil, newError(KindMalformedEncoding, "invalid method %q", method)
	}
	version, err := parseVersion(proto)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:  Method(method),
		Target:  target,
		Version: version,
	}
	if err := req.parseTarget(maxSegments); err != nil {
		return nil, err
	}
	return req, nil
}

func parseVersion(proto string) (Version, error) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(proto, prefix) {
		return Version{}, newError(KindMalformedEncoding, "invalid protocol %q", proto)
	}
	majorStr, minorStr, ok := strings.Cut(proto[len(prefix):], ".")
	if !ok {
		return Version{}, newError(KindMalformedEncoding, "invalid protocol %q", proto)
	}
	major, err1 := strconv.Atoi(majorStr)
	minor, err2 := strconv.Atoi(minorStr)
	if err1 != nil || err2 != nil || major != 1 || minor < 0 || minor > 9 {
		return Version{}, newError(KindMalformedEncoding, "unsupported protocol %q", proto)
	}
	return Version{Major: major, Minor: minor}, nil
}
