package bodyparser

import (
	"bufio"
	"bytes"
	"io"
	"mime"
	"strings"

	"github.com/muurk/tinyhttps/internal/http1"
)

const (
	maxBoundaryLen   = 70
	maxPartHeaders   = 16
	multipartBufSize = 1024
)

type multipartState uint8

const (
	mpPreamble multipartState = iota
	mpInPart
	mpFinished
	mpFailed
)

// Multipart streams multipart/form-data parts. Part bodies are never
// buffered in full; a part not read to the end is skipped by the next call
// to Next.
type Multipart struct {
	r        *bufio.Reader
	boundary string
	delim    []byte // "\r\n--" + boundary
	state    multipartState
	part     *partReader
	err      error
}

// NewMultipart creates a parser for the given boundary token.
func NewMultipart(r io.Reader, boundary string) (*Multipart, error) {
	if boundary == "" || len(boundary) > maxBoundaryLen {
		return nil, http1.Errorf(http1.KindMalformedEncoding, "invalid multipart boundary %q", boundary)
	}
	return &Multipart{
		r:        bufio.NewReaderSize(r, multipartBufSize),
		boundary: boundary,
		delim:    []byte("\r\n--" + boundary),
	}, nil
}

func (m *Multipart) Kind() Kind { return KindMultipart }

// Next advances to the following part. It returns io.EOF once the closing
// delimiter has been read; a stream that ends earlier fails with
// http1.ErrUnexpectedEOF.
func (m *Multipart) Next() (*Field, error) {
	switch m.state {
	case mpFinished:
		return nil, io.EOF
	case mpFailed:
		return nil, m.err
	case mpPreamble:
		final, err := m.skipPreamble()
		if err != nil {
			return nil, m.fail(err)
		}
		if final {
			m.state = mpFinished
			return nil, io.EOF
		}
	case mpInPart:
		if _, err := io.Copy(io.Discard, m.part); err != nil {
			return nil, m.fail(err)
		}
		final, err := m.afterDelimiter()
		if err != nil {
			return nil, m.fail(err)
		}
		if final {
			m.state = mpFinished
			return nil, io.EOF
		}
	}

	field, err := m.readPartHeaders()
	if err != nil {
		return nil, m.fail(err)
	}
	m.part = &partReader{m: m}
	field.body = m.part
	m.state = mpInPart
	return field, nil
}

func (m *Multipart) fail(err error) error {
	m.state = mpFailed
	m.err = err
	return err
}

func unexpectedEOF() error {
	return &http1.Error{
		Kind:    http1.KindUnexpectedEOF,
		Message: "multipart body ended before the closing boundary",
		Err:     io.ErrUnexpectedEOF,
	}
}

// skipPreamble discards lines until the first dash-boundary line.
func (m *Multipart) skipPreamble() (final bool, err error) {
	dash := "--" + m.boundary
	for {
		line, err := m.r.ReadSlice('\n')
		switch err {
		case nil:
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if strings.TrimRight(string(line), " \t\r") == dash+"--" {
				return true, nil
			}
			return false, unexpectedEOF()
		default:
			return false, err
		}
		s := strings.TrimRight(string(line), " \t\r\n")
		switch s {
		case dash:
			return false, nil
		case dash + "--":
			return true, nil
		}
	}
}

// afterDelimiter handles the bytes that follow a delimiter: "--" closes the
// body, otherwise the rest of the line must be blank.
func (m *Multipart) afterDelimiter() (final bool, err error) {
	line, err := m.r.ReadSlice('\n')
	switch err {
	case nil:
	case io.EOF:
		if strings.HasPrefix(string(line), "--") {
			return true, nil
		}
		return false, unexpectedEOF()
	case bufio.ErrBufferFull:
		return false, http1.Errorf(http1.KindMalformedEncoding, "garbage after multipart boundary")
	default:
		return false, err
	}
	if bytes.HasPrefix(line, []byte("--")) {
		// the epilogue is ignored
		return true, nil
	}
	if strings.TrimRight(string(line), " \t\r\n") != "" {
		return false, http1.Errorf(http1.KindMalformedEncoding, "garbage after multipart boundary")
	}
	return false, nil
}

func (m *Multipart) readPartHeaders() (*Field, error) {
	f := &Field{}
	for {
		line, err := m.r.ReadSlice('\n')
		switch err {
		case nil:
		case io.EOF:
			return nil, unexpectedEOF()
		case bufio.ErrBufferFull:
			return nil, http1.Errorf(http1.KindRequestTooLarge, "multipart header line exceeds %d bytes", multipartBufSize)
		default:
			return nil, err
		}
		s := strings.TrimSuffix(strings.TrimSuffix(string(line), "\n"), "\r")
		if s == "" {
			break
		}
		if f.Headers.Len() >= maxPartHeaders {
			return nil, http1.Errorf(http1.KindRequestTooLarge, "more than %d part headers", maxPartHeaders)
		}
		name, value, err := http1.ParseHeaderLine(s)
		if err != nil {
			return nil, err
		}
		f.Headers.Add(name, value)
	}

	if cd := f.Headers.Get("Content-Disposition"); cd != "" {
		disposition, params, err := mime.ParseMediaType(cd)
		if err != nil {
			return nil, http1.Errorf(http1.KindMalformedEncoding, "invalid Content-Disposition %q", cd)
		}
		if disposition == "form-data" || disposition == "file" {
			f.Name = params["name"]
			f.FileName = params["filename"]
		}
	}
	f.ContentType = f.Headers.Get("Content-Type")
	return f, nil
}

// partReader returns part content up to the next delimiter. It keeps back
// any buffered tail that could be the start of a delimiter split across
// reads.
type partReader struct {
	m    *Multipart
	done bool
}

func (p *partReader) Read(b []byte) (int, error) {
	if p.done {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}
	r := p.m.r
	delim := p.m.delim
	for {
		buf, _ := r.Peek(r.Buffered())
		if idx := bytes.Index(buf, delim); idx >= 0 {
			if idx == 0 {
				if _, err := r.Discard(len(delim)); err != nil {
					return 0, err
				}
				p.done = true
				return 0, io.EOF
			}
			n := copy(b, buf[:idx])
			r.Discard(n)
			return n, nil
		}

		safe := len(buf) - delimPrefixSuffix(buf, delim)
		if safe > 0 {
			n := copy(b, buf[:safe])
			r.Discard(n)
			return n, nil
		}

		// fewer bytes buffered than a delimiter needs; pull more
		before := len(buf)
		_, err := r.Peek(before + 1)
		if r.Buffered() == before {
			if err == nil || err == io.EOF {
				return 0, unexpectedEOF()
			}
			return 0, err
		}
	}
}

// delimPrefixSuffix returns the length of the longest suffix of buf that is
// a proper prefix of delim.
func delimPrefixSuffix(buf, delim []byte) int {
	max := len(delim) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if bytes.Equal(buf[len(buf)-n:], delim[:n]) {
			return n
		}
	}
	return 0
}
