package http1

import (
	"errors"
	"io"
	"strconv"
	"strings"
)

// BodySource is what a Body reads from. It must not read ahead: bytes past
// the end of the body belong to the next request on the connection.
type BodySource interface {
	io.Reader
	io.ByteReader
}

type bodyMode uint8

const (
	bodyEmpty bodyMode = iota
	bodyLength
	bodyChunked
)

type chunkState uint8

const (
	chunkSize chunkState = iota
	chunkData
	chunkDataEnd
	chunkTrailer
	chunkDone
)

const maxChunkLine = 1024

// Body is the single-pass request body. It is bounded either by
// Content-Length or by the terminating zero-size chunk; chunk framing is
// removed transparently.
//
// Claim guards the consuming helpers against each other. Once ReadAll has
// taken the body, direct Read calls fail with ErrBodyConsumed. A streaming
// parser claims the body and then reads through Read, so mixing direct reads
// with an open parser is the caller's mistake and is not detected.
type Body struct {
	src       BodySource
	mode      bodyMode
	declared  int64
	remaining int64 // bytes left in the body (length mode) or current chunk
	chunk     chunkState
	read      int64
	claimed   bool
	taken     bool
	err       error
}

// NewBody attaches src to req according to its framing headers. Chunked
// transfer coding takes precedence over Content-Length.
func NewBody(req *Request, src BodySource) (*Body, error) {
	b := &Body{src: src, declared: -1}
	if te := req.Headers.Get("Transfer-Encoding"); te != "" {
		if !req.Chunked() {
			return nil, newError(KindMalformedEncoding, "unsupported transfer coding %q", te)
		}
		b.mode = bodyChunked
		return b, nil
	}

	values := req.Headers.Values("Content-Length")
	if len(values) == 0 {
		b.declared = 0
		return b, nil
	}
	var n int64 = -1
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			x, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || x < 0 {
				return nil, newError(KindMalformedEncoding, "invalid Content-Length %q", v)
			}
			if n >= 0 && x != n {
				return nil, newError(KindMalformedEncoding, "conflicting Content-Length values")
			}
			n = x
		}
	}
	b.declared = n
	if n > 0 {
		b.mode = bodyLength
		b.remaining = n
	}
	return b, nil
}

// Declared returns the Content-Length, or -1 for a chunked body.
func (b *Body) Declared() int64 {
	return b.declared
}

// BytesRead returns the number of decoded body bytes delivered so far.
func (b *Body) BytesRead() int64 {
	return b.read
}

// Complete reports whether the whole body has been read off the stream.
func (b *Body) Complete() bool {
	switch b.mode {
	case bodyLength:
		return b.remaining == 0
	case bodyChunked:
		return b.chunk == chunkDone
	default:
		return true
	}
}

// Claim marks the body as taken by a consumer. A second claim fails with
// ErrBodyConsumed; readers built on the body call it once up front.
func (b *Body) Claim() error {
	if b.claimed {
		return ErrBodyConsumed
	}
	b.claimed = true
	return nil
}

// Read implements io.Reader. Once the body is exhausted it keeps returning
// io.EOF. A stream that ends early yields ErrUnexpectedEOF.
func (b *Body) Read(p []byte) (int, error) {
	if b.taken {
		return 0, ErrBodyConsumed
	}
	return b.next(p)
}

// drain reads b past the ReadAll guard.
type drain struct{ b *Body }

func (d drain) Read(p []byte) (int, error) { return d.b.next(p) }

func (b *Body) next(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	var err error
	switch b.mode {
	case bodyLength:
		n, err = b.readLength(p)
	case bodyChunked:
		n, err = b.readChunked(p)
	default:
		err = io.EOF
	}
	b.read += int64(n)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}

func (b *Body) readLength(p []byte) (int, error) {
	if b.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.src.Read(p)
	b.remaining -= int64(n)
	if err == io.EOF {
		if b.remaining > 0 {
			return n, b.truncated()
		}
		err = nil
	}
	return n, err
}

func (b *Body) truncated() error {
	return &Error{
		Kind:    KindUnexpectedEOF,
		Message: "stream closed before end of body",
		Err:     io.ErrUnexpectedEOF,
	}
}

func (b *Body) readChunked(p []byte) (int, error) {
	for {
		switch b.chunk {
		case chunkDone:
			return 0, io.EOF

		case chunkSize:
			line, err := b.readLine()
			if err != nil {
				return 0, err
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return 0, err
			}
			if size == 0 {
				b.chunk = chunkTrailer
			} else {
				b.remaining = size
				b.chunk = chunkData
			}

		case chunkData:
			if int64(len(p)) > b.remaining {
				p = p[:b.remaining]
			}
			n, err := b.src.Read(p)
			b.remaining -= int64(n)
			if b.remaining == 0 {
				b.chunk = chunkDataEnd
			}
			if err == io.EOF {
				if n > 0 {
					return n, nil
				}
				return 0, b.truncated()
			}
			if n > 0 || err != nil {
				return n, err
			}

		case chunkDataEnd:
			line, err := b.readLine()
			if err != nil {
				return 0, err
			}
			if line != "" {
				return 0, newError(KindMalformedEncoding, "missing CRLF after chunk data")
			}
			b.chunk = chunkSize

		case chunkTrailer:
			line, err := b.readLine()
			if err != nil {
				return 0, err
			}
			if line == "" {
				b.chunk = chunkDone
			}
		}
	}
}

// readLine reads one CRLF or LF terminated line byte by byte so nothing past
// the line is taken off the source.
func (b *Body) readLine() (string, error) {
	var sb strings.Builder
	for {
		c, err := b.src.ReadByte()
		if err != nil {
			if err == io.EOF {
				return "", b.truncated()
			}
			return "", err
		}
		if c == '\n' {
			s := sb.String()
			return strings.TrimSuffix(s, "\r"), nil
		}
		if sb.Len() >= maxChunkLine {
			return "", newError(KindRequestTooLarge, "chunk line exceeds %d bytes", maxChunkLine)
		}
		sb.WriteByte(c)
	}
}

func parseChunkSize(line string) (int64, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" || len(line) > 15 {
		return 0, newError(KindMalformedEncoding, "invalid chunk size %q", line)
	}
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, newError(KindMalformedEncoding, "invalid chunk size %q", line)
	}
	return n, nil
}

// ReadAll claims the body and reads it into memory. A body larger than max
// fails with ErrRequestTooLarge; max <= 0 means no limit.
func (b *Body) ReadAll(max int64) ([]byte, error) {
	if err := b.Claim(); err != nil {
		return nil, err
	}
	var r io.Reader = drain{b}
	if max > 0 {
		r = io.LimitReader(r, max+1)
	}
	data, err := io.ReadAll(r)
	b.taken = true
	if err != nil {
		return data, err
	}
	if max > 0 && int64(len(data)) > max {
		return data[:max], newError(KindRequestTooLarge, "body exceeds %d bytes", max)
	}
	return data, nil
}

// Discard reads and drops whatever the handler left unread so the next
// request on the connection starts at a frame boundary.
func (b *Body) Discard() error {
	if b.Complete() {
		return nil
	}
	_, err := io.Copy(io.Discard, drain{b})
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if !b.Complete() {
		return ErrUnexpectedEOF
	}
	return nil
}
