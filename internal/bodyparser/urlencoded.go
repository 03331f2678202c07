package bodyparser

import (
	"bufio"
	"bytes"
	"io"

	"github.com/muurk/tinyhttps/internal/http1"
)

// URLEncoded streams application/x-www-form-urlencoded pairs. Decoding is
// lenient: a malformed escape is kept literally instead of failing.
type URLEncoded struct {
	r       *bufio.Reader
	maxPair int
	pair    []byte
	done    bool
}

// NewURLEncoded reads pairs from r. A single pair longer than maxPair bytes
// fails with http1.ErrRequestTooLarge.
func NewURLEncoded(r io.Reader, maxPair int) *URLEncoded {
	if maxPair <= 0 {
		maxPair = DefaultMaxFieldSize
	}
	return &URLEncoded{r: bufio.NewReaderSize(r, 512), maxPair: maxPair}
}

func (u *URLEncoded) Kind() Kind { return KindURLEncoded }

func (u *URLEncoded) Next() (*Field, error) {
	for !u.done {
		pair, err := u.readPair()
		if err != nil {
			return nil, err
		}
		if len(pair) == 0 {
			continue
		}
		name, value, _ := bytes.Cut(pair, []byte{'='})
		return &Field{
			Name:  http1.UnescapeLenient(string(name)),
			Value: http1.UnescapeLenient(string(value)),
		}, nil
	}
	return nil, io.EOF
}

// readPair returns the bytes up to the next '&' or the end of the body.
func (u *URLEncoded) readPair() ([]byte, error) {
	u.pair = u.pair[:0]
	for {
		chunk, err := u.r.ReadSlice('&')
		if len(chunk) > 0 && chunk[len(chunk)-1] == '&' && err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if len(u.pair)+len(chunk) > u.maxPair {
			return nil, http1.Errorf(http1.KindRequestTooLarge, "form field exceeds %d bytes", u.maxPair)
		}
		u.pair = append(u.pair, chunk...)
		switch err {
		case nil:
			return u.pair, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			u.done = true
			return u.pair, nil
		default:
			return nil, err
		}
	}
}
