package bodyparser

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/muurk/tinyhttps/internal/http1"
)

// Kind selects the body format.
type Kind int

const (
	KindURLEncoded Kind = iota + 1
	KindMultipart
)

func (k Kind) String() string {
	switch k {
	case KindURLEncoded:
		return "urlencoded"
	case KindMultipart:
		return "multipart"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ErrUnsupportedContentType is returned by New for bodies that are neither
// form-urlencoded nor multipart/form-data.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// DefaultMaxFieldSize bounds one URL-encoded pair and Field.Text reads.
const DefaultMaxFieldSize = 8 * 1024

// Field is one form field. URL-encoded fields carry their decoded Value;
// multipart parts stream their content through Read and are only valid until
// the next call to Parser.Next.
type Field struct {
	Name        string
	Value       string
	FileName    string
	ContentType string
	Headers     http1.Headers

	body io.Reader
}

// IsFile reports whether the part was sent with a filename.
func (f *Field) IsFile() bool {
	return f.FileName != ""
}

// Read streams the field content.
func (f *Field) Read(p []byte) (int, error) {
	if f.body == nil {
		f.body = strings.NewReader(f.Value)
	}
	return f.body.Read(p)
}

// Text reads the rest of the field as a string. More than max bytes fails
// with http1.ErrRequestTooLarge; max <= 0 means DefaultMaxFieldSize.
func (f *Field) Text(max int64) (string, error) {
	if max <= 0 {
		max = DefaultMaxFieldSize
	}
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return string(data), err
	}
	if int64(len(data)) > max {
		return string(data[:max]), http1.Errorf(http1.KindRequestTooLarge, "field %q exceeds %d bytes", f.Name, max)
	}
	return string(data), nil
}

// Parser yields the fields of a request body in wire order. Next returns
// io.EOF after the last field. Any other error means the body could not be
// parsed to the end; fields returned before it remain valid.
type Parser interface {
	Kind() Kind
	Next() (*Field, error)
}

type claimer interface {
	Claim() error
}

// New picks a parser for the Content-Type header value. If body is an
// *http1.Body it is claimed, so a second parser over the same body fails.
func New(contentType string, body io.Reader) (Parser, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}

	var build func() (Parser, error)
	switch mediaType {
	case "application/x-www-form-urlencoded":
		build = func() (Parser, error) {
			return NewURLEncoded(body, DefaultMaxFieldSize), nil
		}
	case "multipart/form-data":
		boundary := params["boundary"]
		build = func() (Parser, error) {
			return NewMultipart(body, boundary)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
	}

	if c, ok := body.(claimer); ok {
		if err := c.Claim(); err != nil {
			return nil, err
		}
	}
	return build()
}

// Collect drains p into a name -> values map, reading each field as text.
// File parts are included by content; callers that expect uploads should
// iterate with Next instead.
func Collect(p Parser, maxFieldSize int64) (map[string][]string, error) {
	out := make(map[string][]string)
	for {
		f, err := p.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		v, err := f.Text(maxFieldSize)
		if err != nil {
			return out, err
		}
		out[f.Name] = append(out[f.Name], v)
	}
}
