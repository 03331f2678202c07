package bodyparser

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/muurk/tinyhttps/internal/http1"
)

func collectFields(t *testing.T, p Parser) ([]*Field, []string, error) {
	t.Helper()
	var fields []*Field
	var values []string
	for {
		f, err := p.Next()
		if err == io.EOF {
			return fields, values, nil
		}
		if err != nil {
			return fields, values, err
		}
		v, err := f.Text(0)
		if err != nil {
			return fields, values, err
		}
		fields = append(fields, f)
		values = append(values, v)
	}
}

func TestURLEncoded(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		names  []string
		values []string
	}{
		{
			name:   "basic",
			body:   "a=1&b=hello%20world&c",
			names:  []string{"a", "b", "c"},
			values: []string{"1", "hello world", ""},
		},
		{
			name:   "plus and empty pairs",
			body:   "&&x=a+b&&y=&",
			names:  []string{"x", "y"},
			values: []string{"a b", ""},
		},
		{
			name:   "malformed escape passes through",
			body:   "p=100%&q=%zz",
			names:  []string{"p", "q"},
			values: []string{"100%", "%zz"},
		},
		{
			name:   "escaped name",
			body:   "first%5Bname%5D=Ada",
			names:  []string{"first[name]"},
			values: []string{"Ada"},
		},
		{
			name: "empty body",
			body: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// One byte per read exercises pairs split across reads.
			p := NewURLEncoded(iotest.OneByteReader(strings.NewReader(tt.body)), 0)
			fields, values, err := collectFields(t, p)
			if err != nil {
				t.Fatalf("parse error = %v", err)
			}
			if len(fields) != len(tt.names) {
				t.Fatalf("got %d fields, want %d", len(fields), len(tt.names))
			}
			for i, f := range fields {
				if f.Name != tt.names[i] || values[i] != tt.values[i] {
					t.Errorf("field %d = %q:%q, want %q:%q", i, f.Name, values[i], tt.names[i], tt.values[i])
				}
			}
		})
	}
}

func TestURLEncodedFieldTooLarge(t *testing.T) {
	p := NewURLEncoded(strings.NewReader("a=1&big="+strings.Repeat("x", 100)), 32)
	if f, err := p.Next(); err != nil || f.Name != "a" {
		t.Fatalf("first Next() = %v, %v", f, err)
	}
	_, err := p.Next()
	if !errors.Is(err, http1.ErrRequestTooLarge) {
		t.Errorf("Next() error = %v, want RequestTooLarge", err)
	}
}

func TestMultipartSinglePart(t *testing.T) {
	body := "--X\r\n" +
		"Content-Disposition: form-data; name=\"f\"\r\n" +
		"\r\n" +
		"v\r\n" +
		"--X--\r\n"
	p, err := NewMultipart(strings.NewReader(body), "X")
	if err != nil {
		t.Fatal(err)
	}
	fields, values, err := collectFields(t, p)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("got %d fields, want 1", len(fields))
	}
	if fields[0].Name != "f" || values[0] != "v" {
		t.Errorf("field = %q:%q, want f:v", fields[0].Name, values[0])
	}
	if _, err := p.Next(); err != io.EOF {
		t.Errorf("Next() after end = %v, want EOF", err)
	}
}

func TestMultipartFilesAndDuplicates(t *testing.T) {
	content := strings.Repeat("0123456789", 500) + "\r\n--Xnot-a-boundary"
	body := "preamble text\r\n" +
		"--boundary42\r\n" +
		"Content-Disposition: form-data; name=\"tag\"\r\n\r\n" +
		"one\r\n" +
		"--boundary42\r\n" +
		"Content-Disposition: form-data; name=\"tag\"\r\n\r\n" +
		"two\r\n" +
		"--boundary42  \r\n" +
		"Content-Disposition: form-data; name=\"upload\"; filename=\"a.bin\"\r\n" +
		"Content-Type: application/octet-stream\r\n\r\n" +
		content + "\r\n" +
		"--boundary42\r\n" +
		"Content-Disposition: form-data; name=\"empty\"\r\n\r\n" +
		"\r\n" +
		"--boundary42--\r\nepilogue"

	p, err := New("multipart/form-data; boundary=boundary42", iotest.HalfReader(strings.NewReader(body)))
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind() != KindMultipart {
		t.Errorf("Kind() = %v", p.Kind())
	}
	fields, values, err := collectFields(t, p)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	wantNames := []string{"tag", "tag", "upload", "empty"}
	if len(fields) != len(wantNames) {
		t.Fatalf("got %d fields, want %d", len(fields), len(wantNames))
	}
	for i, f := range fields {
		if f.Name != wantNames[i] {
			t.Errorf("field %d name = %q, want %q", i, f.Name, wantNames[i])
		}
	}
	if values[0] != "one" || values[1] != "two" {
		t.Errorf("duplicate values = %q, %q", values[0], values[1])
	}
	up := fields[2]
	if !up.IsFile() || up.FileName != "a.bin" || up.ContentType != "application/octet-stream" {
		t.Errorf("upload metadata = %+v", up)
	}
	if values[2] != content {
		t.Errorf("upload content length = %d, want %d", len(values[2]), len(content))
	}
	if values[3] != "" {
		t.Errorf("empty part = %q", values[3])
	}
}

func TestMultipartSkipsUnreadPart(t *testing.T) {
	body := "--B\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\n" +
		strings.Repeat("z", 3000) + "\r\n--B\r\n" +
		"Content-Disposition: form-data; name=\"b\"\r\n\r\nok\r\n--B--"
	p, _ := NewMultipart(strings.NewReader(body), "B")
	if f, err := p.Next(); err != nil || f.Name != "a" {
		t.Fatalf("Next() = %v, %v", f, err)
	}
	f, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := f.Text(0); f.Name != "b" || v != "ok" {
		t.Errorf("second part = %q:%q", f.Name, v)
	}
}

func TestMultipartErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind http1.ErrorKind
	}{
		{"no boundary at all", "just text", http1.KindUnexpectedEOF},
		{"truncated part body", "--X\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\nabc", http1.KindUnexpectedEOF},
		{"truncated headers", "--X\r\nContent-Disposition: form-data", http1.KindUnexpectedEOF},
		{"missing closing boundary", "--X\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\nabc\r\n--X", http1.KindUnexpectedEOF},
		{"bad part header", "--X\r\nbad header\r\n\r\nabc\r\n--X--", http1.KindMalformedEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := NewMultipart(strings.NewReader(tt.body), "X")
			_, _, err := collectFields(t, p)
			if got := http1.KindOf(err); got != tt.kind {
				t.Errorf("error = %v (kind %v), want kind %v", err, got, tt.kind)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		contentType string
		want        Kind
		wantErr     bool
	}{
		{"application/x-www-form-urlencoded", KindURLEncoded, false},
		{"application/x-www-form-urlencoded; charset=utf-8", KindURLEncoded, false},
		{"multipart/form-data; boundary=abc", KindMultipart, false},
		{"multipart/form-data", 0, true},
		{"application/json", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			p, err := New(tt.contentType, bytes.NewReader(nil))
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Kind() != tt.want {
				t.Errorf("Kind() = %v, want %v", p.Kind(), tt.want)
			}
		})
	}
}

func TestNewClaimsBody(t *testing.T) {
	hp := http1.NewHeadParser(http1.DefaultLimits())
	hp.Feed([]byte("POST / HTTP/1.1\r\nContent-Length: 3\r\n\r\n"))
	body, err := http1.NewBody(hp.Request(), strings.NewReader("a=1"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := New("application/x-www-form-urlencoded", body)
	if err != nil {
		t.Fatal(err)
	}
	values, err := Collect(p, 0)
	if err != nil || values["a"][0] != "1" {
		t.Errorf("Collect() = %v, %v", values, err)
	}
	if _, err := New("application/x-www-form-urlencoded", body); !errors.Is(err, http1.ErrBodyConsumed) {
		t.Errorf("second New() error = %v, want ErrBodyConsumed", err)
	}
}
