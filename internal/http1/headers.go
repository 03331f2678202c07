package http1

import (
	"strings"
)

// Header is one name/value pair as it appeared on the wire.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header collection. Lookups are case-insensitive and
// repeated names keep their insertion order.
type Headers struct {
	list []Header
}

// Add appends a header, keeping any existing values for the same name.
func (h *Headers) Add(name, value string) {
	h.list = append(h.list, Header{Name: name, Value: value})
}

// Set replaces every value of name with a single value. The replacement
// takes the position of the first existing entry.
func (h *Headers) Set(name, value string) {
	for i := range h.list {
		if strings.EqualFold(h.list[i].Name, name) {
			h.list[i] = Header{Name: name, Value: value}
			h.delFrom(i+1, name)
			return
		}
	}
	h.Add(name, value)
}

// Del removes every value of name.
func (h *Headers) Del(name string) {
	h.delFrom(0, name)
}

func (h *Headers) delFrom(start int, name string) {
	out := h.list[:start]
	for _, hd := range h.list[start:] {
		if !strings.EqualFold(hd.Name, name) {
			out = append(out, hd)
		}
	}
	h.list = out
}

// Get returns the first value of name, or "".
func (h *Headers) Get(name string) string {
	for _, hd := range h.list {
		if strings.EqualFold(hd.Name, name) {
			return hd.Value
		}
	}
	return ""
}

// Has reports whether name is present at all.
func (h *Headers) Has(name string) bool {
	for _, hd := range h.list {
		if strings.EqualFold(hd.Name, name) {
			return true
		}
	}
	return false
}

// Values returns every value of name in insertion order.
func (h *Headers) Values(name string) []string {
	var out []string
	for _, hd := range h.list {
		if strings.EqualFold(hd.Name, name) {
			out = append(out, hd.Value)
		}
	}
	return out
}

// Joined concatenates every value of name with ", ".
func (h *Headers) Joined(name string) string {
	return strings.Join(h.Values(name), ", ")
}

// HasToken reports whether the comma-separated values of name contain token,
// compared case-insensitively.
func (h *Headers) HasToken(name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// All returns the headers in wire order. The slice must not be modified.
func (h *Headers) All() []Header {
	return h.list
}

// Len returns the number of header lines.
func (h *Headers) Len() int {
	return len(h.list)
}

// Reset drops all headers but keeps the allocation.
func (h *Headers) Reset() {
	h.list = h.list[:0]
}

// Map flattens the collection for logging. Repeated names are joined.
func (h *Headers) Map() map[string]string {
	m := make(map[string]string, len(h.list))
	for _, hd := range h.list {
		if prev, ok := m[hd.Name]; ok {
			m[hd.Name] = prev + ", " + hd.Value
		} else {
			m[hd.Name] = hd.Value
		}
	}
	return m
}

// ParseHeaderLine splits `name ":" OWS value OWS`. It is shared by the request
// head parser and the multipart part-header parser.
func ParseHeaderLine(line string) (name, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", newError(KindMalformedEncoding, "header line without name or colon: %q", line)
	}
	name = line[:idx]
	if !validToken(name) {
		return "", "", newError(KindMalformedEncoding, "invalid header name %q", name)
	}
	value = strings.Trim(line[idx+1:], " \t")
	for i := 0; i < len(value); i++ {
		if c := value[i]; (c < 0x20 && c != '\t') || c == 0x7f {
			return "", "", newError(KindMalformedEncoding, "control character in header %q", name)
		}
	}
	return name, value, nil
}
