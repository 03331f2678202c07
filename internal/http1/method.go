package http1

import (
	"sort"
	"strings"
)

// Method is a request method token. Unknown methods are carried verbatim.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
	MethodTrace   Method = "TRACE"
)

var knownMethods = map[Method]bool{
	MethodGet: true, MethodHead: true, MethodPost: true, MethodPut: true,
	MethodPatch: true, MethodDelete: true, MethodOptions: true,
	MethodConnect: true, MethodTrace: true,
}

// Known reports whether m is one of the standard methods.
func (m Method) Known() bool {
	return knownMethods[m]
}

func (m Method) String() string {
	return string(m)
}

// validToken reports whether s is a non-empty RFC 7230 token.
func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

// Methods is an ordered, duplicate-free set of methods.
type Methods []Method

// Contains reports whether m is in the set.
func (ms Methods) Contains(m Method) bool {
	for _, x := range ms {
		if x == m {
			return true
		}
	}
	return false
}

// Sorted returns a sorted copy without duplicates.
func (ms Methods) Sorted() Methods {
	seen := make(map[Method]bool, len(ms))
	out := make(Methods, 0, len(ms))
	for _, m := range ms {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Join renders the set for an Allow header.
func (ms Methods) Join() string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = string(m)
	}
	return strings.Join(parts, ", ")
}
