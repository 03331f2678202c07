package http1

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Version is the protocol version from the request line.
type Version struct {
	Major int
	Minor int
}

var (
	HTTP10 = Version{1, 0}
	HTTP11 = Version{1, 1}
)

func (v Version) String() string {
	return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether v >= major.minor.
func (v Version) AtLeast(major, minor int) bool {
	return v.Major > major || (v.Major == major && v.Minor >= minor)
}

// Request is one parsed request head plus its lazily read body.
type Request struct {
	Method   Method
	Target   string   // raw request-target as received
	Path     string   // percent-decoded path
	Segments []string // percent-decoded path segments, without the leading empty one
	RawQuery string
	Query    url.Values
	Version  Version
	Headers  Headers

	// Params holds the named path segments bound by the router.
	Params map[string]string

	// Body is nil until the connection attaches the body source.
	Body *Body

	// Filled in by the connection that owns the request.
	RemoteAddr string
	Secure     bool
	ConnID     string
	Pattern    string
	Tag        string
}

// Param returns a path parameter bound by the router.
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// Header is shorthand for r.Headers.Get.
func (r *Request) Header(name string) string {
	return r.Headers.Get(name)
}

// KeepAliveRequested reports whether the client asked for (or defaulted to) a
// persistent connection.
func (r *Request) KeepAliveRequested() bool {
	if r.Headers.HasToken("Connection", "close") {
		return false
	}
	if r.Version.AtLeast(1, 1) {
		return true
	}
	return r.Headers.HasToken("Connection", "keep-alive")
}

// WantsUpgrade reports whether the client requested a protocol switch to proto.
func (r *Request) WantsUpgrade(proto string) bool {
	return r.Headers.HasToken("Upgrade", proto)
}

// ContentLength returns the declared Content-Length, or -1 if absent or
// chunked encoding is in use.
func (r *Request) ContentLength() int64 {
	if r.Chunked() {
		return -1
	}
	v := r.Headers.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// Chunked reports whether the body uses chunked transfer coding.
func (r *Request) Chunked() bool {
	return r.Headers.HasToken("Transfer-Encoding", "chunked")
}

// BasicAuth returns the credentials of an "Authorization: Basic" header.
func (r *Request) BasicAuth() (user, password string, ok bool) {
	auth := r.Headers.Get("Authorization")
	const prefix = "Basic "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(auth[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	user, password, ok = strings.Cut(string(decoded), ":")
	if !ok || user == "" {
		return "", "", false
	}
	return user, password, true
}

// parseTarget splits the request-target into path segments and query.
func (r *Request) parseTarget(maxSegments int) error {
	target := r.Target
	if target == "*" {
		r.Path = "*"
		return nil
	}
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	// absolute-form: scheme://authority/path
	if !strings.HasPrefix(target, "/") {
		i := strings.Index(target, "://")
		if i <= 0 {
			return newError(KindMalformedEncoding, "request target %q is not a path", r.Target)
		}
		rest := target[i+3:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			target = "/"
		} else {
			target = rest[slash:]
		}
	}

	rawPath, rawQuery, _ := strings.Cut(target, "?")
	r.RawQuery = rawQuery

	if rawPath != "/" {
		parts := strings.Split(rawPath[1:], "/")
		if maxSegments > 0 && len(parts) > maxSegments {
			return newError(KindRequestTooLarge, "path has %d segments (limit %d)", len(parts), maxSegments)
		}
		r.Segments = make([]string, len(parts))
		for i, p := range parts {
			seg, err := Unescape(p, false)
			if err != nil {
				return err
			}
			r.Segments[i] = seg
		}
	}
	r.Path = "/" + strings.Join(r.Segments, "/")

	query, err := ParseQuery(rawQuery)
	if err != nil {
		return err
	}
	r.Query = query
	return nil
}

// ParseQuery decodes a query string strictly: malformed escapes fail with
// KindMalformedEncoding. A pair without '=' has an empty value.
func ParseQuery(raw string) (url.Values, error) {
	values := url.Values{}
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		rawName, rawValue, _ := strings.Cut(pair, "=")
		name, err := Unescape(rawName, true)
		if err != nil {
			return nil, err
		}
		value, err := Unescape(rawValue, true)
		if err != nil {
			return nil, err
		}
		values.Add(name, value)
	}
	return values, nil
}
