package router

import (
	"strings"
	"sync/atomic"

	"github.com/muurk/tinyhttps/internal/http1"
)

// ResultKind is the outcome of Resolve.
type ResultKind int

const (
	NotFound ResultKind = iota
	MethodNotAllowed
	Matched
	MatchedWebSocket
	InvalidParam
)

func (k ResultKind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case MethodNotAllowed:
		return "MethodNotAllowed"
	case Matched:
		return "Matched"
	case MatchedWebSocket:
		return "MatchedWebSocket"
	case InvalidParam:
		return "InvalidParam"
	default:
		return "ResultKind(?)"
	}
}

// Resolution is what Resolve found for a request.
type Resolution[H, W any] struct {
	Kind      ResultKind
	Handler   H // Matched
	WebSocket W // MatchedWebSocket
	Params    map[string]string
	Pattern   string
	Tag       string

	// Allowed lists the bound methods when Kind is MethodNotAllowed.
	Allowed http1.Methods
	// Param names the parameter that failed validation when Kind is
	// InvalidParam.
	Param string
}

// RouteInfo describes one registration, for listings.
type RouteInfo struct {
	Pattern   string
	Methods   http1.Methods
	WebSocket bool
	Tag       string
}

// RouteOption customizes a registration.
type RouteOption func(*routeOptions)

type routeOptions struct {
	tag        string
	validators []paramValidator
}

type paramValidator struct {
	param string
	check Validator
}

// WithTag attaches an opaque tag the handler can read back from the request.
func WithTag(tag string) RouteOption {
	return func(o *routeOptions) { o.tag = tag }
}

// WithValidator runs check on the named parameter before dispatch. A failed
// check resolves as InvalidParam.
func WithValidator(param string, check Validator) RouteOption {
	return func(o *routeOptions) {
		o.validators = append(o.validators, paramValidator{param: param, check: check})
	}
}

type handlerBinding[H any] struct {
	method  http1.Method
	handler H
	pattern string
	opts    routeOptions
}

type wsBinding[W any] struct {
	handler W
	pattern string
	opts    routeOptions
}

type node[H, W any] struct {
	literals  map[string]*node[H, W]
	param     *node[H, W]
	paramName string
	handlers  []handlerBinding[H]
	ws        *wsBinding[W]
}

func (n *node[H, W]) methods() http1.Methods {
	out := make(http1.Methods, 0, len(n.handlers))
	for _, b := range n.handlers {
		out = append(out, b.method)
	}
	return out
}

func (n *node[H, W]) lookup(m http1.Method) *handlerBinding[H] {
	for i := range n.handlers {
		if n.handlers[i].method == m {
			return &n.handlers[i]
		}
	}
	return nil
}

// Router is a segment tree of path patterns. Literal segments are matched
// before the parameter segment at the same position, with backtracking when
// the literal branch dead-ends. H is the ordinary handler type and W the
// WebSocket handler type.
//
// All registration happens before Freeze. After that the tree is read-only
// and Resolve may be called from any goroutine.
type Router[H, W any] struct {
	root   *node[H, W]
	routes []RouteInfo
	frozen atomic.Bool
}

// New returns an empty router.
func New[H, W any]() *Router[H, W] {
	return &Router[H, W]{root: &node[H, W]{}}
}

// Freeze ends the registration phase.
func (r *Router[H, W]) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze was called.
func (r *Router[H, W]) Frozen() bool {
	return r.frozen.Load()
}

// Routes lists registrations in the order they were made.
func (r *Router[H, W]) Routes() []RouteInfo {
	out := make([]RouteInfo, len(r.routes))
	copy(out, r.routes)
	return out
}

type segment struct {
	literal string
	param   string
}

func parsePattern(pattern string) ([]segment, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, newError(KindInvalidPattern, pattern, "pattern must start with /")
	}
	if pattern == "/" {
		return nil, nil
	}
	parts := strings.Split(pattern[1:], "/")
	segs := make([]segment, len(parts))
	seen := make(map[string]bool)
	for i, p := range parts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			name := p[1 : len(p)-1]
			if !validParamName(name) {
				return nil, newError(KindInvalidPattern, pattern, "invalid parameter name %q", name)
			}
			if seen[name] {
				return nil, newError(KindInvalidPattern, pattern, "parameter %q used twice", name)
			}
			seen[name] = true
			segs[i] = segment{param: name}
			continue
		}
		if strings.ContainsAny(p, "{}") {
			return nil, newError(KindInvalidPattern, pattern, "braces must enclose a whole segment")
		}
		segs[i] = segment{literal: p}
	}
	return segs, nil
}

func validParamName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || (i > 0 && c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

// insert walks or grows the tree for pattern and returns the leaf.
func (r *Router[H, W]) insert(pattern string, opts routeOptions) (*node[H, W], error) {
	if r.Frozen() {
		return nil, newError(KindFrozen, pattern, "registration after serving started")
	}
	segs, err := parsePattern(pattern)
	if err != nil {
		return nil, err
	}
	params := make(map[string]bool)
	for _, s := range segs {
		if s.param != "" {
			params[s.param] = true
		}
	}
	for _, v := range opts.validators {
		if !params[v.param] {
			return nil, newError(KindInvalidPattern, pattern, "validator for unknown parameter %q", v.param)
		}
	}

	// Check ambiguity before mutating so a failed registration leaves the
	// tree unchanged.
	n := r.root
	for _, s := range segs {
		if n == nil {
			break
		}
		if s.param != "" {
			if n.param != nil && n.paramName != s.param {
				return nil, newError(KindAmbiguousRoute, pattern,
					"parameter {%s} conflicts with {%s}", s.param, n.paramName)
			}
			n = n.param
		} else {
			n = n.literals[s.literal]
		}
	}

	n = r.root
	for _, s := range segs {
		if s.param != "" {
			if n.param == nil {
				n.param = &node[H, W]{}
				n.paramName = s.param
			}
			n = n.param
			continue
		}
		child, ok := n.literals[s.literal]
		if !ok {
			if n.literals == nil {
				n.literals = make(map[string]*node[H, W])
			}
			child = &node[H, W]{}
			n.literals[s.literal] = child
		}
		n = child
	}
	return n, nil
}

func collectOptions(opts []RouteOption) routeOptions {
	var o routeOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Handle binds h to every method in methods for pattern.
func (r *Router[H, W]) Handle(methods http1.Methods, pattern string, h H, opts ...RouteOption) error {
	if len(methods) == 0 {
		return newError(KindInvalidPattern, pattern, "no methods given")
	}
	o := collectOptions(opts)
	methods = methods.Sorted()
	n, err := r.insert(pattern, o)
	if err != nil {
		return err
	}
	for _, m := range methods {
		if n.lookup(m) != nil {
			return newError(KindDuplicateRoute, pattern, "method %s already bound", m)
		}
	}
	for _, m := range methods {
		n.handlers = append(n.handlers, handlerBinding[H]{method: m, handler: h, pattern: pattern, opts: o})
	}
	r.routes = append(r.routes, RouteInfo{Pattern: pattern, Methods: methods, Tag: o.tag})
	return nil
}

// HandleWebSocket binds a WebSocket handler to pattern. Only upgrade
// requests reach it.
func (r *Router[H, W]) HandleWebSocket(pattern string, w W, opts ...RouteOption) error {
	o := collectOptions(opts)
	n, err := r.insert(pattern, o)
	if err != nil {
		return err
	}
	if n.ws != nil {
		return newError(KindDuplicateRoute, pattern, "websocket already bound")
	}
	n.ws = &wsBinding[W]{handler: w, pattern: pattern, opts: o}
	r.routes = append(r.routes, RouteInfo{
		Pattern:   pattern,
		Methods:   http1.Methods{http1.MethodGet},
		WebSocket: true,
		Tag:       o.tag,
	})
	return nil
}

type binding struct {
	name  string
	value string
}

type search[H, W any] struct {
	method    http1.Method
	websocket bool
	segments  []string
	stack     []binding

	ws      *wsBinding[W]
	wsArgs  []binding
	hb      *handlerBinding[H]
	hbArgs  []binding
	allowed http1.Methods
	matched bool
}

// done reports whether nothing later in the walk can beat what was found.
func (s *search[H, W]) done() bool {
	if s.websocket {
		return s.ws != nil
	}
	return s.hb != nil
}

func (s *search[H, W]) visitLeaf(n *node[H, W]) {
	if s.websocket && n.ws != nil && s.ws == nil {
		s.ws = n.ws
		s.wsArgs = append([]binding(nil), s.stack...)
	}
	if len(n.handlers) == 0 {
		return
	}
	s.matched = true
	if s.hb == nil {
		b := n.lookup(s.method)
		if b == nil && s.method == http1.MethodHead {
			b = n.lookup(http1.MethodGet)
		}
		if b != nil {
			s.hb = b
			s.hbArgs = append([]binding(nil), s.stack...)
			return
		}
	}
	s.allowed = append(s.allowed, n.methods()...)
}

func (s *search[H, W]) walk(n *node[H, W], depth int) {
	if depth == len(s.segments) {
		s.visitLeaf(n)
		return
	}
	seg := s.segments[depth]
	if child, ok := n.literals[seg]; ok {
		s.walk(child, depth+1)
		if s.done() {
			return
		}
	}
	if n.param != nil {
		s.stack = append(s.stack, binding{name: n.paramName, value: seg})
		s.walk(n.param, depth+1)
		s.stack = s.stack[:len(s.stack)-1]
	}
}

func toParams(args []binding) map[string]string {
	m := make(map[string]string, len(args))
	for _, a := range args {
		m[a.name] = a.value
	}
	return m
}

func validate(params map[string]string, validators []paramValidator) string {
	for _, v := range validators {
		if !v.check(params[v.param]) {
			return v.param
		}
	}
	return ""
}

// Resolve matches method and decoded path segments against the tree. When
// websocket is set (the request asked for an upgrade) a WebSocket binding is
// preferred; without one the request is dispatched as an ordinary request.
// Paths bound only to a WebSocket handler resolve as NotFound for ordinary
// requests.
func (r *Router[H, W]) Resolve(method http1.Method, segments []string, websocket bool) Resolution[H, W] {
	s := &search[H, W]{method: method, websocket: websocket, segments: segments}
	s.walk(r.root, 0)

	var res Resolution[H, W]
	switch {
	case s.ws != nil:
		res.Kind = MatchedWebSocket
		res.WebSocket = s.ws.handler
		res.Params = toParams(s.wsArgs)
		res.Pattern = s.ws.pattern
		res.Tag = s.ws.opts.tag
		if p := validate(res.Params, s.ws.opts.validators); p != "" {
			res.Kind = InvalidParam
			res.Param = p
		}
	case s.hb != nil:
		res.Kind = Matched
		res.Handler = s.hb.handler
		res.Params = toParams(s.hbArgs)
		res.Pattern = s.hb.pattern
		res.Tag = s.hb.opts.tag
		if p := validate(res.Params, s.hb.opts.validators); p != "" {
			res.Kind = InvalidParam
			res.Param = p
		}
	case s.matched:
		res.Kind = MethodNotAllowed
		res.Allowed = s.allowed.Sorted()
	default:
		res.Kind = NotFound
	}
	return res
}
