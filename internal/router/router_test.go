package router

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/muurk/tinyhttps/internal/http1"
)

func segs(path string) []string {
	if path == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

var (
	get     = http1.Methods{http1.MethodGet}
	post    = http1.Methods{http1.MethodPost}
	getPost = http1.Methods{http1.MethodGet, http1.MethodPost}
)

func newTestRouter(t *testing.T) *Router[string, string] {
	t.Helper()
	r := New[string, string]()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("registration failed: %v", err)
		}
	}
	must(r.Handle(get, "/", "root"))
	must(r.Handle(get, "/users", "list-users"))
	must(r.Handle(post, "/users", "create-user"))
	must(r.Handle(get, "/users/{id}", "get-user"))
	must(r.Handle(get, "/users/me", "me"))
	must(r.Handle(getPost, "/users/{id}/posts/{post}", "user-post"))
	must(r.Handle(http1.Methods{http1.MethodDelete}, "/users/me/sessions", "drop-sessions"))
	must(r.HandleWebSocket("/ws/{room}", "chat"))
	must(r.Handle(get, "/both", "both-http"))
	must(r.HandleWebSocket("/both", "both-ws"))
	r.Freeze()
	return r
}

func TestResolve(t *testing.T) {
	r := newTestRouter(t)
	tests := []struct {
		name      string
		method    http1.Method
		path      string
		websocket bool
		kind      ResultKind
		handler   string
		params    map[string]string
		allowed   http1.Methods
	}{
		{"root", http1.MethodGet, "/", false, Matched, "root", map[string]string{}, nil},
		{"literal", http1.MethodGet, "/users", false, Matched, "list-users", map[string]string{}, nil},
		{"method chosen", http1.MethodPost, "/users", false, Matched, "create-user", map[string]string{}, nil},
		{"param", http1.MethodGet, "/users/42", false, Matched, "get-user", map[string]string{"id": "42"}, nil},
		{"literal beats param", http1.MethodGet, "/users/me", false, Matched, "me", map[string]string{}, nil},
		{"two params", http1.MethodPost, "/users/7/posts/abc", false, Matched, "user-post", map[string]string{"id": "7", "post": "abc"}, nil},
		{"backtrack from literal", http1.MethodGet, "/users/me/posts/1", false, Matched, "user-post", map[string]string{"id": "me", "post": "1"}, nil},
		{"head falls back to get", http1.MethodHead, "/users/9", false, Matched, "get-user", map[string]string{"id": "9"}, nil},
		{"not found", http1.MethodGet, "/nope", false, NotFound, "", nil, nil},
		{"too deep", http1.MethodGet, "/users/1/2", false, NotFound, "", nil, nil},
		{"method not allowed", http1.MethodDelete, "/users", false, MethodNotAllowed, "", nil, http1.Methods{http1.MethodGet, http1.MethodPost}},
		{"method not allowed on param route", http1.MethodPut, "/users/5/posts/6", false, MethodNotAllowed, "", nil, http1.Methods{http1.MethodGet, http1.MethodPost}},
		{"method found on later branch", http1.MethodGet, "/users/me", false, Matched, "me", map[string]string{}, nil},
		{"ws only path without upgrade", http1.MethodGet, "/ws/lobby", false, NotFound, "", nil, nil},
		{"upgrade on http path", http1.MethodGet, "/users", true, Matched, "list-users", map[string]string{}, nil},
		{"http on shared path", http1.MethodGet, "/both", false, Matched, "both-http", map[string]string{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(tt.method, segs(tt.path), tt.websocket)
			if res.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", res.Kind, tt.kind)
			}
			if res.Handler != tt.handler {
				t.Errorf("Handler = %q, want %q", res.Handler, tt.handler)
			}
			if tt.params != nil && !reflect.DeepEqual(res.Params, tt.params) {
				t.Errorf("Params = %v, want %v", res.Params, tt.params)
			}
			if !reflect.DeepEqual(res.Allowed, tt.allowed) {
				t.Errorf("Allowed = %v, want %v", res.Allowed, tt.allowed)
			}
		})
	}
}

func TestResolveMethodNotAllowedFallsThroughToMatch(t *testing.T) {
	r := New[string, string]()
	r.Handle(get, "/files/readme", "readme")
	r.Handle(http1.Methods{http1.MethodPut}, "/files/{name}", "upload")

	// The literal leaf only has GET; the param leaf has PUT.
	res := r.Resolve(http1.MethodPut, segs("/files/readme"), false)
	if res.Kind != Matched || res.Handler != "upload" || res.Params["name"] != "readme" {
		t.Errorf("Resolve(PUT) = %+v, want upload with name=readme", res)
	}

	res = r.Resolve(http1.MethodPost, segs("/files/readme"), false)
	want := http1.Methods{http1.MethodGet, http1.MethodPut}.Sorted()
	if res.Kind != MethodNotAllowed || !reflect.DeepEqual(res.Allowed, want) {
		t.Errorf("Resolve(POST) = %+v, want 405 allowing %v from both matching routes", res, want)
	}
}

func TestResolveWebSocket(t *testing.T) {
	r := newTestRouter(t)

	res := r.Resolve(http1.MethodGet, segs("/ws/lobby"), true)
	if res.Kind != MatchedWebSocket || res.WebSocket != "chat" {
		t.Fatalf("Resolve = %+v, want websocket chat", res)
	}
	if res.Params["room"] != "lobby" || res.Pattern != "/ws/{room}" {
		t.Errorf("Params = %v, Pattern = %q", res.Params, res.Pattern)
	}

	res = r.Resolve(http1.MethodGet, segs("/both"), true)
	if res.Kind != MatchedWebSocket || res.WebSocket != "both-ws" {
		t.Errorf("upgrade on shared path = %+v, want both-ws", res)
	}
}

func TestRegistrationErrors(t *testing.T) {
	tests := []struct {
		name     string
		register func(r *Router[string, string]) error
		want     error
	}{
		{
			name: "ambiguous param names",
			register: func(r *Router[string, string]) error {
				if err := r.Handle(get, "/a/{id}", "x"); err != nil {
					return err
				}
				return r.Handle(get, "/a/{name}/b", "y")
			},
			want: ErrAmbiguousRoute,
		},
		{
			name: "duplicate method",
			register: func(r *Router[string, string]) error {
				r.Handle(getPost, "/a", "x")
				return r.Handle(post, "/a", "y")
			},
			want: ErrDuplicateRoute,
		},
		{
			name: "duplicate websocket",
			register: func(r *Router[string, string]) error {
				r.HandleWebSocket("/ws", "x")
				return r.HandleWebSocket("/ws", "y")
			},
			want: ErrDuplicateRoute,
		},
		{
			name:     "no leading slash",
			register: func(r *Router[string, string]) error { return r.Handle(get, "a/b", "x") },
			want:     ErrInvalidPattern,
		},
		{
			name:     "partial brace",
			register: func(r *Router[string, string]) error { return r.Handle(get, "/a{id}", "x") },
			want:     ErrInvalidPattern,
		},
		{
			name:     "empty param name",
			register: func(r *Router[string, string]) error { return r.Handle(get, "/{}", "x") },
			want:     ErrInvalidPattern,
		},
		{
			name:     "repeated param",
			register: func(r *Router[string, string]) error { return r.Handle(get, "/{id}/{id}", "x") },
			want:     ErrInvalidPattern,
		},
		{
			name: "validator for missing param",
			register: func(r *Router[string, string]) error {
				return r.Handle(get, "/a", "x", WithValidator("id", ValidateNotEmpty))
			},
			want: ErrInvalidPattern,
		},
		{
			name: "frozen",
			register: func(r *Router[string, string]) error {
				r.Freeze()
				return r.Handle(get, "/a", "x")
			},
			want: ErrFrozen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.register(New[string, string]())
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAmbiguousRegistrationLeavesTreeUnchanged(t *testing.T) {
	r := New[string, string]()
	r.Handle(get, "/a/{id}", "x")
	if err := r.Handle(get, "/a/{name}/deep", "y"); err == nil {
		t.Fatal("expected ambiguity error")
	}
	if res := r.Resolve(http1.MethodGet, segs("/a/1/deep"), false); res.Kind != NotFound {
		t.Errorf("failed registration left a route behind: %+v", res)
	}
	if got := len(r.Routes()); got != 1 {
		t.Errorf("Routes() has %d entries, want 1", got)
	}
}

func TestValidatorsAndTags(t *testing.T) {
	r := New[string, string]()
	err := r.Handle(get, "/items/{id}", "item",
		WithTag("inventory"),
		WithValidator("id", ValidateUnsignedIntegerMax(100)))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		kind ResultKind
	}{
		{"/items/5", Matched},
		{"/items/100", Matched},
		{"/items/101", InvalidParam},
		{"/items/-1", InvalidParam},
		{"/items/", InvalidParam},
	}
	for _, tt := range tests {
		res := r.Resolve(http1.MethodGet, segs(tt.path), false)
		if res.Kind != tt.kind {
			t.Errorf("Resolve(%s) = %v, want %v", tt.path, res.Kind, tt.kind)
		}
		if res.Kind == InvalidParam && res.Param != "id" {
			t.Errorf("Param = %q, want id", res.Param)
		}
		if res.Kind == Matched && res.Tag != "inventory" {
			t.Errorf("Tag = %q, want inventory", res.Tag)
		}
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name  string
		check Validator
		in    string
		want  bool
	}{
		{"not empty ok", ValidateNotEmpty, "x", true},
		{"not empty fails", ValidateNotEmpty, "", false},
		{"uint ok", ValidateUnsignedInteger, "0123", true},
		{"uint sign", ValidateUnsignedInteger, "+1", false},
		{"uint empty", ValidateUnsignedInteger, "", false},
		{"max ok", ValidateUnsignedIntegerMax(10), "10", true},
		{"max over", ValidateUnsignedIntegerMax(10), "11", false},
		{"max overflow", ValidateUnsignedIntegerMax(10), "99999999999999999999999", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.in); got != tt.want {
				t.Errorf("check(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRoutesListing(t *testing.T) {
	r := newTestRouter(t)
	routes := r.Routes()
	if routes[0].Pattern != "/" {
		t.Errorf("first route = %q, want /", routes[0].Pattern)
	}
	var ws int
	for _, ri := range routes {
		if ri.WebSocket {
			ws++
		}
	}
	if ws != 2 {
		t.Errorf("websocket routes = %d, want 2", ws)
	}
}
