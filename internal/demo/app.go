package demo

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/muurk/tinyhttps/internal/bodyparser"
	"github.com/muurk/tinyhttps/internal/http1"
	"github.com/muurk/tinyhttps/internal/logging"
	"github.com/muurk/tinyhttps/internal/router"
	"github.com/muurk/tinyhttps/internal/server"
	"github.com/muurk/tinyhttps/internal/websocket"
	"go.uber.org/zap"
)

// Tags attached to demo routes.
const (
	TagPublic = "public"
	TagAdmin  = "admin"
)

const (
	maxEchoBody   = 16 * 1024
	maxNameLen    = 64
	maxMessageLen = 500
	listLimit     = 50
	storeTimeout  = 2 * time.Second
)

var (
	get     = http1.Methods{http1.MethodGet}
	post    = http1.Methods{http1.MethodPost}
	getPost = http1.Methods{http1.MethodGet, http1.MethodPost}
)

// Options configures the demo application.
type Options struct {
	// MaxUpload bounds each uploaded file
	MaxUpload int64
	// AdminUser and AdminPassword protect routes tagged admin. Empty
	// credentials disable those routes.
	AdminUser     string
	AdminPassword string
	// Stats feeds the admin status page
	Stats func() server.Stats
}

// App is a small application exercising every server feature: path
// parameters with validators, form and multipart bodies, middleware,
// default headers and WebSocket endpoints.
type App struct {
	store *Store
	hub   *Hub
	opts  Options
}

// New creates the application over store.
func New(store *Store, opts Options) *App {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 1 << 20
	}
	return &App{store: store, hub: NewHub(), opts: opts}
}

// Hub returns the chat room.
func (a *App) Hub() *Hub {
	return a.hub
}

// Register installs the demo routes, middleware and WebSocket endpoints.
func (a *App) Register(srv *server.Server) error {
	type route struct {
		methods http1.Methods
		pattern string
		handler server.HandlerFunc
		opts    []router.RouteOption
	}
	routes := []route{
		{get, "/", a.index, []router.RouteOption{router.WithTag(TagPublic)}},
		{get, "/hello/{name}", a.hello, []router.RouteOption{
			router.WithTag(TagPublic),
			router.WithValidator("name", router.ValidateNotEmpty),
		}},
		{get, "/users/{id}", a.user, []router.RouteOption{
			router.WithTag(TagPublic),
			router.WithValidator("id", router.ValidateUnsignedIntegerMax(1000000)),
		}},
		{post, "/echo", a.echo, []router.RouteOption{router.WithTag(TagPublic)}},
		{getPost, "/guestbook", a.guestbook, []router.RouteOption{router.WithTag(TagPublic)}},
		{post, "/upload", a.upload, []router.RouteOption{router.WithTag(TagPublic)}},
		{get, "/uploads", a.uploads, []router.RouteOption{router.WithTag(TagPublic)}},
		{get, "/admin/status", a.status, []router.RouteOption{router.WithTag(TagAdmin)}},
	}
	for _, r := range routes {
		if err := srv.Handle(r.methods, r.pattern, r.handler, r.opts...); err != nil {
			return fmt.Errorf("register %s: %w", r.pattern, err)
		}
	}

	if err := srv.HandleWebSocket("/ws/echo", websocket.HandlerFuncs{Message: echoMessage},
		router.WithTag(TagPublic)); err != nil {
		return fmt.Errorf("register /ws/echo: %w", err)
	}
	if err := srv.HandleWebSocket("/ws/chat", a.hub, router.WithTag(TagPublic)); err != nil {
		return fmt.Errorf("register /ws/chat: %w", err)
	}

	return srv.Use(a.requireAdmin)
}

// requireAdmin guards routes tagged admin with basic authentication.
func (a *App) requireAdmin(req *http1.Request, res *http1.Response, next func()) {
	if req.Tag != TagAdmin {
		next()
		return
	}
	user, pass, ok := req.BasicAuth()
	if a.opts.AdminUser == "" || !ok ||
		subtle.ConstantTimeCompare([]byte(user), []byte(a.opts.AdminUser)) != 1 ||
		subtle.ConstantTimeCompare([]byte(pass), []byte(a.opts.AdminPassword)) != 1 {
		res.Header().Set("WWW-Authenticate", `Basic realm="tinyhttps"`)
		res.Error(401, "authentication required")
		return
	}
	next()
}

func (a *App) index(req *http1.Request, res *http1.Response) {
	res.Header().Set("Content-Type", "text/html; charset=utf-8")
	res.WriteString(indexPage)
}

func (a *App) hello(req *http1.Request, res *http1.Response) {
	res.Header().Set("Content-Type", "text/plain; charset=utf-8")
	greeting := "Hello, " + req.Param("name") + "!"
	if lang := req.Query.Get("lang"); lang == "fr" {
		greeting = "Bonjour, " + req.Param("name") + " !"
	}
	res.WriteString(greeting + "\n")
}

func (a *App) user(req *http1.Request, res *http1.Response) {
	id, _ := strconv.ParseUint(req.Param("id"), 10, 64)
	writeJSON(res, 200, map[string]interface{}{
		"id":     id,
		"name":   "user-" + req.Param("id"),
		"secure": req.Secure,
	})
}

func (a *App) echo(req *http1.Request, res *http1.Response) {
	data, err := req.Body.ReadAll(maxEchoBody)
	if err != nil {
		res.Error(http1.KindOf(err).Status(), err.Error())
		return
	}
	if ct := req.Header("Content-Type"); ct != "" {
		res.Header().Set("Content-Type", ct)
	}
	res.SetContentLength(int64(len(data)))
	res.Write(data)
}

func (a *App) guestbook(req *http1.Request, res *http1.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if req.Method == http1.MethodGet {
		entries, err := a.store.Entries(ctx, listLimit)
		if err != nil {
			logging.Error("Failed to list guestbook", zap.Error(err))
			res.Error(500, "storage error")
			return
		}
		writeJSON(res, 200, entries)
		return
	}

	form, ok := parseForm(req, res)
	if !ok {
		return
	}
	name := strings.TrimSpace(first(form["name"]))
	message := strings.TrimSpace(first(form["message"]))
	switch {
	case name == "" || message == "":
		res.Error(400, "name and message are required")
		return
	case utf8.RuneCountInString(name) > maxNameLen:
		res.Error(400, fmt.Sprintf("name exceeds %d characters", maxNameLen))
		return
	case utf8.RuneCountInString(message) > maxMessageLen:
		res.Error(400, fmt.Sprintf("message exceeds %d characters", maxMessageLen))
		return
	}

	entry, err := a.store.AddEntry(ctx, Entry{Name: name, Message: message, Remote: req.RemoteAddr})
	if err != nil {
		logging.Error("Failed to store guestbook entry", zap.Error(err))
		res.Error(500, "storage error")
		return
	}
	writeJSON(res, 201, entry)
}

// parseForm reads a urlencoded or multipart body into a map. On failure it
// writes the error response and returns false.
func parseForm(req *http1.Request, res *http1.Response) (map[string][]string, bool) {
	p, err := bodyparser.New(req.Header("Content-Type"), req.Body)
	if errors.Is(err, bodyparser.ErrUnsupportedContentType) {
		res.Error(415, err.Error())
		return nil, false
	}
	if err != nil {
		res.Error(http1.KindOf(err).Status(), err.Error())
		return nil, false
	}
	form, err := bodyparser.Collect(p, maxMessageLen*4)
	if err != nil {
		res.Error(http1.KindOf(err).Status(), err.Error())
		return nil, false
	}
	return form, true
}

func (a *App) upload(req *http1.Request, res *http1.Response) {
	p, err := bodyparser.New(req.Header("Content-Type"), req.Body)
	if err != nil || p.Kind() != bodyparser.KindMultipart {
		res.Error(415, "expected multipart/form-data")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	stored := make([]Upload, 0)
	fields := make(map[string]string)
	for {
		f, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Error(http1.KindOf(err).Status(), err.Error())
			return
		}
		if !f.IsFile() {
			v, err := f.Text(0)
			if err != nil {
				res.Error(http1.KindOf(err).Status(), err.Error())
				return
			}
			fields[f.Name] = v
			continue
		}

		h := sha256.New()
		n, err := io.Copy(h, io.LimitReader(f, a.opts.MaxUpload+1))
		if err != nil {
			res.Error(http1.KindOf(err).Status(), err.Error())
			return
		}
		if n > a.opts.MaxUpload {
			res.Error(413, fmt.Sprintf("file %q exceeds %d bytes", f.FileName, a.opts.MaxUpload))
			return
		}
		up, err := a.store.AddUpload(ctx, Upload{
			Field:       f.Name,
			FileName:    f.FileName,
			ContentType: f.ContentType,
			Size:        n,
			SHA256:      hex.EncodeToString(h.Sum(nil)),
		})
		if err != nil {
			logging.Error("Failed to record upload", zap.Error(err))
			res.Error(500, "storage error")
			return
		}
		stored = append(stored, up)
	}

	writeJSON(res, 201, map[string]interface{}{
		"files":  stored,
		"fields": fields,
	})
}

func (a *App) uploads(req *http1.Request, res *http1.Response) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	list, err := a.store.Uploads(ctx, listLimit)
	if err != nil {
		logging.Error("Failed to list uploads", zap.Error(err))
		res.Error(500, "storage error")
		return
	}
	writeJSON(res, 200, list)
}

func (a *App) status(req *http1.Request, res *http1.Response) {
	body := map[string]interface{}{
		"chat_members": a.hub.Members(),
	}
	if a.opts.Stats != nil {
		st := a.opts.Stats()
		phases := make(map[string]int)
		for ph, n := range st.PhaseCounts() {
			phases[ph.String()] = n
		}
		body["capacity"] = st.Capacity
		body["active"] = st.Active
		body["queued"] = st.Queued
		body["accepted"] = st.Accepted
		body["rejected"] = st.Rejected
		body["requests"] = st.Requests
		body["phases"] = phases
	}
	writeJSON(res, 200, body)
}

func echoMessage(c *websocket.Conn, m websocket.Message) {
	if m.IsText() {
		c.SendText(m.Text())
		return
	}
	c.SendBinary(m.Data)
}

func writeJSON(res *http1.Response, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error("Failed to encode response", zap.Error(err))
		res.Error(500, "encoding error")
		return
	}
	res.SetStatus(status)
	res.Header().Set("Content-Type", "application/json")
	res.SetContentLength(int64(len(data)))
	res.Write(data)
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

const indexPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>tinyhttps</title></head>
<body>
<h1>tinyhttps</h1>
<ul>
<li><a href="/hello/world">/hello/{name}</a></li>
<li><a href="/users/42">/users/{id}</a></li>
<li><a href="/guestbook">/guestbook</a></li>
<li><a href="/uploads">/uploads</a></li>
<li><a href="/metrics">/metrics</a></li>
</ul>
<form method="post" action="/guestbook">
<input name="name" placeholder="name"> <input name="message" placeholder="message">
<button>Sign</button>
</form>
<form method="post" action="/upload" enctype="multipart/form-data">
<input type="file" name="file"> <button>Upload</button>
</form>
<pre id="chat"></pre>
<input id="say" placeholder="chat"><button onclick="ws.send(say.value);say.value=''">Send</button>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws/chat");
ws.onmessage = e => { const l = JSON.parse(e.data); chat.textContent += l.from + " " + l.kind + (l.text ? ": " + l.text : "") + "\n"; };
</script>
</body>
</html>
`
