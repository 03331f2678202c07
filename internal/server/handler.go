package server

import (
	"github.com/muurk/tinyhttps/internal/http1"
)

// Handler responds to one HTTP request. It runs on the poll loop; reading
// the request body blocks until bytes arrive or the body read timeout
// expires.
type Handler interface {
	ServeHTTP(req *http1.Request, res *http1.Response)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(req *http1.Request, res *http1.Response)

func (f HandlerFunc) ServeHTTP(req *http1.Request, res *http1.Response) {
	f(req, res)
}

// Middleware runs before the route handler. Calling next continues the
// chain; returning without calling it ends the exchange with whatever was
// written to res.
type Middleware func(req *http1.Request, res *http1.Response, next func())

// chain runs mws in order and then h.
func chain(mws []Middleware, h Handler, req *http1.Request, res *http1.Response) {
	i := 0
	var next func()
	next = func() {
		if i < len(mws) {
			mw := mws[i]
			i++
			mw(req, res, next)
			return
		}
		h.ServeHTTP(req, res)
	}
	next()
}
