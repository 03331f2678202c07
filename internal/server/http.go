package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/muurk/tinyhttps/internal/http1"
	"github.com/muurk/tinyhttps/internal/logging"
	"github.com/muurk/tinyhttps/internal/router"
	"github.com/muurk/tinyhttps/internal/transport"
	"go.uber.org/zap"
)

// rejectHead answers a request head that could not be parsed. The
// connection is closed afterwards since framing can no longer be trusted.
func (sl *slot) rejectHead(err error, now time.Time) {
	kind := http1.KindOf(err)
	code := http.StatusBadRequest
	if kind != 0 {
		code = kind.Status()
	}
	sl.log().Info("Rejecting malformed request",
		zap.String("remote_addr", sl.remote),
		zap.Stringer("kind", kind),
		zap.Error(err),
	)
	sl.srv.observer.ProtocolError(kind.String())
	sl.req = nil
	sl.reqStart = time.Now()
	sl.sendError(code, fmt.Sprintf("%s (%s)", http.StatusText(code), kind), nil, true, now)
}

// route resolves the parsed request and attaches its body.
func (sl *slot) route(now time.Time) {
	req := sl.req
	req.RemoteAddr = sl.remote
	req.Secure = sl.stream.Secure()
	req.ConnID = sl.id
	sl.requests++
	sl.reqStart = time.Now()
	sl.srv.requests.Add(1)

	logging.LogHTTPRequest(sl.id, req.Method.String(), req.Target, req.Headers.Map())

	body, err := http1.NewBody(req, &sl.src)
	if err != nil {
		sl.log().Info("Rejecting request body framing", zap.Error(err))
		sl.srv.observer.ProtocolError(http1.KindOf(err).String())
		sl.sendError(http.StatusBadRequest, "", nil, true, now)
		return
	}
	req.Body = body

	res := sl.srv.router.Resolve(req.Method, req.Segments, req.WantsUpgrade("websocket"))
	req.Params = res.Params
	req.Pattern = res.Pattern
	req.Tag = res.Tag

	switch res.Kind {
	case router.MatchedWebSocket:
		sl.wsHandler = res.WebSocket
		sl.setPhase(PhaseWebSocketUpgrade, now)
	case router.Matched:
		sl.handler = res.Handler
		sl.setPhase(PhaseDispatching, now)
	case router.MethodNotAllowed:
		sl.sendError(http.StatusMethodNotAllowed, "", res.Allowed, false, now)
	case router.InvalidParam:
		sl.sendError(http.StatusBadRequest, fmt.Sprintf("invalid value for path parameter %q", res.Param), nil, false, now)
	default:
		if fb := sl.srv.fallback; fb != nil {
			sl.handler = fb
			sl.setPhase(PhaseDispatching, now)
			return
		}
		sl.sendError(http.StatusNotFound, "", nil, false, now)
	}
}

// newResponse creates a response carrying the server's default headers.
func (sl *slot) newResponse() *http1.Response {
	res := http1.NewResponse(sl, sl.req, sl.srv.cfg.KeepAliveCacheSize)
	for _, h := range sl.srv.defaultHeaders {
		res.Header().Set(h.Name, h.Value)
	}
	return res
}

// dispatch runs middleware and the handler to completion.
func (sl *slot) dispatch(now time.Time) {
	sl.res = sl.newResponse()
	sl.invoke(sl.handler)
	if err := sl.res.Finish(); err != nil {
		sl.log().Debug("Response write failed", zap.Error(err))
	}
	sl.responseDone()
	sl.setPhase(PhaseResponsePending, now)
}

func (sl *slot) invoke(h Handler) {
	req, res := sl.req, sl.res
	defer func() {
		if r := recover(); r != nil {
			sl.log().Error("Handler panicked",
				zap.String("path", req.Path),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res.CloseAfterSend()
			if !res.HeadSent() {
				_ = res.Error(http.StatusInternalServerError, "")
			}
		}
	}()
	chain(sl.srv.middleware, h, req, res)
}

// sendError writes a generated error page and moves to ResponsePending.
func (sl *slot) sendError(code int, msg string, allow http1.Methods, close bool, now time.Time) {
	res := sl.newResponse()
	sl.res = res
	if len(allow) > 0 {
		res.Header().Set("Allow", allow.Join())
	}
	if close || sl.req == nil {
		res.CloseAfterSend()
	}
	if err := res.Error(code, msg); err == nil {
		_ = res.Finish()
	}
	sl.responseDone()
	sl.setPhase(PhaseResponsePending, now)
}

// responseDone records a finished response.
func (sl *slot) responseDone() {
	res := sl.res
	logging.LogHTTPResponse(sl.id, res.Status(), res.Written(), res.KeepAlive())
	method, pattern := "", ""
	if sl.req != nil {
		method = sl.req.Method.String()
		pattern = sl.req.Pattern
	}
	sl.srv.observer.RequestServed(method, pattern, res.Status(), res.Written(), time.Since(sl.reqStart))
}

// finishExchange discards unread body bytes and decides between keep-alive
// and close.
func (sl *slot) finishExchange(now time.Time) bool {
	res := sl.res
	keep := res.Err() == nil && res.KeepAlive() && sl.req != nil && !sl.srv.draining.Load()
	if keep {
		done, err := sl.drainBody(now)
		if err != nil {
			sl.log().Debug("Closing after unread body", zap.Error(err))
			keep = false
		} else if !done {
			return false
		}
	}
	sl.resetExchange()
	if keep {
		sl.setPhase(PhaseKeepAliveWait, now)
	} else {
		sl.setPhase(PhaseClosing, now)
	}
	return true
}

var errDrainTooLarge = errors.New("unread body exceeds drain limit")

// drainBody consumes what the handler left of the body without blocking.
// Chunked leftovers are not worth the bookkeeping: the connection closes.
func (sl *slot) drainBody(now time.Time) (bool, error) {
	body := sl.req.Body
	if body == nil || body.Complete() {
		return true, nil
	}
	if body.Declared() < 0 {
		return false, errors.New("unread chunked body")
	}
	if sl.drainLeft == 0 {
		sl.drainLeft = body.Declared() - body.BytesRead()
		if sl.drainLeft > sl.srv.cfg.MaxDrainBytes {
			return false, errDrainTooLarge
		}
	}
	for sl.drainLeft > 0 {
		if err := sl.fill(now); err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				if now.Sub(sl.active) >= sl.srv.cfg.BodyReadTimeout {
					return false, fmt.Errorf("drain: %w", transport.ErrTimeout)
				}
				return false, nil
			}
			return false, err
		}
		n := min(int64(len(sl.pending)), sl.drainLeft)
		sl.pending = sl.pending[n:]
		sl.drainLeft -= n
	}
	return true, nil
}
