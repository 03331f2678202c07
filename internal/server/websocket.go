package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/muurk/tinyhttps/internal/logging"
	"github.com/muurk/tinyhttps/internal/transport"
	"github.com/muurk/tinyhttps/internal/websocket"
	"go.uber.org/zap"
)

// upgrade validates the handshake and hands the connection to an engine.
func (sl *slot) upgrade(now time.Time) {
	req := sl.req
	key, err := websocket.CheckHandshake(req)
	if err == nil && req.Body != nil && req.Body.Declared() != 0 {
		err = errors.New("upgrade request must not carry a body")
	}
	if err != nil {
		sl.log().Info("Invalid WebSocket upgrade request",
			zap.String("remote_addr", sl.remote),
			zap.Error(err),
		)
		sl.srv.observer.ProtocolError("HandshakeFailed")
		_ = sl.Write(websocket.HandshakeRejection(err.Error()))
		sl.srv.observer.RequestServed(req.Method.String(), req.Pattern, 400, 0, time.Since(sl.reqStart))
		sl.setPhase(PhaseClosing, now)
		return
	}

	resp := websocket.HandshakeResponse(key)
	logging.LogRawBytes("HTTP 101 Response", resp)
	if err := sl.Write(resp); err != nil {
		sl.log().Info("Failed to send HTTP 101 response", zap.Error(err))
		sl.setPhase(PhaseClosing, now)
		return
	}
	sl.srv.observer.RequestServed(req.Method.String(), req.Pattern, 101, 0, time.Since(sl.reqStart))

	sl.engine = websocket.NewEngine(sl.srv.cfg.WebSocket)
	sl.engine.SetNotify(sl.srv.signal)
	sl.conn = websocket.NewConn(sl.engine, req, sl.id)
	sl.res = nil
	sl.handler = nil
	sl.setPhase(PhaseWebSocketActive, now)
	logging.LogConnection(sl.remote, sl.id, "websocket_upgraded")

	sl.callWS(func() { sl.wsHandler.OnOpen(sl.conn) })
	sl.flushEngine(now)
}

// serveWebSocket moves frames between the stream and the engine.
func (sl *slot) serveWebSocket(now time.Time) bool {
	progress := sl.flushEngine(now)
	if sl.phase != PhaseWebSocketActive {
		return true
	}

	err := sl.fill(now)
	switch {
	case err == nil:
		data := sl.pending
		sl.pending = nil
		msgs, perr := sl.engine.Receive(data)
		for _, m := range msgs {
			logging.LogWebSocketMessage(sl.id, "received", m.Opcode.String(), m.IsText(), m.Data)
			sl.srv.observer.WebSocketMessage(m.Opcode, len(m.Data))
			sl.capture(m)
			sl.callWS(func() { sl.wsHandler.OnMessage(sl.conn, m) })
		}
		if perr != nil {
			sl.log().Info("WebSocket protocol error", zap.Error(perr))
			var werr *websocket.Error
			if errors.As(perr, &werr) {
				sl.srv.observer.ProtocolError(werr.Kind.String())
			}
		}
		sl.flushEngine(now)
		progress = true
	case errors.Is(err, transport.ErrWouldBlock):
	default:
		sl.log().Debug("WebSocket stream ended", zap.Error(err))
		sl.setPhase(PhaseClosing, now)
		return true
	}

	if sl.phase != PhaseWebSocketActive {
		return true
	}
	if sl.engine.Done() {
		code, reason := sl.engine.CloseStatus()
		sl.notifyClose(code, reason)
		sl.setPhase(PhaseClosing, now)
		return true
	}
	return sl.webSocketTimeouts(now) || progress
}

func (sl *slot) webSocketTimeouts(now time.Time) bool {
	if sl.engine.CloseSent() {
		if sl.closeSentAt.IsZero() {
			sl.closeSentAt = now
		}
		if now.Sub(sl.closeSentAt) >= sl.srv.cfg.WebSocketCloseTimeout {
			sl.log().Debug("Peer did not answer close frame")
			code, reason := sl.engine.CloseStatus()
			sl.notifyClose(code, reason)
			sl.setPhase(PhaseClosing, now)
			return true
		}
		return false
	}
	switch {
	case sl.srv.draining.Load():
		sl.engine.Close(websocket.CloseGoingAway, "server shutting down")
	case now.Sub(sl.active) >= sl.srv.cfg.WebSocketIdleTimeout:
		sl.engine.Close(websocket.CloseGoingAway, "idle timeout")
	default:
		return false
	}
	sl.closeSentAt = now
	sl.flushEngine(now)
	return true
}

// flushEngine writes queued frames. A write failure closes the slot.
func (sl *slot) flushEngine(now time.Time) bool {
	out := sl.engine.TakeOutput()
	if len(out) == 0 {
		return false
	}
	if err := sl.Write(out); err != nil {
		sl.log().Debug("WebSocket write failed", zap.Error(err))
		sl.setPhase(PhaseClosing, now)
	}
	return true
}

func (sl *slot) notifyClose(code websocket.CloseCode, reason string) {
	if sl.wsNotified || sl.conn == nil {
		return
	}
	sl.wsNotified = true
	logging.LogConnection(sl.remote, sl.id, "websocket_closed")
	sl.callWS(func() { sl.wsHandler.OnClose(sl.conn, code, reason) })
}

// callWS runs a WebSocket callback; a panic closes the connection with
// an internal error code.
func (sl *slot) callWS(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			sl.log().Error("WebSocket handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			sl.engine.Close(websocket.CloseInternalError, "")
		}
	}()
	fn()
}

// MessageCapture is one received WebSocket message as written to the
// capture directory.
type MessageCapture struct {
	Timestamp    time.Time `json:"timestamp"`
	ConnID       string    `json:"conn_id"`
	RemoteAddr   string    `json:"remote_addr"`
	Path         string    `json:"path"`
	Opcode       string    `json:"opcode"`
	PayloadLen   int       `json:"payload_length"`
	PayloadHex   string    `json:"payload_hex"`
	PayloadASCII string    `json:"payload_ascii"`
}

// capture appends m to the day's JSONL file when Config.CaptureDir is set.
func (sl *slot) capture(m websocket.Message) {
	dir := sl.srv.cfg.CaptureDir
	if dir == "" {
		return
	}
	now := time.Now()
	filename := filepath.Join(dir, fmt.Sprintf("capture-%s.jsonl", now.Format("20060102")))

	record := MessageCapture{
		Timestamp:    now,
		ConnID:       sl.id,
		RemoteAddr:   sl.remote,
		Path:         sl.req.Path,
		Opcode:       m.Opcode.String(),
		PayloadLen:   len(m.Data),
		PayloadHex:   hex.EncodeToString(m.Data),
		PayloadASCII: toASCII(m.Data),
	}
	data, err := json.Marshal(record)
	if err != nil {
		logging.Error("Failed to marshal message capture", zap.Error(err))
		return
	}

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logging.Error("Failed to open capture file",
			zap.String("filename", filename),
			zap.Error(err),
		)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		logging.Error("Failed to write to capture file",
			zap.String("filename", filename),
			zap.Error(err),
		)
	}
}

// toASCII converts bytes to ASCII string (non-printable chars become '.')
func toASCII(data []byte) string {
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}
