package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/muurk/tinyhttps/internal/http1"
)

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// CheckHandshake validates an upgrade request and returns the client key.
func CheckHandshake(req *http1.Request) (string, error) {
	if req.Method != http1.MethodGet {
		return "", handshakeError("invalid method: %s (expected GET)", req.Method)
	}
	if !req.Version.AtLeast(1, 1) {
		return "", handshakeError("upgrade requires HTTP/1.1, got %s", req.Version)
	}
	if !req.Headers.HasToken("Upgrade", "websocket") {
		return "", handshakeError("invalid Upgrade header: %q (expected websocket)", req.Header("Upgrade"))
	}
	if !req.Headers.HasToken("Connection", "upgrade") {
		return "", handshakeError("invalid Connection header: %q (expected upgrade)", req.Header("Connection"))
	}
	if v := strings.TrimSpace(req.Header("Sec-WebSocket-Version")); v != "13" {
		return "", handshakeError("invalid Sec-WebSocket-Version: %q (expected 13)", v)
	}
	key := strings.TrimSpace(req.Header("Sec-WebSocket-Key"))
	if key == "" {
		return "", handshakeError("missing Sec-WebSocket-Key header")
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return "", handshakeError("Sec-WebSocket-Key %q is not a base64 16-byte nonce", key)
	}
	return key, nil
}

// HandshakeResponse renders the 101 response for a validated key. The
// header spelling matches what embedded clients compare byte for byte.
func HandshakeResponse(key string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n" +
		"\r\n")
}

// HandshakeRejection renders the 400 sent when CheckHandshake fails.
func HandshakeRejection(reason string) []byte {
	body := "Bad Request: " + reason + "\n"
	return []byte("HTTP/1.1 400 Bad Request\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n" +
		"\r\n" + body)
}
