package websocket

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/muurk/tinyhttps/internal/http1"
)

var testKey = [4]byte{0x12, 0x34, 0x56, 0x78}

func clientFrame(fin bool, op Opcode, payload string) []byte {
	return AppendMaskedFrame(nil, fin, op, testKey, []byte(payload))
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// readOutput decodes every server frame queued by the engine.
func readOutput(t *testing.T, e *Engine) []*Frame {
	t.Helper()
	out := e.TakeOutput()
	r := bytes.NewReader(out)
	var frames []*Frame
	for r.Len() > 0 {
		f, err := ReadFrame(r, 0)
		if err != nil {
			t.Fatalf("server output is not valid framing: %v", err)
		}
		if f.Masked {
			t.Error("server frames must not be masked")
		}
		frames = append(frames, f)
	}
	return frames
}

func TestEngineFragmentedMessage(t *testing.T) {
	e := NewEngine(Options{})
	msgs, err := e.Receive(concat(
		clientFrame(false, OpText, "ab"),
		clientFrame(false, OpContinuation, "cd"),
		clientFrame(true, OpContinuation, "ef"),
	))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !msgs[0].IsText() || msgs[0].Text() != "abcdef" {
		t.Errorf("message = %v %q, want text abcdef", msgs[0].Opcode, msgs[0].Text())
	}
}

func TestEnginePingDuringFragmentedMessage(t *testing.T) {
	e := NewEngine(Options{})
	// Split the wire bytes awkwardly to exercise resumption too.
	wire := concat(
		clientFrame(false, OpBinary, "12"),
		clientFrame(true, OpPing, "are you there"),
		clientFrame(true, OpContinuation, "34"),
	)
	var msgs []Message
	for _, chunk := range [][]byte{wire[:5], wire[5:13], wire[13:]} {
		got, err := e.Receive(chunk)
		if err != nil {
			t.Fatal(err)
		}
		msgs = append(msgs, got...)
	}

	frames := readOutput(t, e)
	if len(frames) != 1 || frames[0].Opcode != OpPong {
		t.Fatalf("output = %v, want one pong", frames)
	}
	if string(frames[0].Payload) != "are you there" {
		t.Errorf("pong payload = %q", frames[0].Payload)
	}
	if len(msgs) != 1 || msgs[0].Opcode != OpBinary || string(msgs[0].Data) != "1234" {
		t.Errorf("messages = %+v, want one binary 1234", msgs)
	}
}

func TestEngineCloseHandshake(t *testing.T) {
	t.Run("peer initiated", func(t *testing.T) {
		e := NewEngine(Options{})
		payload := binary.BigEndian.AppendUint16(nil, uint16(CloseGoingAway))
		payload = append(payload, "bye"...)
		if _, err := e.Receive(AppendMaskedFrame(nil, true, OpClose, testKey, payload)); err != nil {
			t.Fatal(err)
		}
		frames := readOutput(t, e)
		if len(frames) != 1 || frames[0].Opcode != OpClose {
			t.Fatalf("output = %v, want echoed close", frames)
		}
		if code := binary.BigEndian.Uint16(frames[0].Payload); CloseCode(code) != CloseGoingAway {
			t.Errorf("echoed code = %d, want 1001", code)
		}
		if !e.Done() {
			t.Error("Done() = false after symmetric close")
		}
		if code, reason := e.CloseStatus(); code != CloseGoingAway || reason != "bye" {
			t.Errorf("CloseStatus() = %d %q", code, reason)
		}
		if err := e.SendText("late"); !errors.Is(err, ErrClosed) {
			t.Errorf("SendText after close = %v, want ErrClosed", err)
		}
	})

	t.Run("server initiated", func(t *testing.T) {
		e := NewEngine(Options{})
		e.Close(CloseNormal, "done")
		e.Close(CloseNormal, "again")
		frames := readOutput(t, e)
		if len(frames) != 1 || frames[0].Opcode != OpClose {
			t.Fatalf("output = %v, want one close", frames)
		}
		if e.Done() {
			t.Error("Done() before the peer answered")
		}
		if _, err := e.Receive(clientFrame(true, OpClose, "")); err != nil {
			t.Fatal(err)
		}
		if len(readOutput(t, e)) != 0 {
			t.Error("close must not be echoed twice")
		}
		if !e.Done() {
			t.Error("Done() = false after peer reply")
		}
	})

	t.Run("service restart accepted", func(t *testing.T) {
		e := NewEngine(Options{})
		payload := binary.BigEndian.AppendUint16(nil, uint16(CloseServiceRestart))
		if _, err := e.Receive(AppendMaskedFrame(nil, true, OpClose, testKey, payload)); err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		frames := readOutput(t, e)
		if len(frames) != 1 || CloseCode(binary.BigEndian.Uint16(frames[0].Payload)) != CloseServiceRestart {
			t.Errorf("output = %v, want 1012 echoed", frames)
		}
	})

	t.Run("empty close echoed empty", func(t *testing.T) {
		e := NewEngine(Options{})
		e.Receive(clientFrame(true, OpClose, ""))
		frames := readOutput(t, e)
		if len(frames) != 1 || len(frames[0].Payload) != 0 {
			t.Errorf("output = %v, want empty close", frames)
		}
	})
}

func TestEngineViolations(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
		opts Options
		want error
		code CloseCode
	}{
		{
			name: "unmasked frame",
			wire: AppendFrame(nil, true, OpText, []byte("hi")),
			want: ErrProtocolViolation,
			code: CloseProtocolError,
		},
		{
			name: "new message while fragmenting",
			wire: concat(clientFrame(false, OpText, "a"), clientFrame(true, OpText, "b")),
			want: ErrProtocolViolation,
			code: CloseProtocolError,
		},
		{
			name: "continuation without start",
			wire: clientFrame(true, OpContinuation, "x"),
			want: ErrProtocolViolation,
			code: CloseProtocolError,
		},
		{
			name: "invalid utf8 text",
			wire: clientFrame(true, OpText, "\xff\xfe"),
			want: ErrProtocolViolation,
			code: CloseInvalidPayload,
		},
		{
			name: "message too large across fragments",
			opts: Options{MaxMessageSize: 4},
			wire: concat(clientFrame(false, OpBinary, "abc"), clientFrame(true, OpContinuation, "de")),
			want: ErrFrameTooLarge,
			code: CloseMessageTooBig,
		},
		{
			name: "frame too large",
			opts: Options{MaxFramePayload: 2},
			wire: clientFrame(true, OpBinary, "abc"),
			want: ErrFrameTooLarge,
			code: CloseMessageTooBig,
		},
		{
			name: "close with one byte payload",
			wire: clientFrame(true, OpClose, "x"),
			want: ErrProtocolViolation,
			code: CloseProtocolError,
		},
		{
			name: "close with reserved code",
			wire: AppendMaskedFrame(nil, true, OpClose, testKey, []byte{0x03, 0xED}), // 1005
			want: ErrProtocolViolation,
			code: CloseProtocolError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.opts)
			_, err := e.Receive(tt.wire)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Receive() error = %v, want %v", err, tt.want)
			}
			if !e.Done() {
				t.Error("Done() should be true after a violation")
			}
			frames := readOutput(t, e)
			if len(frames) != 1 || frames[0].Opcode != OpClose {
				t.Fatalf("output = %v, want a close frame", frames)
			}
			if code := CloseCode(binary.BigEndian.Uint16(frames[0].Payload)); code != tt.code {
				t.Errorf("close code = %d, want %d", code, tt.code)
			}
		})
	}
}

func TestEngineSend(t *testing.T) {
	e := NewEngine(Options{})
	notified := 0
	e.SetNotify(func() { notified++ })
	if err := e.SendText("hello"); err != nil {
		t.Fatal(err)
	}
	if err := e.SendBinary([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := e.Ping(make([]byte, 126)); err == nil {
		t.Error("Ping() with 126 byte payload should fail")
	}
	if notified != 2 {
		t.Errorf("notify called %d times, want 2", notified)
	}
	if !e.HasOutput() {
		t.Fatal("HasOutput() = false")
	}
	frames := readOutput(t, e)
	if len(frames) != 2 || string(frames[0].Payload) != "hello" || frames[1].Opcode != OpBinary {
		t.Errorf("output = %v", frames)
	}
}

func TestAcceptKey(t *testing.T) {
	// Example from RFC 6455 section 1.3.
	if got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("AcceptKey() = %q", got)
	}
}

func TestCheckHandshake(t *testing.T) {
	valid := "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"

	tests := []struct {
		name    string
		head    string
		wantErr bool
	}{
		{"valid", valid, false},
		{"post", "POST /chat HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n", true},
		{"http10", "GET /chat HTTP/1.0\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n", true},
		{"missing upgrade", "GET /chat HTTP/1.1\r\nConnection: Upgrade\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n", true},
		{"missing connection", "GET /chat HTTP/1.1\r\nUpgrade: websocket\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n", true},
		{"wrong version", "GET /chat HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 8\r\n\r\n", true},
		{"missing key", "GET /chat HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Version: 13\r\n\r\n", true},
		{"short key", "GET /chat HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: YWJj\r\nSec-WebSocket-Version: 13\r\n\r\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := http1.NewHeadParser(http1.DefaultLimits())
			if _, _, err := p.Feed([]byte(tt.head)); err != nil {
				t.Fatal(err)
			}
			key, err := CheckHandshake(p.Request())
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckHandshake() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrHandshakeFailed) {
				t.Errorf("error kind = %v, want HandshakeFailed", err)
			}
			if err == nil {
				resp := string(HandshakeResponse(key))
				if !bytes.Contains([]byte(resp), []byte("Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n")) {
					t.Errorf("response missing accept key: %q", resp)
				}
			}
		})
	}
}
