package protocol

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// bridge answers every binary message with the same bytes split into
// two messages, preceded by a text message the channel must skip.
func bridge(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(websocket.TextMessage, []byte("status"))
			half := len(data) / 2
			conn.WriteMessage(websocket.BinaryMessage, data[:half])
			conn.WriteMessage(websocket.BinaryMessage, data[half:])
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnectionReassemblesMessages(t *testing.T) {
	wc := NewWebSocketConnection(&WebSocketConfig{
		URL:              bridge(t),
		HandshakeTimeout: time.Second,
		ReadTimeout:      100 * time.Millisecond,
		WriteTimeout:     time.Second,
	}, zap.NewNop())

	if err := wc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer wc.Close()

	frame := []byte{0x05, 0x10, 0x20, 0x30, 0x40, 0x00}
	if n, err := wc.Write(frame); n != len(frame) || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}

	got := make([]byte, len(frame))
	if _, err := io.ReadFull(wc, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != string(frame) {
		t.Fatalf("got % x, want % x", got, frame)
	}

	_, err := wc.Read(got)
	var terr *TimeoutError
	if !errors.As(err, &terr) || terr.Channel != ChannelTypeWebSocket {
		t.Fatalf("expected WebSocket TimeoutError, got %v", err)
	}
	if wc.IsOpen() {
		t.Fatal("channel must close itself after a read timeout")
	}
	if _, err := wc.Read(got); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("read after timeout: %v", err)
	}
}

func TestWebSocketConnectionBadURL(t *testing.T) {
	wc := NewWebSocketConnection(&WebSocketConfig{URL: "ws://127.0.0.1:1/none", HandshakeTimeout: time.Second}, zap.NewNop())
	if err := wc.Open(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}
