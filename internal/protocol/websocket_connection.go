// internal/protocol/websocket_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketConnection implements Channel over a WebSocket serial bridge.
// Writes go out as one binary message each; incoming messages are
// concatenated into a byte stream. A read timeout leaves the underlying
// connection unusable, so the channel closes itself after one.
type WebSocketConnection struct {
	statsRecorder
	config  *WebSocketConfig
	conn    *websocket.Conn
	pending []byte
	logger  *zap.Logger
	mutex   sync.Mutex
	isOpen  bool
}

// NewWebSocketConnection creates a new WebSocket connection
func NewWebSocketConnection(config *WebSocketConfig, logger *zap.Logger) *WebSocketConnection {
	return &WebSocketConnection{
		config: config,
		logger: logger.With(
			zap.String("channel", string(ChannelTypeWebSocket)),
			zap.String("url", config.URL),
		),
	}
}

// Open dials the bridge
func (wc *WebSocketConnection) Open(ctx context.Context) error {
	wc.mutex.Lock()
	defer wc.mutex.Unlock()

	if wc.isOpen {
		return nil
	}

	wc.logger.Info("Opening WebSocket connection")

	dialer := websocket.Dialer{HandshakeTimeout: wc.config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wc.config.URL, nil)
	if err != nil {
		if resp != nil {
			wc.logger.Error("WebSocket handshake rejected", zap.Int("status", resp.StatusCode))
		}
		return fmt.Errorf("failed to connect to %s: %w", wc.config.URL, err)
	}

	wc.conn = conn
	wc.pending = nil
	wc.isOpen = true
	wc.setConnected(true)

	wc.logger.Info("WebSocket connection opened successfully")
	return nil
}

// Close sends a close frame and closes the connection
func (wc *WebSocketConnection) Close() error {
	wc.mutex.Lock()
	defer wc.mutex.Unlock()
	return wc.closeLocked()
}

func (wc *WebSocketConnection) closeLocked() error {
	if !wc.isOpen || wc.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	wc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	err := wc.conn.Close()
	wc.conn = nil
	wc.pending = nil
	wc.isOpen = false
	wc.setConnected(false)
	if err != nil {
		return fmt.Errorf("failed to close WebSocket connection: %w", err)
	}

	wc.logger.Info("WebSocket connection closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (wc *WebSocketConnection) IsOpen() bool {
	wc.mutex.Lock()
	defer wc.mutex.Unlock()
	return wc.isOpen && wc.conn != nil
}

// Write sends p as a single binary message
func (wc *WebSocketConnection) Write(p []byte) (int, error) {
	wc.mutex.Lock()
	defer wc.mutex.Unlock()

	if !wc.isOpen || wc.conn == nil {
		return 0, ErrNotOpen
	}

	if wc.config.WriteTimeout > 0 {
		wc.conn.SetWriteDeadline(time.Now().Add(wc.config.WriteTimeout))
	}

	startTime := time.Now()
	if err := wc.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		wc.recordError(err)
		wc.logger.Error("WebSocket write failed", zap.Error(err))
		return 0, fmt.Errorf("failed to write to WebSocket connection: %w", err)
	}

	wc.recordWrite(len(p), time.Since(startTime))
	return len(p), nil
}

// Read returns buffered message bytes, or waits for the next message
func (wc *WebSocketConnection) Read(p []byte) (int, error) {
	wc.mutex.Lock()
	defer wc.mutex.Unlock()

	if !wc.isOpen || wc.conn == nil {
		return 0, ErrNotOpen
	}
	if len(p) == 0 {
		return 0, nil
	}

	startTime := time.Now()
	for len(wc.pending) == 0 {
		if wc.config.ReadTimeout > 0 {
			wc.conn.SetReadDeadline(time.Now().Add(wc.config.ReadTimeout))
		}
		msgType, data, err := wc.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				terr := &TimeoutError{Channel: ChannelTypeWebSocket, After: wc.config.ReadTimeout}
				wc.recordError(terr)
				wc.closeLocked()
				return 0, terr
			}
			wc.recordError(err)
			return 0, fmt.Errorf("failed to read from WebSocket connection: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			wc.logger.Debug("Ignoring non-binary message", zap.Int("type", msgType))
			continue
		}
		wc.pending = data
	}

	n := copy(p, wc.pending)
	wc.pending = wc.pending[n:]
	wc.recordRead(n, time.Since(startTime))
	return n, nil
}

// Type returns the channel type
func (wc *WebSocketConnection) Type() ChannelType {
	return ChannelTypeWebSocket
}
