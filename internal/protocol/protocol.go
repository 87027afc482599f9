// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ChannelType names a kind of byte channel to the adapter.
type ChannelType string

const (
	ChannelTypeSerial    ChannelType = "serial"
	ChannelTypeTCP       ChannelType = "tcp"
	ChannelTypeWebSocket ChannelType = "websocket"
	ChannelTypeUSB       ChannelType = "usb"
)

// ErrNotOpen is returned by Read and Write before Open or after Close.
var ErrNotOpen = errors.New("channel not open")

// Channel is a duplex byte stream to the adapter. Read and Write follow
// io.Reader and io.Writer; a Read that waits longer than the channel's
// read timeout fails with a *TimeoutError.
type Channel interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Channel information
	Type() ChannelType
	Stats() ProtocolStats
}

// TimeoutError reports a read that produced no data within the timeout.
type TimeoutError struct {
	Channel ChannelType
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s read timed out after %s", e.Channel, e.After)
}

// Timeout always reports true.
func (e *TimeoutError) Timeout() bool {
	return true
}

// ProtocolStats provides channel-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	TimeoutCount   int64         `json:"timeout_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

// statsRecorder is embedded by every channel.
type statsRecorder struct {
	mu    sync.Mutex
	stats ProtocolStats
}

func (r *statsRecorder) Stats() ProtocolStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *statsRecorder) setConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.IsConnected = connected
	if connected {
		r.stats.LastActivity = time.Now()
	}
}

func (r *statsRecorder) recordWrite(n int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.BytesWritten += int64(n)
	r.stats.OperationCount++
	r.stats.LastActivity = time.Now()
	r.updateAverageLatency(latency)
}

func (r *statsRecorder) recordRead(n int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.BytesRead += int64(n)
	r.stats.OperationCount++
	r.stats.LastActivity = time.Now()
	r.updateAverageLatency(latency)
}

func (r *statsRecorder) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var te *TimeoutError
	if errors.As(err, &te) {
		r.stats.TimeoutCount++
		return
	}
	r.stats.ErrorCount++
}

// updateAverageLatency updates the running average latency
func (r *statsRecorder) updateAverageLatency(newLatency time.Duration) {
	if r.stats.AverageLatency == 0 {
		r.stats.AverageLatency = newLatency
	} else {
		r.stats.AverageLatency = (r.stats.AverageLatency + newLatency) / 2
	}
}
