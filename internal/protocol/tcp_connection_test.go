package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

// listenEcho accepts one connection and echoes the first n bytes it receives.
func listenEcho(t *testing.T, n int) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, n)
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		conn.Write(buf)
		// Hold the connection open so the client's next read times out.
		io.Copy(io.Discard, conn)
	}()
	return ln.Addr().(*net.TCPAddr)
}

func TestTCPConnectionEchoAndTimeout(t *testing.T) {
	addr := listenEcho(t, 3)
	tc := NewTCPConnection(&TCPConfig{
		Host:           "127.0.0.1",
		Port:           addr.Port,
		ConnectTimeout: time.Second,
		ReadTimeout:    100 * time.Millisecond,
		WriteTimeout:   time.Second,
	}, zap.NewNop())

	if err := tc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tc.Close()

	if _, err := tc.Write([]byte{0x02, 0x01, 0x00}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 3)
	if _, err := io.ReadFull(tc, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 0x02 || buf[2] != 0x00 {
		t.Fatalf("unexpected echo % x", buf)
	}

	_, err := tc.Read(buf)
	var terr *TimeoutError
	if !errors.As(err, &terr) || terr.Channel != ChannelTypeTCP {
		t.Fatalf("expected TCP TimeoutError, got %v", err)
	}
	if got := tc.Stats().TimeoutCount; got != 1 {
		t.Fatalf("TimeoutCount = %d, want 1", got)
	}
}

func TestTCPConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tc := NewTCPConnection(&TCPConfig{Host: "127.0.0.1", Port: port, ConnectTimeout: time.Second}, zap.NewNop())
	if err := tc.Open(context.Background()); err == nil {
		tc.Close()
		t.Fatal("expected dial error")
	}
	if tc.IsOpen() {
		t.Fatal("connection reported open after failed dial")
	}
}
