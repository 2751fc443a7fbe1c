package testutil

import (
	"net"
	"testing"
)

// ListenTCP opens a TCP listener on a random loopback port that accepts and
// immediately closes connections. The listener is closed on test cleanup.
func ListenTCP(t testing.TB) (net.Listener, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}

	t.Cleanup(func() {
		_ = listener.Close()
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	return listener, listener.Addr().String()
}

// ClosedTCPAddr returns a loopback address nothing listens on.
func ClosedTCPAddr(t testing.TB) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()
	return addr
}
