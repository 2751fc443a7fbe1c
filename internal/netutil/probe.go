package netutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultProbeTimeout bounds a single reachability probe.
const DefaultProbeTimeout = 3 * time.Second

// TCPPing opens a TCP connection to addr and reports how long the handshake took.
// bindIP, when set, is used as the source address.
func TCPPing(ctx context.Context, addr, bindIP string, timeout time.Duration) (time.Duration, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	dialer, err := NewDialer(bindIP, timeout)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("tcp ping %s: %w", addr, err)
	}
	elapsed := time.Since(start)
	_ = conn.Close()
	return elapsed, nil
}

// TCPProber reports the host as online when a TCP connection to Address succeeds.
type TCPProber struct {
	Address string
	Timeout time.Duration
}

// Reachable implements srun.Prober.
func (p TCPProber) Reachable(ctx context.Context, bindIP string) bool {
	rtt, err := TCPPing(ctx, p.Address, bindIP, p.Timeout)
	if err != nil {
		slog.Debug("probe failed", "addr", p.Address, "err", err)
		return false
	}
	slog.Debug("probe succeeded", "addr", p.Address, "rtt", rtt)
	return true
}
