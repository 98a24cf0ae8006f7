// Package reachability implements a coarse host-up check: a single
// ICMP-style probe with a small timeout. False is never fatal — the caller
// skips the machine for this cycle.
package reachability

import (
	"context"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Prober decides whether a host currently responds.
type Prober interface {
	Probe(ctx context.Context, host string) (bool, error)
}

// ICMPProber pings a host once and reports whether it replied.
type ICMPProber struct {
	// Timeout bounds the probe.
	Timeout time.Duration
}

// NewICMPProber returns an ICMPProber with a 2 second default timeout.
func NewICMPProber() *ICMPProber {
	return &ICMPProber{Timeout: 2 * time.Second}
}

// Probe issues one ICMP echo request to host. Any error (permission denied,
// DNS failure, no reply) is reported as unreachable rather than propagated —
// false is never fatal.
func (p *ICMPProber) Probe(ctx context.Context, host string) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, nil
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(true)

	if err := pinger.RunWithContext(ctx); err != nil {
		return false, nil
	}

	stats := pinger.Statistics()
	return stats.PacketsRecv > 0, nil
}

var _ Prober = (*ICMPProber)(nil)
