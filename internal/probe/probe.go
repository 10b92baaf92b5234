// Package probe implements the cheap TCP reachability check that fronts
// every other discovery phase, plus an optional nmap-backed range sweep.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"
)

// PermissionBlockedFunc is invoked at most once per process when probe
// failures match the missing local-network-permission pattern.
type PermissionBlockedFunc func(ip string, err error)

// Prober performs TCP connect probes with a socket-level deadline. Some
// network policies silently drop rather than reject packets, so the
// timeout lives on the dialer, not on an outer timer.
type Prober struct {
	timeout  time.Duration
	permOnce sync.Once
	onPerm   PermissionBlockedFunc
}

// New creates a prober. onPerm may be nil.
func New(timeout time.Duration, onPerm PermissionBlockedFunc) *Prober {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Prober{timeout: timeout, onPerm: onPerm}
}

// Probe attempts a TCP handshake against ip:port. Returns true when the
// port accepted the connection. No payload is sent; the connection is
// closed immediately. Failures are silent except the once-per-process
// permission pattern.
func (p *Prober) Probe(ctx context.Context, ip string, port int) bool {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if IsPermissionPattern(err) && p.onPerm != nil {
			p.permOnce.Do(func() { p.onPerm(ip, err) })
		}
		return false
	}
	conn.Close()
	return true
}

// Timeout returns the configured socket timeout
func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// IsPermissionPattern reports whether a dial error looks like the OS is
// denying local-network access rather than the host being absent. On
// macOS a missing local-network grant surfaces as EHOSTUNREACH or
// EHOSTDOWN against hosts that are demonstrably present.
func IsPermissionPattern(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.EHOSTDOWN) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no route to host") || strings.Contains(msg, "host is down")
}
