package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestProbeOpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	p := New(time.Second, nil)
	if !p.Probe(context.Background(), "127.0.0.1", port) {
		t.Errorf("expected open port %d to probe true", port)
	}
}

func TestProbeClosedPort(t *testing.T) {
	// Grab a free port and close the listener so nothing answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p := New(500*time.Millisecond, nil)
	if p.Probe(context.Background(), "127.0.0.1", port) {
		t.Errorf("expected closed port %d to probe false", port)
	}
}

func TestProbeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(time.Second, nil)
	// Unroutable documentation address; the cancelled context must win
	if p.Probe(ctx, "192.0.2.1", 80) {
		t.Error("probe succeeded against unroutable host with cancelled context")
	}
}

func TestIsPermissionPattern(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", context.DeadlineExceeded, false},
		{"refused", syscall.ECONNREFUSED, false},
		{"host unreachable", syscall.EHOSTUNREACH, true},
		{"host down", syscall.EHOSTDOWN, true},
		{"wrapped unreachable", fmt.Errorf("dial tcp: %w", syscall.EHOSTUNREACH), true},
		{"string match", errors.New("connect: no route to host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermissionPattern(tt.err); got != tt.want {
				t.Errorf("IsPermissionPattern(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPermissionCallbackFiresOnce(t *testing.T) {
	calls := 0
	p := New(100*time.Millisecond, func(ip string, err error) { calls++ })

	// Force the pattern directly through the classifier + once guard
	for i := 0; i < 3; i++ {
		if IsPermissionPattern(syscall.EHOSTUNREACH) {
			p.permOnce.Do(func() { p.onPerm("192.168.1.50", syscall.EHOSTUNREACH) })
		}
	}
	if calls != 1 {
		t.Errorf("permission callback fired %d times, want once per process", calls)
	}
}
