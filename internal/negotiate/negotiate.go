// Package negotiate determines the working (protocol, port) for a host.
// Most deployments serve on 443 or 80, so those are probed first to
// keep median discovery time low; the exotic ports come last.
package negotiate

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"camscout/internal/domain"
	"camscout/internal/probe"
	"camscout/internal/repository"
)

// ErrNoOpenPort - nothing on the host answered any candidate port
var ErrNoOpenPort = errors.New("no open port found")

// DefaultTiers is the candidate port priority order
var DefaultTiers = [][]int{
	{443, 80},
	{8080, 8000},
	{8443, 81, 8081},
}

// Verifier checks whether a reachable port actually fronts a vendor
// device. Self-signed TLS is acceptable at this stage; trust is
// deferred until identification succeeds.
type Verifier interface {
	VendorPresent(ctx context.Context, target domain.Target) bool
}

// Negotiator probes candidate ports in priority order and caches the
// outcome per IP. The cache is an owned object: warm-started from the
// store, cleared on explicit invalidation, never ambient state.
type Negotiator struct {
	prober   *probe.Prober
	verifier Verifier
	store    repository.Store
	tiers    [][]int

	mu       sync.Mutex
	cache    map[string]*domain.ProtocolProbeResult
	inflight map[string]chan struct{}
}

// Option configures a Negotiator
type Option func(*Negotiator)

// WithTiers overrides the candidate port tiers
func WithTiers(tiers [][]int) Option {
	return func(n *Negotiator) { n.tiers = tiers }
}

// New creates a negotiator. verifier and store may be nil.
func New(prober *probe.Prober, verifier Verifier, store repository.Store, opts ...Option) *Negotiator {
	n := &Negotiator{
		prober:   prober,
		verifier: verifier,
		store:    store,
		tiers:    DefaultTiers,
		cache:    make(map[string]*domain.ProtocolProbeResult),
		inflight: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Negotiate returns the working endpoint for an IP, probing at most
// once per IP per process. Concurrent callers for the same IP share one
// negotiation.
func (n *Negotiator) Negotiate(ctx context.Context, ip string) (*domain.ProtocolProbeResult, error) {
	for {
		n.mu.Lock()
		if cached, ok := n.cache[ip]; ok {
			n.mu.Unlock()
			return cached, nil
		}
		if done, ok := n.inflight[ip]; ok {
			n.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		n.inflight[ip] = done
		n.mu.Unlock()

		result, err := n.negotiate(ctx, ip)

		n.mu.Lock()
		delete(n.inflight, ip)
		if err == nil {
			n.cache[ip] = result
		}
		close(done)
		n.mu.Unlock()

		if err == nil && n.store != nil {
			if saveErr := n.store.SaveProbeResult(ctx, *result); saveErr != nil {
				log.Printf("Persist probe result for %s: %v", ip, saveErr)
			}
		}
		return result, err
	}
}

func (n *Negotiator) negotiate(ctx context.Context, ip string) (*domain.ProtocolProbeResult, error) {
	// Warm start from the store before touching the network
	if n.store != nil {
		if cached, err := n.store.GetProbeResult(ctx, ip); err == nil && cached != nil {
			return cached, nil
		}
	}

	var fallback *domain.ProtocolProbeResult
	for _, tier := range n.tiers {
		for _, port := range tier {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !n.prober.Probe(ctx, ip, port) {
				continue
			}

			result := &domain.ProtocolProbeResult{
				IP:           ip,
				Protocol:     ProtocolForPort(port),
				Port:         port,
				NegotiatedAt: time.Now(),
			}
			if n.verifier != nil && n.verifier.VendorPresent(ctx, result.Target()) {
				result.Verified = true
				return result, nil
			}
			// First open port is the last-resort guess
			if fallback == nil {
				fallback = result
			}
			if n.verifier == nil {
				return result, nil
			}
		}
	}

	if fallback != nil {
		return fallback, nil
	}
	return nil, ErrNoOpenPort
}

// Force records a caller-chosen endpoint, skipping negotiation
func (n *Negotiator) Force(ip string, protocol domain.Protocol, port int) *domain.ProtocolProbeResult {
	result := &domain.ProtocolProbeResult{
		IP:           ip,
		Protocol:     protocol,
		Port:         port,
		Verified:     true,
		NegotiatedAt: time.Now(),
	}
	n.mu.Lock()
	n.cache[ip] = result
	n.mu.Unlock()

	if n.store != nil {
		if err := n.store.SaveProbeResult(context.Background(), *result); err != nil {
			log.Printf("Persist forced result for %s: %v", ip, err)
		}
	}
	return result
}

// Invalidate drops the cached negotiation for an IP so the next call
// re-probes.
func (n *Negotiator) Invalidate(ctx context.Context, ip string) {
	n.mu.Lock()
	delete(n.cache, ip)
	n.mu.Unlock()

	if n.store != nil {
		if err := n.store.DeleteProbeResult(ctx, ip); err != nil {
			log.Printf("Invalidate probe result for %s: %v", ip, err)
		}
	}
}

// Reset drops the whole in-memory cache. The persistent store is the
// caller's to clear.
func (n *Negotiator) Reset() {
	n.mu.Lock()
	n.cache = make(map[string]*domain.ProtocolProbeResult)
	n.mu.Unlock()
}

// Cached returns the in-memory result for an IP without negotiating
func (n *Negotiator) Cached(ip string) *domain.ProtocolProbeResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cache[ip]
}

// ProtocolForPort maps a port to its conventional scheme
func ProtocolForPort(port int) domain.Protocol {
	switch port {
	case 443, 8443:
		return domain.ProtocolHTTPS
	default:
		return domain.ProtocolHTTP
	}
}
