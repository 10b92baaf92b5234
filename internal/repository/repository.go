// Package repository defines the owned cache store behind the protocol
// negotiator and the pre-discovery candidate list. The store has an
// explicit lifecycle: opened at startup, injected into components,
// cleared on request. It never persists full Device records; durable
// device storage belongs to the consumer.
package repository

import (
	"context"
	"time"

	"camscout/internal/domain"
)

// Candidate is an address that answered a probe but has not been
// classified yet, typically because no credentials were available when
// it was found. Kept so classification can run later without re-probing
// the network.
type Candidate struct {
	IP       string          `json:"ip"`
	Port     int             `json:"port"`
	Protocol domain.Protocol `json:"protocol"`
	Source   domain.DiscoveryMethod `json:"source"`
	SeenAt   time.Time       `json:"seen_at"`
}

// Store is the cache persistence contract
type Store interface {
	// SaveProbeResult records a negotiated (protocol, port) for an IP
	SaveProbeResult(ctx context.Context, result domain.ProtocolProbeResult) error
	// GetProbeResult returns the cached negotiation for an IP, or nil
	GetProbeResult(ctx context.Context, ip string) (*domain.ProtocolProbeResult, error)
	// DeleteProbeResult invalidates one IP's negotiation
	DeleteProbeResult(ctx context.Context, ip string) error

	// SaveCandidate records an unclassified address
	SaveCandidate(ctx context.Context, c Candidate) error
	// ListCandidates returns all unclassified addresses, oldest first
	ListCandidates(ctx context.Context) ([]Candidate, error)
	// DeleteCandidate removes an address once classified (or rejected)
	DeleteCandidate(ctx context.Context, ip string) error

	// Clear wipes everything
	Clear(ctx context.Context) error
	Close() error
}
