// Package prediscovery runs the opportunistic startup pass: wait for
// the network stack to settle, listen for service announcements under a
// hard timeout, then probe a short list of statistically likely
// addresses in each local range. Results land in the candidate cache so
// a later call with credentials can classify them without touching the
// network again.
package prediscovery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"camscout/internal/digest"
	"camscout/internal/domain"
	"camscout/internal/identify"
	"camscout/internal/repository"
	"camscout/internal/scan"
)

// EventPreDiscoveryComplete closes the startup pass on the event stream
const EventPreDiscoveryComplete = "prediscovery-complete"

// DefaultPrioritySuffixes are the host suffixes cameras and speakers
// most often sit on, probed before anything else.
var DefaultPrioritySuffixes = []int{90, 88, 64, 100, 101, 108, 110, 156, 200, 201, 10, 11, 50, 2}

// Config holds the startup pass budgets
type Config struct {
	// SettleDelay defers the pass so it never races interface bring-up
	SettleDelay time.Duration
	// Budget caps the whole pass; whatever is found by then is the result
	Budget time.Duration
	// PrioritySuffixes overrides the probed host suffixes
	PrioritySuffixes []int
}

// Planner supplies the scannable ranges
type Planner func() ([]domain.NetworkRange, error)

// Snapshot is the current state of the pre-discovery cache
type Snapshot struct {
	InProgress  bool                   `json:"in_progress"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	CompletedAt time.Time              `json:"completed_at,omitempty"`
	Ranges      []string               `json:"ranges,omitempty"`
	Candidates  []repository.Candidate `json:"candidates"`
}

// Runner owns the pass lifecycle. One pass runs per process start;
// callers that arrive mid-pass see InProgress and can wait or fall back
// to a full scan.
type Runner struct {
	cfg          Config
	orchestrator *scan.Orchestrator
	planner      Planner
	store        repository.Store
	identifier   *identify.Identifier
	registry     *domain.Registry
	publisher    scan.EventPublisher

	mu          sync.Mutex
	inProgress  bool
	startedAt   time.Time
	completedAt time.Time
	ranges      []string
}

// New creates a runner. publisher may be nil.
func New(cfg Config, orchestrator *scan.Orchestrator, planner Planner, store repository.Store, identifier *identify.Identifier, registry *domain.Registry, publisher scan.EventPublisher) *Runner {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 20 * time.Second
	}
	if len(cfg.PrioritySuffixes) == 0 {
		cfg.PrioritySuffixes = DefaultPrioritySuffixes
	}
	return &Runner{
		cfg:          cfg,
		orchestrator: orchestrator,
		planner:      planner,
		store:        store,
		identifier:   identifier,
		registry:     registry,
		publisher:    publisher,
	}
}

// Run executes the startup pass. Blocking; callers normally launch it
// in a goroutine right after startup. A second call while a pass is in
// flight returns immediately.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.inProgress {
		r.mu.Unlock()
		return nil
	}
	r.inProgress = true
	r.startedAt = time.Now()
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inProgress = false
		r.completedAt = time.Now()
		r.mu.Unlock()
	}()

	select {
	case <-time.After(r.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	ranges, err := r.planner()
	if err != nil {
		return fmt.Errorf("plan ranges: %w", err)
	}

	hosts, cidrs := PriorityHosts(ranges, r.cfg.PrioritySuffixes)
	r.mu.Lock()
	r.ranges = cidrs
	r.mu.Unlock()

	bctx, cancel := context.WithTimeout(ctx, r.cfg.Budget)
	defer cancel()

	summary, err := r.orchestrator.Run(bctx, scan.Request{
		ID:               "pre-" + uuid.NewString(),
		Hosts:            hosts,
		ServiceDiscovery: true,
		Policy:           scan.Policy{SkipKnown: true},
	})
	// Running out of budget is the expected way for a slow network to
	// end the pass, not a failure
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		log.Printf("Pre-discovery pass ended early: %v", err)
	}
	if summary != nil {
		log.Printf("Pre-discovery complete: %d hosts probed, %d candidates cached in %s",
			summary.HostsScanned, summary.Candidates, summary.Duration.Round(time.Millisecond))
		if r.publisher != nil {
			r.publisher.Publish(EventPreDiscoveryComplete, map[string]any{
				"hosts_scanned": summary.HostsScanned,
				"candidates":    summary.Candidates,
				"duration_ms":   summary.Duration.Milliseconds(),
			})
		}
	}
	return nil
}

// Snapshot returns the cache state plus the stored candidates
func (r *Runner) Snapshot(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	snap := &Snapshot{
		InProgress:  r.inProgress,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
		Ranges:      append([]string(nil), r.ranges...),
	}
	r.mu.Unlock()

	candidates, err := r.store.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if candidates == nil {
		candidates = []repository.Candidate{}
	}
	snap.Candidates = candidates
	return snap, nil
}

// InProgress reports whether the pass is currently running
func (r *Runner) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inProgress
}

// ClassifyCandidates attempts identification against every cached
// candidate using the supplied credential sets, without any new network
// probing. Classified devices enter the registry and leave the cache;
// the rest stay for the next attempt.
func (r *Runner) ClassifyCandidates(ctx context.Context, credentials []domain.CredentialSet) ([]*domain.Device, error) {
	candidates, err := r.store.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	var classified []*domain.Device
	for _, c := range candidates {
		if ctx.Err() != nil {
			return classified, ctx.Err()
		}
		target := domain.Target{IP: c.IP, Port: c.Port, Protocol: c.Protocol}

		var dev *domain.Device
		for _, creds := range credentials {
			id, err := r.identifier.Identify(ctx, target, creds)
			if err == nil {
				dev = domain.NewDevice(c.IP, c.Port, c.Protocol, c.Source)
				dev.Role = id.Role
				dev.Model = id.Model
				dev.Manufacturer = id.Manufacturer
				dev.MAC = id.MAC
				dev.MarkAccessible(creds)
				break
			}
			if errors.Is(err, digest.ErrAuthFailed) {
				continue
			}
			break
		}
		if dev == nil {
			continue
		}

		merged, _ := r.registry.Upsert(dev)
		classified = append(classified, merged)
		if err := r.store.DeleteCandidate(ctx, c.IP); err != nil {
			log.Printf("Remove classified candidate %s: %v", c.IP, err)
		}
		if r.publisher != nil {
			r.publisher.Publish(scan.EventDeviceDiscovered, map[string]any{
				"device": merged,
				"source": "prediscovery-cache",
			})
		}
	}
	return classified, nil
}

// PriorityHosts expands ranges into the prioritized host subset, in
// suffix order within each range. Returns the hosts plus the CIDRs they
// came from.
func PriorityHosts(ranges []domain.NetworkRange, suffixes []int) ([]string, []string) {
	var hosts []string
	var cidrs []string
	seen := make(map[string]bool)

	for _, rng := range ranges {
		base := net.ParseIP(rng.BaseAddress)
		if base == nil || base.To4() == nil {
			continue
		}
		if rng.PrefixLength < 0 || rng.PrefixLength > 30 {
			continue
		}
		cidrs = append(cidrs, rng.CIDR())

		mask := binary.BigEndian.Uint32(net.CIDRMask(rng.PrefixLength, 32))
		network := binary.BigEndian.Uint32(base.To4()) & mask
		broadcast := network | ^mask

		for _, suffix := range suffixes {
			addr := network + uint32(suffix)
			if addr <= network || addr >= broadcast {
				continue
			}
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, addr)
			ip := net.IP(b).String()
			if !seen[ip] {
				seen[ip] = true
				hosts = append(hosts, ip)
			}
		}
	}
	return hosts, cidrs
}
