// Package scan implements the concurrent discovery orchestrator. For
// every network range it schedules probe -> negotiate -> identify ->
// classify per host under a bounded worker pool, merges the passive
// listener's stream, and feeds the shared device registry while
// emitting incremental progress events.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"camscout/internal/digest"
	"camscout/internal/domain"
	"camscout/internal/identify"
	"camscout/internal/listen"
	"camscout/internal/negotiate"
	"camscout/internal/probe"
	"camscout/internal/repository"
)

// Event type strings on the caller-facing stream
const (
	EventScanProgress      = "scan-progress"
	EventDeviceDiscovered  = "device-discovered"
	EventScanComplete      = "scan-complete"
	EventPermissionBlocked = "permission-blocked"
)

// EventPublisher receives progress and discovery events
type EventPublisher interface {
	Publish(eventType string, payload any)
}

// AnnouncementSource is the passive discovery stream
type AnnouncementSource interface {
	Listen(ctx context.Context) []listen.Announcement
}

// Policy names the per-subnet scanning trade-offs explicitly
type Policy struct {
	// MaxDevicesPerSubnet stops a range once this many devices are
	// identified. 0 scans every host; 2 reproduces the legacy
	// stop-after-camera-and-speaker behavior.
	MaxDevicesPerSubnet int `json:"max_devices_per_subnet"`
	// SkipKnown skips hosts already present in the registry, typically
	// because the passive listener got there first
	SkipKnown bool `json:"skip_known"`
}

// Request describes one scan run
type Request struct {
	ID string
	// Ranges to sweep; Hosts overrides with explicit addresses
	Ranges []domain.NetworkRange
	Hosts  []string
	// Ports overrides the negotiator's default tiers (flat list,
	// probed in order)
	Ports []int
	// Credentials are tried in order per host; empty means devices can
	// only be recorded as unauthenticated candidates
	Credentials []domain.CredentialSet
	// Concurrency overrides the worker pool size for this run
	Concurrency int
	// ServiceDiscovery runs the passive listener alongside the sweep
	ServiceDiscovery bool
	Policy           Policy
}

// Summary is the terminal result of a run. Callers normally watch the
// event stream instead; per-host failures never surface here.
type Summary struct {
	ScanID       string        `json:"scan_id"`
	HostsScanned int           `json:"hosts_scanned"`
	DevicesFound int           `json:"devices_found"`
	Candidates   int           `json:"candidates"`
	Duration     time.Duration `json:"duration"`
}

// Config holds orchestrator tuning
type Config struct {
	Concurrency  int
	ProbeTimeout time.Duration
	// Markers filter passive announcements before the expensive
	// identification round trip
	Markers []string
}

// Orchestrator wires the discovery pipeline together
type Orchestrator struct {
	cfg        Config
	identifier *identify.Identifier
	listener   AnnouncementSource
	registry   *domain.Registry
	store      repository.Store
	publisher  EventPublisher
	sweeper    *probe.Sweeper

	permBlocked atomic.Bool
}

// New creates an orchestrator. listener, store and publisher may be
// nil.
func New(cfg Config, identifier *identify.Identifier, listener AnnouncementSource, registry *domain.Registry, store repository.Store, publisher EventPublisher) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 32
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = time.Second
	}
	if len(cfg.Markers) == 0 {
		cfg.Markers = []string{"axis"}
	}
	return &Orchestrator{
		cfg:        cfg,
		identifier: identifier,
		listener:   listener,
		registry:   registry,
		store:      store,
		publisher:  publisher,
	}
}

// SetSweeper enables the optional nmap pre-filter
func (o *Orchestrator) SetSweeper(s *probe.Sweeper) {
	o.sweeper = s
}

// Run executes a scan. Per-host failures are excluded silently; the
// scan completes even if every host fails. The context cancels the
// whole run.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()
	summary := &Summary{ScanID: req.ID}

	prober := probe.New(o.cfg.ProbeTimeout, func(ip string, err error) {
		o.reportPermissionBlocked(req.ID, ip, err)
	})

	tiers := negotiate.DefaultTiers
	if len(req.Ports) > 0 {
		tiers = [][]int{req.Ports}
	}
	negotiator := negotiate.New(prober, o.identifier, o.store, negotiate.WithTiers(tiers))

	var scanned, found, candidates atomic.Int64

	g, gctx := errgroup.WithContext(ctx)

	if req.ServiceDiscovery && o.listener != nil {
		g.Go(func() error {
			o.runPassive(gctx, req, negotiator, &found, &candidates)
			return nil
		})
	}

	g.Go(func() error {
		o.runActive(gctx, req, negotiator, &scanned, &found, &candidates)
		return nil
	})

	_ = g.Wait()

	summary.HostsScanned = int(scanned.Load())
	summary.DevicesFound = int(found.Load())
	summary.Candidates = int(candidates.Load())
	summary.Duration = time.Since(start)

	o.publish(EventScanComplete, map[string]any{
		"scan_id":       req.ID,
		"hosts_scanned": summary.HostsScanned,
		"devices_found": summary.DevicesFound,
		"candidates":    summary.Candidates,
		"duration_ms":   summary.Duration.Milliseconds(),
	})

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("scan %s cancelled: %w", req.ID, err)
	}
	return summary, nil
}

// runPassive drains the announcement window and follows up on
// vendor-suggestive hosts at their advertised address.
func (o *Orchestrator) runPassive(ctx context.Context, req Request, negotiator *negotiate.Negotiator, found, candidates *atomic.Int64) {
	o.publish(EventScanProgress, map[string]any{
		"scan_id": req.ID,
		"phase":   "service_discovery",
		"message": "Listening for service announcements",
	})

	announcements := o.listener.Listen(ctx)

	for _, a := range announcements {
		if ctx.Err() != nil {
			return
		}
		if !listen.VendorSuggestive(a, o.cfg.Markers) {
			continue
		}

		port := a.Port
		if port == 0 {
			port = 80
		}
		target := domain.Target{IP: a.IP, Port: port, Protocol: negotiate.ProtocolForPort(port)}

		// An announcement only suggests the vendor; verified status is
		// earned by the vendor endpoint actually answering there
		if !o.identifier.VendorPresent(ctx, target) {
			continue
		}
		result := negotiator.Force(a.IP, target.Protocol, target.Port)

		if len(req.Credentials) == 0 {
			o.saveCandidate(ctx, a.IP, result, domain.MethodService, candidates)
			continue
		}

		dev := o.identifyHost(ctx, target, req.Credentials, domain.MethodService)
		if dev == nil {
			continue
		}
		if dev.Status == domain.StatusRequiresAuth {
			o.saveCandidate(ctx, a.IP, result, domain.MethodService, candidates)
		}
		o.register(req.ID, dev, found)
	}
}

// runActive sweeps the planned ranges under the worker pool
func (o *Orchestrator) runActive(ctx context.Context, req Request, negotiator *negotiate.Negotiator, scanned, found, candidates *atomic.Int64) {
	if len(req.Hosts) > 0 {
		hosts := make([]domain.CandidateHost, 0, len(req.Hosts))
		for _, ip := range req.Hosts {
			hosts = append(hosts, domain.CandidateHost{IP: ip})
		}
		o.scanRange(ctx, req, "", hosts, negotiator, scanned, found, candidates)
		return
	}

	for _, r := range req.Ranges {
		if ctx.Err() != nil {
			return
		}
		o.scanRange(ctx, req, r.CIDR(), r.Hosts(), negotiator, scanned, found, candidates)
	}
}

// scanRange processes one range's hosts in parallel. The range gets its
// own cancel scope so a per-subnet device quota can stop it without
// aborting the rest of the scan.
func (o *Orchestrator) scanRange(ctx context.Context, req Request, cidr string, hosts []domain.CandidateHost, negotiator *negotiate.Negotiator, scanned, found, candidates *atomic.Int64) {
	if len(hosts) == 0 {
		return
	}

	rctx, stop := context.WithCancel(ctx)
	defer stop()

	var rangeFound atomic.Int64
	var pairMu sync.Mutex
	var rangeCamera, rangeSpeaker string

	o.publish(EventScanProgress, map[string]any{
		"scan_id": req.ID,
		"phase":   "active_scan",
		"range":   cidr,
		"total":   len(hosts),
		"message": fmt.Sprintf("Scanning %d hosts", len(hosts)),
	})

	// Optional nmap pre-filter: shrink the host list to live ones
	if o.sweeper != nil && cidr != "" {
		ports := req.Ports
		if len(ports) == 0 {
			ports = flatten(negotiate.DefaultTiers)
		}
		if open, err := o.sweeper.Sweep(rctx, cidr, ports); err == nil {
			filtered := hosts[:0]
			for _, h := range hosts {
				if _, ok := open[h.IP]; ok {
					filtered = append(filtered, h)
				}
			}
			hosts = filtered
			log.Printf("nmap pre-filter: %s reduced to %d live hosts", cidr, len(hosts))
		} else {
			log.Printf("nmap pre-filter failed for %s, probing every host: %v", cidr, err)
		}
	}

	workers := o.cfg.Concurrency
	if req.Concurrency > 0 {
		workers = req.Concurrency
	}
	g, gctx := errgroup.WithContext(rctx)
	g.SetLimit(workers)

	for _, host := range hosts {
		host := host
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			defer func() {
				n := scanned.Add(1)
				o.publish(EventScanProgress, map[string]any{
					"scan_id": req.ID,
					"phase":   "active_scan",
					"range":   cidr,
					"ip":      host.IP,
					"scanned": n,
				})
			}()

			if req.Policy.SkipKnown && o.registry.Has(host.IP) {
				return nil
			}

			result, err := negotiator.Negotiate(gctx, host.IP)
			if err != nil {
				// Unreachable or nothing open: excluded silently
				if !errors.Is(err, negotiate.ErrNoOpenPort) && !errors.Is(err, context.Canceled) {
					log.Printf("Negotiate %s: %v", host.IP, err)
				}
				return nil
			}
			if !result.Verified {
				// Open port but no vendor endpoint behind it
				return nil
			}

			if len(req.Credentials) == 0 {
				o.saveCandidate(gctx, host.IP, result, domain.MethodScan, candidates)
				return nil
			}

			dev := o.identifyHost(gctx, result.Target(), req.Credentials, domain.MethodScan)
			if dev == nil {
				return nil
			}
			if dev.Status == domain.StatusRequiresAuth {
				o.saveCandidate(gctx, host.IP, result, domain.MethodScan, candidates)
				o.register(req.ID, dev, found)
				// Only classified devices consume the subnet quota
				return nil
			}
			o.register(req.ID, dev, found)

			pairMu.Lock()
			switch dev.Role {
			case domain.RoleCamera:
				if rangeCamera == "" {
					rangeCamera = dev.ID
				}
			case domain.RoleSpeaker:
				if rangeSpeaker == "" {
					rangeSpeaker = dev.ID
				}
			}
			pairMu.Unlock()

			n := rangeFound.Add(1)
			if max := req.Policy.MaxDevicesPerSubnet; max > 0 && n >= int64(max) {
				stop()
			}
			return nil
		})
	}
	_ = g.Wait()

	// Pairing only links devices found on the same range pass
	if rangeCamera != "" && rangeSpeaker != "" {
		o.registry.SetPaired(rangeCamera, rangeSpeaker)
	}
}

// identifyHost walks the credential sets in order. Wrong credentials
// are the caller's concern (surfaced through device status), never an
// internal retry loop.
func (o *Orchestrator) identifyHost(ctx context.Context, target domain.Target, credentials []domain.CredentialSet, method domain.DiscoveryMethod) *domain.Device {
	var authFailed bool

	for _, creds := range credentials {
		if ctx.Err() != nil {
			return nil
		}
		id, err := o.identifier.Identify(ctx, target, creds)
		switch {
		case err == nil:
			dev := deviceFrom(id, target, method)
			dev.MarkAccessible(creds)
			return dev
		case errors.Is(err, digest.ErrAuthFailed):
			authFailed = true
			continue
		case errors.Is(err, digest.ErrAuthUnsupported),
			errors.Is(err, identify.ErrNotSupported):
			// Terminal for this endpoint; excluded silently
			return nil
		default:
			// Transport-level trouble after a successful probe
			log.Printf("Identify %s: %v", target.BaseURL(), err)
			return nil
		}
	}

	if authFailed {
		dev := domain.NewDevice(target.IP, target.Port, target.Protocol, method)
		dev.Status = domain.StatusRequiresAuth
		return dev
	}
	return nil
}

func (o *Orchestrator) register(scanID string, dev *domain.Device, found *atomic.Int64) {
	merged, created := o.registry.Upsert(dev)
	if created {
		found.Add(1)
	}
	o.publish(EventDeviceDiscovered, map[string]any{
		"scan_id": scanID,
		"device":  merged,
		"merged":  !created,
	})
}

func (o *Orchestrator) saveCandidate(ctx context.Context, ip string, result *domain.ProtocolProbeResult, method domain.DiscoveryMethod, candidates *atomic.Int64) {
	candidates.Add(1)
	if o.store == nil {
		return
	}
	err := o.store.SaveCandidate(ctx, repository.Candidate{
		IP:       ip,
		Port:     result.Port,
		Protocol: result.Protocol,
		Source:   method,
		SeenAt:   time.Now(),
	})
	if err != nil {
		log.Printf("Save candidate %s: %v", ip, err)
	}
}

// reportPermissionBlocked surfaces the missing-permission pattern at
// most once per process, however many runs hit it.
func (o *Orchestrator) reportPermissionBlocked(scanID, ip string, err error) {
	if !o.permBlocked.CompareAndSwap(false, true) {
		return
	}
	log.Printf("Local-network permission pattern while probing %s: %v", ip, err)
	o.publish(EventPermissionBlocked, map[string]any{
		"scan_id": scanID,
		"ip":      ip,
		"message": "Probes are failing with a host-unreachable pattern; the OS may be blocking local network access for this process",
	})
}

func (o *Orchestrator) publish(eventType string, payload any) {
	if o.publisher != nil {
		o.publisher.Publish(eventType, payload)
	}
}

// PermissionBlocked reports whether any probe in this process hit the
// missing-permission pattern.
func (o *Orchestrator) PermissionBlocked() bool {
	return o.permBlocked.Load()
}

// deviceFrom builds a Device out of a successful identification
func deviceFrom(id *identify.Identification, target domain.Target, method domain.DiscoveryMethod) *domain.Device {
	dev := domain.NewDevice(target.IP, target.Port, target.Protocol, method)
	dev.Role = id.Role
	dev.Model = id.Model
	dev.Manufacturer = id.Manufacturer
	dev.MAC = id.MAC
	dev.AddCapability("digest-auth")
	if id.ProductType != "" {
		dev.AddCapability("product-type:" + id.ProductType)
	}
	return dev
}

func flatten(tiers [][]int) []int {
	var out []int
	for _, tier := range tiers {
		out = append(out, tier...)
	}
	return out
}
