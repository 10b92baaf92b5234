// Package service holds the discovery facade the HTTP layer talks to,
// plus the in-process event bus feeding the SSE hub.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"camscout/internal/config"
	"camscout/internal/digest"
	"camscout/internal/domain"
	"camscout/internal/identify"
	"camscout/internal/negotiate"
	"camscout/internal/netplan"
	"camscout/internal/prediscovery"
	"camscout/internal/repository"
	"camscout/internal/scan"
)

// ErrScanNotFound - the scan ID does not match a running scan
var ErrScanNotFound = errors.New("scan not found")

// ErrNoStoredCredentials - the device has never authenticated
var ErrNoStoredCredentials = errors.New("device has no stored credentials")

// ScanParams is a caller's scan request after JSON decoding
type ScanParams struct {
	// CIDRs restricts the scan; empty means every planned local range
	CIDRs []string `json:"cidrs,omitempty"`
	// Ports overrides the default port tiers
	Ports       []int                  `json:"ports,omitempty"`
	Credentials []domain.CredentialSet `json:"credentials,omitempty"`
	// Concurrency overrides the worker pool size for this run
	Concurrency int `json:"concurrency,omitempty"`
	// ServiceDiscovery listens for announcements alongside the sweep
	ServiceDiscovery bool `json:"service_discovery"`
	// MaxDevicesPerSubnet caps identified devices per range; nil takes
	// the configured default, 0 scans exhaustively
	MaxDevicesPerSubnet *int `json:"max_devices_per_subnet,omitempty"`
}

// DiscoveryService coordinates scans and owns the run lifecycle
type DiscoveryService struct {
	cfg          *config.Config
	registry     *domain.Registry
	store        repository.Store
	orchestrator *scan.Orchestrator
	negotiator   *negotiate.Negotiator
	identifier   *identify.Identifier
	pre          *prediscovery.Runner
	bus          *EventBus

	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// NewDiscoveryService creates the facade. pre may be nil when the
// startup pass is disabled.
func NewDiscoveryService(cfg *config.Config, registry *domain.Registry, store repository.Store, orchestrator *scan.Orchestrator, negotiator *negotiate.Negotiator, identifier *identify.Identifier, pre *prediscovery.Runner, bus *EventBus) *DiscoveryService {
	return &DiscoveryService{
		cfg:          cfg,
		registry:     registry,
		store:        store,
		orchestrator: orchestrator,
		negotiator:   negotiator,
		identifier:   identifier,
		pre:          pre,
		bus:          bus,
		runs:         make(map[string]context.CancelFunc),
	}
}

// StartScan launches a full discovery scan in the background and
// returns its ID immediately. Progress arrives on the event bus.
func (s *DiscoveryService) StartScan(params ScanParams) (string, error) {
	var ranges []domain.NetworkRange
	var err error
	if len(params.CIDRs) > 0 {
		ranges, err = netplan.PlanFromCIDRs(params.CIDRs)
	} else {
		ranges, err = netplan.Plan()
	}
	if err != nil {
		return "", fmt.Errorf("plan scan ranges: %w", err)
	}

	s.mu.Lock()
	maxPerSubnet := s.cfg.Scan.MaxDevicesPerSubnet
	s.mu.Unlock()
	if params.MaxDevicesPerSubnet != nil {
		maxPerSubnet = *params.MaxDevicesPerSubnet
	}

	req := scan.Request{
		ID:               uuid.NewString(),
		Ranges:           ranges,
		Ports:            params.Ports,
		Credentials:      params.Credentials,
		Concurrency:      params.Concurrency,
		ServiceDiscovery: params.ServiceDiscovery,
		Policy: scan.Policy{
			MaxDevicesPerSubnet: maxPerSubnet,
			SkipKnown:           true,
		},
	}
	s.launch(req)
	return req.ID, nil
}

// StartServiceScan launches a passive-only scan: listen for
// announcements, identify what answers, touch nothing else.
func (s *DiscoveryService) StartServiceScan(credentials []domain.CredentialSet) string {
	req := scan.Request{
		ID:               uuid.NewString(),
		Credentials:      credentials,
		ServiceDiscovery: true,
		Policy:           scan.Policy{SkipKnown: true},
	}
	s.launch(req)
	return req.ID
}

func (s *DiscoveryService) launch(req scan.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.runs[req.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.runs, req.ID)
			s.mu.Unlock()
			cancel()
		}()
		if _, err := s.orchestrator.Run(ctx, req); err != nil {
			log.Printf("Scan %s: %v", req.ID, err)
		}
	}()
}

// UpdateConfig swaps the active configuration. Scans already running
// keep their parameters; new scans pick up the new defaults.
func (s *DiscoveryService) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// CancelScan stops a running scan
func (s *DiscoveryService) CancelScan(scanID string) error {
	s.mu.Lock()
	cancel, ok := s.runs[scanID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	cancel()
	return nil
}

// ActiveScans returns the IDs of scans currently in flight
func (s *DiscoveryService) ActiveScans() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids
}

// TestCredentials negotiates an endpoint for the address and runs one
// identification attempt with the supplied credentials. Success
// registers (or updates) the device as manually discovered.
func (s *DiscoveryService) TestCredentials(ctx context.Context, ip string, creds domain.CredentialSet) (*domain.Device, error) {
	result, err := s.negotiator.Negotiate(ctx, ip)
	if err != nil {
		return nil, err
	}

	id, err := s.identifier.Identify(ctx, result.Target(), creds)
	if err != nil {
		if errors.Is(err, digest.ErrAuthFailed) {
			if dev, ok := s.registry.GetByIP(ip); ok {
				s.registry.UpdateStatus(dev.ID, domain.StatusRequiresAuth, nil)
			}
		}
		return nil, err
	}

	dev := domain.NewDevice(ip, result.Port, result.Protocol, domain.MethodManual)
	dev.Role = id.Role
	dev.Model = id.Model
	dev.Manufacturer = id.Manufacturer
	dev.MAC = id.MAC
	dev.MarkAccessible(creds)

	merged, _ := s.registry.Upsert(dev)
	s.bus.Publish(string(EventDeviceDiscovered), map[string]any{
		"device": merged,
		"source": "credential-test",
	})
	return merged, nil
}

// TestDevice re-tests a registered device with its stored credentials
func (s *DiscoveryService) TestDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	dev, ok := s.registry.Get(deviceID)
	if !ok {
		return nil, fmt.Errorf("device %s not found", deviceID)
	}
	if dev.Credentials == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoStoredCredentials, deviceID)
	}
	updated, err := s.TestCredentials(ctx, dev.IP, *dev.Credentials)
	if err != nil {
		if errors.Is(err, digest.ErrAuthFailed) {
			s.registry.UpdateStatus(deviceID, domain.StatusRequiresAuth, nil)
		}
		return nil, err
	}
	return updated, nil
}

// Devices lists registered devices, optionally filtered by role
func (s *DiscoveryService) Devices(role string) ([]*domain.Device, error) {
	switch domain.Role(role) {
	case "", domain.RoleCamera, domain.RoleSpeaker, domain.RoleUnknown:
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return s.registry.Devices(domain.Role(role)), nil
}

// Interfaces enumerates the usable local interfaces
func (s *DiscoveryService) Interfaces() ([]netplan.InterfaceInfo, error) {
	return netplan.ListInterfaces()
}

// PreDiscovery reports the startup pass state and cached candidates
func (s *DiscoveryService) PreDiscovery(ctx context.Context) (*prediscovery.Snapshot, error) {
	if s.pre == nil {
		return &prediscovery.Snapshot{Candidates: []repository.Candidate{}}, nil
	}
	return s.pre.Snapshot(ctx)
}

// ClassifyCandidates classifies cached candidates with credentials,
// without re-probing the network.
func (s *DiscoveryService) ClassifyCandidates(ctx context.Context, credentials []domain.CredentialSet) ([]*domain.Device, error) {
	if s.pre == nil {
		return nil, nil
	}
	return s.pre.ClassifyCandidates(ctx, credentials)
}

// ClearCache wipes the persistent probe/candidate cache and the
// in-memory negotiation cache. The device registry is untouched.
func (s *DiscoveryService) ClearCache(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache store: %w", err)
	}
	s.negotiator.Reset()
	s.bus.Publish(string(EventCacheCleared), nil)
	return nil
}
