package domain

import (
	"sort"
	"sync"
)

// Registry is the deduplicated device set fed by both discovery streams.
// It is an owned object with an explicit lifecycle: created at startup,
// cleared on request, injected into the components that need it.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device // keyed by Device.ID
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Upsert adds a device or merges it into an existing entry. Identity is
// the IP-derived ID; once a MAC is known, entries sharing that MAC are
// folded together instead of duplicating a multi-homed device. Returns
// the surviving entry and whether it was newly created.
func (r *Registry) Upsert(d *Device) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.devices[d.ID]; ok {
		merge(existing, d)
		return existing, false
	}

	if d.MAC != "" {
		if existing := r.findByMACLocked(d.MAC); existing != nil {
			if existing.IP != d.IP {
				addAlternateIP(existing, d.IP)
			}
			merge(existing, d)
			return existing, false
		}
	}

	cp := *d
	r.devices[cp.ID] = &cp
	return &cp, true
}

// Get returns a device by ID
func (r *Registry) Get(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	cp := *d
	return &cp, true
}

// GetByIP returns the device registered under an address, following
// alternate IPs recorded by MAC merges.
func (r *Registry) GetByIP(ip string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.devices[DeviceID(ip)]; ok {
		cp := *d
		return &cp, true
	}
	for _, d := range r.devices {
		for _, alt := range d.AlternateIPs {
			if alt == ip {
				cp := *d
				return &cp, true
			}
		}
	}
	return nil, false
}

// Has reports whether an address is already registered
func (r *Registry) Has(ip string) bool {
	_, ok := r.GetByIP(ip)
	return ok
}

// Devices returns all entries, optionally filtered by role, ordered by
// discovery time then ID for stable output.
func (r *Registry) Devices(role Role) []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		if role != "" && d.Role != role {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetPaired links two devices as a camera+speaker pair
func (r *Registry) SetPaired(cameraID, speakerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cam, ok1 := r.devices[cameraID]
	spk, ok2 := r.devices[speakerID]
	if !ok1 || !ok2 {
		return
	}
	cam.PairedPeripheral = spk.ID
	spk.PairedPeripheral = cam.ID
}

// UpdateStatus transitions a device's access state, attaching the
// credentials that made it accessible.
func (r *Registry) UpdateStatus(id string, status DeviceStatus, creds *CredentialSet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return false
	}
	d.Status = status
	if status == StatusAccessible && creds != nil {
		c := *creds
		d.Credentials = &c
	}
	return true
}

// Len returns the number of registered devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Clear drops every entry
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]*Device)
}

func (r *Registry) findByMACLocked(mac string) *Device {
	for _, d := range r.devices {
		if d.MAC == mac {
			return d
		}
	}
	return nil
}

// merge folds src into dst, preferring information over absence. The
// earliest discovery timestamp wins; a verified role never downgrades to
// unknown; accessible status is sticky.
func merge(dst, src *Device) {
	if src.Role != RoleUnknown && src.Role != "" {
		dst.Role = src.Role
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Manufacturer != "" {
		dst.Manufacturer = src.Manufacturer
	}
	if src.MAC != "" {
		dst.MAC = src.MAC
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.Protocol != "" {
		dst.Protocol = src.Protocol
	}
	if src.Status == StatusAccessible {
		dst.Status = StatusAccessible
		if src.Credentials != nil {
			c := *src.Credentials
			dst.Credentials = &c
		}
	}
	for _, cap := range src.Capabilities {
		dst.AddCapability(cap)
	}
	if !src.DiscoveredAt.IsZero() && src.DiscoveredAt.Before(dst.DiscoveredAt) {
		dst.DiscoveredAt = src.DiscoveredAt
		dst.Method = src.Method
	}
}

func addAlternateIP(d *Device, ip string) {
	for _, alt := range d.AlternateIPs {
		if alt == ip {
			return
		}
	}
	d.AlternateIPs = append(d.AlternateIPs, ip)
}
