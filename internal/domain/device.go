package domain

import (
	"strings"
	"time"
)

// Role classifies what kind of device answered the vendor probe
type Role string

const (
	RoleCamera  Role = "camera"
	RoleSpeaker Role = "speaker"
	RoleUnknown Role = "unknown"
)

// DeviceStatus represents the access state of a discovered device
type DeviceStatus string

const (
	// StatusAccessible - vendor probe succeeded with working credentials
	StatusAccessible DeviceStatus = "accessible"
	// StatusRequiresAuth - device answered but no supplied credentials worked
	StatusRequiresAuth DeviceStatus = "requires_auth"
	// StatusError - device answered but identification failed unexpectedly
	StatusError DeviceStatus = "error"
)

// DiscoveryMethod records which stream produced a device
type DiscoveryMethod string

const (
	MethodScan    DiscoveryMethod = "scan"
	MethodService DiscoveryMethod = "service"
	MethodManual  DiscoveryMethod = "manual"
)

// IdentityKind tags how a device is identified in the registry
type IdentityKind string

const (
	// IdentityByIP - only the address is known; the registry keys on it
	IdentityByIP IdentityKind = "ip"
	// IdentityByMAC - a hardware address is known; entries sharing it merge
	IdentityByMAC IdentityKind = "mac"
)

// Device represents a camera or speaker found on the network
type Device struct {
	ID           string          `json:"id"`
	IP           string          `json:"ip"`
	Port         int             `json:"port"`
	Protocol     Protocol        `json:"protocol"`
	Role         Role            `json:"role"`
	Model        string          `json:"model,omitempty"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	MAC          string          `json:"mac,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Method       DiscoveryMethod `json:"discovery_method"`
	Status       DeviceStatus    `json:"status"`
	Credentials  *CredentialSet  `json:"credentials,omitempty"`
	// PairedPeripheral links a camera to a speaker (or vice versa) found
	// on the same NetworkRange pass. Holds the peer's device ID.
	PairedPeripheral string `json:"paired_peripheral,omitempty"`
	// AlternateIPs holds addresses folded in by a MAC-identity merge
	AlternateIPs []string  `json:"alternate_ips,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// NewDevice creates a device identified by its address
func NewDevice(ip string, port int, protocol Protocol, method DiscoveryMethod) *Device {
	return &Device{
		ID:           DeviceID(ip),
		IP:           ip,
		Port:         port,
		Protocol:     protocol,
		Role:         RoleUnknown,
		Method:       method,
		Status:       StatusRequiresAuth,
		DiscoveredAt: time.Now(),
	}
}

// DeviceID derives the registry ID for an address
func DeviceID(ip string) string {
	return "dev-" + strings.ReplaceAll(strings.ReplaceAll(ip, ".", "-"), ":", "-")
}

// Identity returns how this device is currently identified
func (d *Device) Identity() IdentityKind {
	if d.MAC != "" {
		return IdentityByMAC
	}
	return IdentityByIP
}

// MarkAccessible records working credentials. requires_auth/error devices
// transition to accessible once valid credentials are re-tested.
func (d *Device) MarkAccessible(creds CredentialSet) {
	c := creds
	d.Credentials = &c
	d.Status = StatusAccessible
}

// HasCapability reports whether a capability string is already recorded
func (d *Device) HasCapability(cap string) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AddCapability appends a capability if missing
func (d *Device) AddCapability(cap string) {
	if cap != "" && !d.HasCapability(cap) {
		d.Capabilities = append(d.Capabilities, cap)
	}
}

// CredentialSet is a caller-supplied username/password pair. The engine
// never invents defaults.
type CredentialSet struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
