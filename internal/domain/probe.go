package domain

import (
	"fmt"
	"time"
)

// Protocol is the scheme a device serves its web interface on
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// ProtocolProbeResult records the negotiated (protocol, port) for one IP.
// Negotiated at most once per IP per process unless explicitly
// invalidated.
type ProtocolProbeResult struct {
	IP       string   `json:"ip"`
	Protocol Protocol `json:"protocol"`
	Port     int      `json:"port"`
	// Verified is true when the port also passed vendor identification.
	// An unverified result is a last-resort guess from the first open
	// port.
	Verified     bool      `json:"verified"`
	NegotiatedAt time.Time `json:"negotiated_at"`
}

// Target is a fully negotiated endpoint for HTTP requests
type Target struct {
	IP       string
	Port     int
	Protocol Protocol
}

// BaseURL renders the endpoint origin, e.g. "https://192.168.1.90:443"
func (t Target) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", t.Protocol, t.IP, t.Port)
}

// Target converts a probe result into a request target
func (p ProtocolProbeResult) Target() Target {
	return Target{IP: p.IP, Port: p.Port, Protocol: p.Protocol}
}
