package domain

import (
	"encoding/binary"
	"fmt"
	"net"
)

// NetworkRange is a scannable address range on one interface. Immutable
// for the duration of a scan pass.
type NetworkRange struct {
	Interface    string `json:"interface"`
	BaseAddress  string `json:"base_address"`
	PrefixLength int    `json:"prefix_length"`
	// Virtual marks tunnel/container interfaces; the planner orders
	// these after physical ones and normally skips them
	Virtual bool `json:"virtual,omitempty"`
}

// CandidateHost is one address within a range, excluding the network and
// broadcast addresses.
type CandidateHost struct {
	IP    string `json:"ip"`
	Range string `json:"range"`
}

// CIDR renders the range in prefix notation
func (r NetworkRange) CIDR() string {
	return fmt.Sprintf("%s/%d", r.BaseAddress, r.PrefixLength)
}

// ParseRange builds a NetworkRange from CIDR notation
func ParseRange(cidr string) (NetworkRange, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return NetworkRange{}, fmt.Errorf("parse range %q: %w", cidr, err)
	}
	if ip.To4() == nil {
		return NetworkRange{}, fmt.Errorf("parse range %q: only IPv4 supported", cidr)
	}
	ones, _ := ipNet.Mask.Size()
	return NetworkRange{
		BaseAddress:  ipNet.IP.String(),
		PrefixLength: ones,
	}, nil
}

// Hosts expands the range into candidate hosts. Network and broadcast
// addresses are excluded, so /32 yields nothing and /30 yields exactly
// two candidates. /31 is treated as a point-to-point pair.
func (r NetworkRange) Hosts() []CandidateHost {
	base := net.ParseIP(r.BaseAddress)
	if base == nil {
		return nil
	}
	ip4 := base.To4()
	if ip4 == nil || r.PrefixLength < 0 || r.PrefixLength > 32 {
		return nil
	}

	if r.PrefixLength == 32 {
		return nil
	}

	mask := binary.BigEndian.Uint32(net.CIDRMask(r.PrefixLength, 32))
	network := binary.BigEndian.Uint32(ip4) & mask
	broadcast := network | ^mask

	first, last := network, broadcast
	if r.PrefixLength <= 30 {
		first++
		last--
	}

	cidr := r.CIDR()
	hosts := make([]CandidateHost, 0, last-first+1)
	for i := first; i <= last; i++ {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, i)
		hosts = append(hosts, CandidateHost{IP: net.IP(b).String(), Range: cidr})
	}
	return hosts
}

// Contains reports whether an address falls inside the range
func (r NetworkRange) Contains(ip string) bool {
	_, ipNet, err := net.ParseCIDR(r.CIDR())
	if err != nil {
		return false
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && ipNet.Contains(parsed)
}
