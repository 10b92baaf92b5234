// Package netplan enumerates local interfaces and turns them into the
// ordered, scannable NetworkRanges a discovery pass works through.
package netplan

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"camscout/internal/domain"
)

// Virtual interfaces rarely front cameras; they sort last and are
// skipped unless nothing physical exists.
var virtualPrefixes = []string{
	"veth", "docker", "br-", "cni", "flannel",
	"tun", "tap", "utun", "wg", "vmnet", "zt", "tailscale",
}

// MaxHostsPerRange refuses ranges too large for interactive scanning
const MaxHostsPerRange = 4096

// InterfaceInfo describes one usable local interface for callers
type InterfaceInfo struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	CIDR    string `json:"cidr"`
	MAC     string `json:"mac,omitempty"`
	Virtual bool   `json:"virtual"`
}

// ListInterfaces enumerates up, non-loopback IPv4 interfaces
func ListInterfaces() ([]InterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}

	var out []InterfaceInfo
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			ones, _ := ipNet.Mask.Size()
			out = append(out, InterfaceInfo{
				Name:    iface.Name,
				IP:      ipNet.IP.String(),
				CIDR:    fmt.Sprintf("%s/%d", ipNet.IP.Mask(ipNet.Mask), ones),
				MAC:     iface.HardwareAddr.String(),
				Virtual: IsVirtual(iface.Name),
			})
		}
	}
	return out, nil
}

// Plan computes the ordered ranges for a scan pass. Physical interfaces
// come first; virtual ones are dropped unless no physical interface
// exists. An empty interface list yields an empty plan, never an error:
// service discovery may still find devices.
func Plan() ([]domain.NetworkRange, error) {
	infos, err := ListInterfaces()
	if err != nil {
		return nil, err
	}
	return PlanFromInterfaces(infos), nil
}

// PlanFromInterfaces is the pure planning step, separated for tests
func PlanFromInterfaces(infos []InterfaceInfo) []domain.NetworkRange {
	var physical, virtual []domain.NetworkRange
	seen := make(map[string]bool)

	for _, info := range infos {
		r, err := domain.ParseRange(info.CIDR)
		if err != nil {
			continue
		}
		r.Interface = info.Name
		r.Virtual = info.Virtual
		if seen[r.CIDR()] {
			continue
		}
		seen[r.CIDR()] = true

		if info.Virtual {
			virtual = append(virtual, r)
		} else {
			physical = append(physical, r)
		}
	}

	sort.SliceStable(physical, func(i, j int) bool {
		return physical[i].Interface < physical[j].Interface
	})

	if len(physical) > 0 {
		return physical
	}
	sort.SliceStable(virtual, func(i, j int) bool {
		return virtual[i].Interface < virtual[j].Interface
	})
	return virtual
}

// PlanFromCIDRs builds a plan from caller-supplied ranges, bypassing
// interface enumeration.
func PlanFromCIDRs(cidrs []string) ([]domain.NetworkRange, error) {
	var out []domain.NetworkRange
	for _, cidr := range cidrs {
		r, err := domain.ParseRange(cidr)
		if err != nil {
			return nil, err
		}
		if n := rangeSize(r); n > MaxHostsPerRange {
			return nil, fmt.Errorf("range %s has %d hosts, max %d", r.CIDR(), n, MaxHostsPerRange)
		}
		out = append(out, r)
	}
	return out, nil
}

// IsVirtual reports whether an interface name looks like a tunnel,
// bridge or container endpoint.
func IsVirtual(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func rangeSize(r domain.NetworkRange) int {
	if r.PrefixLength >= 31 {
		return 2
	}
	return (1 << (32 - r.PrefixLength)) - 2
}
