package probe

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
)

// Sweeper runs an nmap connect-scan across a range as a fast pre-filter
// before per-host probing. Purely an optimization: when the binary is
// missing the orchestrator falls back to the dialer-based prober.
type Sweeper struct {
	timeout time.Duration
}

// NewSweeper creates an nmap sweeper
func NewSweeper(timeout time.Duration) *Sweeper {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Sweeper{timeout: timeout}
}

// Available checks whether the nmap binary can run at all
func (s *Sweeper) Available(ctx context.Context) bool {
	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets("localhost"),
		nmap.WithListScan(),
	)
	if err != nil {
		return false
	}
	_, _, err = scanner.Run()
	return err == nil
}

// Sweep scans cidr for the given ports and returns open ports per live
// host. Uses a connect scan so no raw-socket privileges are needed.
func (s *Sweeper) Sweep(ctx context.Context, cidr string, ports []int) (map[string][]int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets(cidr),
		nmap.WithPorts(joinPorts(ports)),
		nmap.WithConnectScan(),
		nmap.WithSkipHostDiscovery(),
	)
	if err != nil {
		return nil, fmt.Errorf("create nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("nmap sweep of %s: %w", cidr, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		log.Printf("nmap sweep warnings for %s: %v", cidr, *warnings)
	}
	if result == nil {
		return nil, fmt.Errorf("nmap sweep of %s: nil result", cidr)
	}

	open := make(map[string][]int)
	for _, host := range result.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}
		var ip string
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" {
				ip = addr.Addr
				break
			}
		}
		if ip == "" {
			ip = host.Addresses[0].Addr
		}
		for _, port := range host.Ports {
			if port.State.State == "open" {
				open[ip] = append(open[ip], int(port.ID))
			}
		}
	}
	return open, nil
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
