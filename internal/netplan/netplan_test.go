package netplan

import (
	"testing"

	"camscout/internal/domain"
)

func TestIsVirtual(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"eth0", false},
		{"en0", false},
		{"wlan0", false},
		{"docker0", true},
		{"veth1a2b", true},
		{"br-4f2a", true},
		{"utun3", true},
		{"tailscale0", true},
		{"wg0", true},
	}
	for _, tt := range tests {
		if got := IsVirtual(tt.name); got != tt.want {
			t.Errorf("IsVirtual(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPlanPhysicalFirst(t *testing.T) {
	infos := []InterfaceInfo{
		{Name: "utun3", IP: "100.64.0.2", CIDR: "100.64.0.0/24", Virtual: true},
		{Name: "en0", IP: "192.168.1.15", CIDR: "192.168.1.0/24"},
	}

	plan := PlanFromInterfaces(infos)
	if len(plan) != 1 {
		t.Fatalf("plan has %d ranges, want 1 (virtual skipped)", len(plan))
	}
	if plan[0].Interface != "en0" || plan[0].CIDR() != "192.168.1.0/24" {
		t.Errorf("plan[0] = %+v, want en0 192.168.1.0/24", plan[0])
	}
}

func TestPlanVirtualFallback(t *testing.T) {
	infos := []InterfaceInfo{
		{Name: "utun3", IP: "100.64.0.2", CIDR: "100.64.0.0/24", Virtual: true},
	}

	plan := PlanFromInterfaces(infos)
	if len(plan) != 1 {
		t.Fatalf("plan has %d ranges, want 1 (virtual kept when nothing physical)", len(plan))
	}
	if !plan[0].Virtual {
		t.Error("fallback range should be marked virtual")
	}
}

func TestPlanEmpty(t *testing.T) {
	if plan := PlanFromInterfaces(nil); len(plan) != 0 {
		t.Errorf("empty interface list produced %d ranges", len(plan))
	}
}

func TestPlanDeduplicatesRanges(t *testing.T) {
	infos := []InterfaceInfo{
		{Name: "en0", IP: "192.168.1.15", CIDR: "192.168.1.0/24"},
		{Name: "en1", IP: "192.168.1.16", CIDR: "192.168.1.0/24"},
	}
	plan := PlanFromInterfaces(infos)
	if len(plan) != 1 {
		t.Errorf("plan has %d ranges, want 1 (same subnet on two NICs)", len(plan))
	}
}

func TestPlanFromCIDRs(t *testing.T) {
	plan, err := PlanFromCIDRs([]string{"10.0.0.0/30"})
	if err != nil {
		t.Fatalf("PlanFromCIDRs: %v", err)
	}
	if len(plan) != 1 || plan[0].PrefixLength != 30 {
		t.Errorf("plan = %+v", plan)
	}

	if _, err := PlanFromCIDRs([]string{"10.0.0.0/8"}); err == nil {
		t.Error("expected error for oversized range")
	}
	if _, err := PlanFromCIDRs([]string{"bogus"}); err == nil {
		t.Error("expected error for invalid CIDR")
	}

	var r domain.NetworkRange = plan[0]
	if got := len(r.Hosts()); got != 2 {
		t.Errorf("/30 expansion = %d hosts, want 2", got)
	}
}
