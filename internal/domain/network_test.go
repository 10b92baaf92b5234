package domain

import "testing"

func TestHostsBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		prefix    int
		wantCount int
		wantFirst string
		wantLast  string
	}{
		{
			name:      "slash 32 has no candidates",
			base:      "192.168.1.5",
			prefix:    32,
			wantCount: 0,
		},
		{
			name:      "slash 31 point to point pair",
			base:      "10.0.0.0",
			prefix:    31,
			wantCount: 2,
			wantFirst: "10.0.0.0",
			wantLast:  "10.0.0.1",
		},
		{
			name:      "slash 30 has exactly two",
			base:      "192.168.1.0",
			prefix:    30,
			wantCount: 2,
			wantFirst: "192.168.1.1",
			wantLast:  "192.168.1.2",
		},
		{
			name:      "slash 24 excludes network and broadcast",
			base:      "192.168.1.0",
			prefix:    24,
			wantCount: 254,
			wantFirst: "192.168.1.1",
			wantLast:  "192.168.1.254",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NetworkRange{Interface: "eth0", BaseAddress: tt.base, PrefixLength: tt.prefix}
			hosts := r.Hosts()
			if len(hosts) != tt.wantCount {
				t.Fatalf("got %d hosts, want %d", len(hosts), tt.wantCount)
			}
			if tt.wantCount == 0 {
				return
			}
			if hosts[0].IP != tt.wantFirst {
				t.Errorf("first host = %s, want %s", hosts[0].IP, tt.wantFirst)
			}
			if hosts[len(hosts)-1].IP != tt.wantLast {
				t.Errorf("last host = %s, want %s", hosts[len(hosts)-1].IP, tt.wantLast)
			}
			for _, h := range hosts {
				if h.Range != r.CIDR() {
					t.Errorf("host %s tagged with range %s, want %s", h.IP, h.Range, r.CIDR())
				}
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("192.168.1.17/24")
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}
	if r.BaseAddress != "192.168.1.0" || r.PrefixLength != 24 {
		t.Errorf("got %s/%d, want 192.168.1.0/24", r.BaseAddress, r.PrefixLength)
	}

	if _, err := ParseRange("not-a-cidr"); err == nil {
		t.Error("expected error for invalid CIDR")
	}
	if _, err := ParseRange("fe80::1/64"); err == nil {
		t.Error("expected error for IPv6 range")
	}
}

func TestContains(t *testing.T) {
	r := NetworkRange{BaseAddress: "192.168.1.0", PrefixLength: 24}
	if !r.Contains("192.168.1.90") {
		t.Error("expected 192.168.1.90 inside 192.168.1.0/24")
	}
	if r.Contains("192.168.2.90") {
		t.Error("expected 192.168.2.90 outside 192.168.1.0/24")
	}
}
