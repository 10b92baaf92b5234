package domain

import (
	"testing"
	"time"
)

func TestRegistryMixedStreamDedup(t *testing.T) {
	// Host A found only via the service listener, host B only via active
	// scan, host C via both streams. C must appear exactly once.
	reg := NewRegistry()

	a := NewDevice("192.168.1.10", 80, ProtocolHTTP, MethodService)
	b := NewDevice("192.168.1.20", 443, ProtocolHTTPS, MethodScan)
	cService := NewDevice("192.168.1.30", 80, ProtocolHTTP, MethodService)
	cScan := NewDevice("192.168.1.30", 80, ProtocolHTTP, MethodScan)

	if _, created := reg.Upsert(a); !created {
		t.Error("expected A to be created")
	}
	if _, created := reg.Upsert(b); !created {
		t.Error("expected B to be created")
	}
	if _, created := reg.Upsert(cService); !created {
		t.Error("expected C (service) to be created")
	}
	if _, created := reg.Upsert(cScan); created {
		t.Error("expected C (scan) to merge, not create")
	}

	if got := reg.Len(); got != 3 {
		t.Fatalf("registry has %d devices, want 3 (C merged once)", got)
	}
}

func TestRegistryMACMerge(t *testing.T) {
	reg := NewRegistry()

	// Same physical device seen on two interfaces; MAC becomes known on
	// the second sighting.
	first := NewDevice("192.168.1.90", 80, ProtocolHTTP, MethodScan)
	first.MAC = "B8:A4:4F:45:D6:24"
	reg.Upsert(first)

	second := NewDevice("10.0.0.90", 443, ProtocolHTTPS, MethodService)
	second.MAC = "B8:A4:4F:45:D6:24"
	merged, created := reg.Upsert(second)

	if created {
		t.Fatal("expected MAC merge, got new entry")
	}
	if reg.Len() != 1 {
		t.Fatalf("registry has %d devices, want 1", reg.Len())
	}
	if merged.Identity() != IdentityByMAC {
		t.Errorf("identity = %s, want %s", merged.Identity(), IdentityByMAC)
	}

	found := false
	for _, alt := range merged.AlternateIPs {
		if alt == "10.0.0.90" {
			found = true
		}
	}
	if !found {
		t.Errorf("alternate IPs %v missing 10.0.0.90", merged.AlternateIPs)
	}

	if _, ok := reg.GetByIP("10.0.0.90"); !ok {
		t.Error("GetByIP should follow alternate addresses")
	}
}

func TestRegistryRoleFilter(t *testing.T) {
	reg := NewRegistry()

	cam := NewDevice("192.168.1.90", 80, ProtocolHTTP, MethodScan)
	cam.Role = RoleCamera
	spk := NewDevice("192.168.1.91", 80, ProtocolHTTP, MethodScan)
	spk.Role = RoleSpeaker
	reg.Upsert(cam)
	reg.Upsert(spk)

	cameras := reg.Devices(RoleCamera)
	if len(cameras) != 1 || cameras[0].IP != "192.168.1.90" {
		t.Errorf("camera view = %+v, want only 192.168.1.90", cameras)
	}
	for _, d := range cameras {
		if d.Role == RoleSpeaker {
			t.Error("speaker leaked into camera-only view")
		}
	}
}

func TestRegistryMergePrefersInformation(t *testing.T) {
	reg := NewRegistry()

	early := NewDevice("192.168.1.90", 80, ProtocolHTTP, MethodService)
	early.DiscoveredAt = time.Now().Add(-time.Minute)
	reg.Upsert(early)

	late := NewDevice("192.168.1.90", 443, ProtocolHTTPS, MethodScan)
	late.Role = RoleCamera
	late.Model = "M3067-P"
	late.Manufacturer = "Axis"
	late.MarkAccessible(CredentialSet{Username: "root", Password: "pass"})
	merged, _ := reg.Upsert(late)

	if merged.Role != RoleCamera || merged.Model != "M3067-P" {
		t.Errorf("merge lost identification: %+v", merged)
	}
	if merged.Status != StatusAccessible || merged.Credentials == nil {
		t.Error("merge lost accessible status")
	}
	if merged.Method != MethodService {
		t.Errorf("method = %s, want the earliest stream (service)", merged.Method)
	}
}

func TestRegistryPairing(t *testing.T) {
	reg := NewRegistry()

	cam := NewDevice("192.168.1.90", 80, ProtocolHTTP, MethodScan)
	cam.Role = RoleCamera
	spk := NewDevice("192.168.1.91", 80, ProtocolHTTP, MethodScan)
	spk.Role = RoleSpeaker
	reg.Upsert(cam)
	reg.Upsert(spk)

	reg.SetPaired(cam.ID, spk.ID)

	gotCam, _ := reg.Get(cam.ID)
	gotSpk, _ := reg.Get(spk.ID)
	if gotCam.PairedPeripheral != spk.ID || gotSpk.PairedPeripheral != cam.ID {
		t.Errorf("pairing not symmetric: cam=%q spk=%q", gotCam.PairedPeripheral, gotSpk.PairedPeripheral)
	}
}

func TestRegistryStatusTransition(t *testing.T) {
	reg := NewRegistry()
	d := NewDevice("192.168.1.90", 80, ProtocolHTTP, MethodScan)
	reg.Upsert(d)

	creds := CredentialSet{Username: "root", Password: "pass"}
	if !reg.UpdateStatus(d.ID, StatusAccessible, &creds) {
		t.Fatal("UpdateStatus failed for known device")
	}
	got, _ := reg.Get(d.ID)
	if got.Status != StatusAccessible || got.Credentials == nil || got.Credentials.Username != "root" {
		t.Errorf("transition to accessible incomplete: %+v", got)
	}
}
