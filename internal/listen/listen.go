// Package listen implements the passive discovery stream: for a fixed
// window it subscribes to a small set of local-network service types
// (the vendor's video type plus generic fallbacks) and reports
// announcements that look like they come from the target vendor. When a
// camera is on the network and announcing, this is usually the fastest
// path to finding it.
package listen

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

// VendorServiceType is the vendor-specific advertisement type
const VendorServiceType = "_axis-video._tcp"

// DefaultServiceTypes are queried when the config does not override
var DefaultServiceTypes = []string{VendorServiceType, "_http._tcp", "_rtsp._tcp"}

// Announcement is one self-announced service instance
type Announcement struct {
	IP      string   `json:"ip"`
	Port    int      `json:"port"`
	Name    string   `json:"name"`
	Host    string   `json:"host,omitempty"`
	Service string   `json:"service"`
	Info    []string `json:"info,omitempty"`
}

// Listener runs bounded mDNS queries
type Listener struct {
	types  []string
	window time.Duration
}

// New creates a listener. window is the whole listening budget.
func New(types []string, window time.Duration) *Listener {
	if len(types) == 0 {
		types = DefaultServiceTypes
	}
	if window <= 0 {
		window = 3 * time.Second
	}
	return &Listener{types: types, window: window}
}

// Listen queries every configured service type for the window and
// returns deduplicated announcements. Cancelling ctx stops collection
// early; queries already in flight drain on their own timers.
func (l *Listener) Listen(ctx context.Context) []Announcement {
	entries := make(chan Announcement, 64)
	done := make(chan struct{})
	defer close(done)
	var wg sync.WaitGroup

	for _, service := range l.types {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()
			l.queryService(service, entries, done)
		}(service)
	}

	go func() {
		wg.Wait()
		close(entries)
	}()

	byIP := make(map[string]Announcement)
	var order []string
	for {
		select {
		case a, ok := <-entries:
			if !ok {
				return collect(byIP, order)
			}
			if _, seen := byIP[a.IP]; !seen {
				order = append(order, a.IP)
				byIP[a.IP] = a
				continue
			}
			// The vendor type is more specific than a generic fallback
			if a.Service == VendorServiceType && byIP[a.IP].Service != VendorServiceType {
				byIP[a.IP] = a
			}
		case <-ctx.Done():
			return collect(byIP, order)
		}
	}
}

func (l *Listener) queryService(service string, out chan<- Announcement, done <-chan struct{}) {
	ch := make(chan *mdns.ServiceEntry, 16)
	forwarded := make(chan struct{})

	go func() {
		defer close(forwarded)
		forward(service, ch, out, done)
	}()

	params := &mdns.QueryParam{
		Service:             service,
		Domain:              "local",
		Timeout:             l.window,
		Entries:             ch,
		DisableIPv6:         true,
		WantUnicastResponse: true,
	}
	if err := mdns.Query(params); err != nil {
		log.Printf("mDNS query %s failed: %v", service, err)
	}
	close(ch)
	<-forwarded
}

// forward converts raw entries to announcements. Once the collector has
// stopped reading, remaining entries are dropped so the query goroutine
// can still drain ch and exit.
func forward(service string, ch <-chan *mdns.ServiceEntry, out chan<- Announcement, done <-chan struct{}) {
	for entry := range ch {
		if entry.AddrV4 == nil {
			continue
		}
		a := Announcement{
			IP:      entry.AddrV4.String(),
			Port:    entry.Port,
			Name:    entry.Name,
			Host:    strings.TrimSuffix(entry.Host, "."),
			Service: service,
			Info:    entry.InfoFields,
		}
		select {
		case out <- a:
		case <-done:
		}
	}
}

// VendorSuggestive reports whether an announcement's metadata suggests
// the target vendor. The vendor service type is conclusive; generic
// types need a marker in the instance name, hostname or TXT records.
func VendorSuggestive(a Announcement, markers []string) bool {
	if a.Service == VendorServiceType {
		return true
	}
	for _, marker := range markers {
		m := strings.ToLower(marker)
		if m == "" {
			continue
		}
		if strings.Contains(strings.ToLower(a.Name), m) ||
			strings.Contains(strings.ToLower(a.Host), m) {
			return true
		}
		for _, info := range a.Info {
			if strings.Contains(strings.ToLower(info), m) {
				return true
			}
		}
	}
	return false
}

func collect(byIP map[string]Announcement, order []string) []Announcement {
	out := make([]Announcement, 0, len(byIP))
	for _, ip := range order {
		out = append(out, byIP[ip])
	}
	return out
}
