package config

import "time"

// Config is the root configuration structure
type Config struct {
	Listen       string             `yaml:"listen"`
	CachePath    string             `yaml:"cache_path"`
	Scan         ScanConfig         `yaml:"scan"`
	Service      ServiceConfig      `yaml:"service_discovery"`
	PreDiscovery PreDiscoveryConfig `yaml:"prediscovery"`
	Vendor       VendorConfig       `yaml:"vendor"`
}

// ScanConfig tunes the active scanning pipeline
type ScanConfig struct {
	// Concurrency is the worker pool size, independent of host count
	Concurrency int `yaml:"concurrency"`
	// ProbeTimeout bounds one TCP reachability probe
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// HTTPTimeout bounds one HTTP round trip; embedded stacks are slow
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// MaxDevicesPerSubnet stops scanning a range after this many
	// devices are identified. 0 scans every host (the default).
	MaxDevicesPerSubnet int `yaml:"max_devices_per_subnet"`
	// UseNmap enables the nmap-backed range sweep when the binary is
	// installed; the pure dialer is always the fallback
	UseNmap bool `yaml:"use_nmap"`
}

// ServiceConfig tunes the passive mDNS listener
type ServiceConfig struct {
	Enabled bool          `yaml:"enabled"`
	Window  time.Duration `yaml:"window"`
	// Types are the service-advertisement types to subscribe to
	Types []string `yaml:"types,omitempty"`
}

// PreDiscoveryConfig tunes the startup background pass
type PreDiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
	// SettleDelay waits out asynchronous OS network-permission grants
	SettleDelay time.Duration `yaml:"settle_delay"`
	// ServiceTimeout is the hard cap on the service-discovery phase
	ServiceTimeout time.Duration `yaml:"service_timeout"`
	// Budget caps the whole pass
	Budget time.Duration `yaml:"budget"`
	// PrioritySuffixes are host-octet values probed first; cameras
	// ship with a handful of statistically common defaults
	PrioritySuffixes []int `yaml:"priority_suffixes,omitempty"`
}

// VendorConfig tunes device identification
type VendorConfig struct {
	// ParamPath is the vendor parameter endpoint
	ParamPath string `yaml:"param_path"`
	// Markers identify the manufacturer in parameter output
	Markers []string `yaml:"markers,omitempty"`
	// SpeakerKeywords classify a product type as an audio peripheral
	SpeakerKeywords []string `yaml:"speaker_keywords,omitempty"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:3443"
	}
	if c.CachePath == "" {
		c.CachePath = "./camscout-cache.db"
	}
	if c.Scan.Concurrency <= 0 {
		c.Scan.Concurrency = 32
	}
	if c.Scan.ProbeTimeout <= 0 {
		c.Scan.ProbeTimeout = time.Second
	}
	if c.Scan.HTTPTimeout <= 0 {
		c.Scan.HTTPTimeout = 5 * time.Second
	}
	if c.Service.Window <= 0 {
		c.Service.Window = 3 * time.Second
		c.Service.Enabled = true
	}
	if len(c.Service.Types) == 0 {
		c.Service.Types = []string{"_axis-video._tcp", "_http._tcp", "_rtsp._tcp"}
	}
	if c.PreDiscovery.SettleDelay <= 0 {
		c.PreDiscovery.SettleDelay = 2 * time.Second
		c.PreDiscovery.Enabled = true
	}
	if c.PreDiscovery.ServiceTimeout <= 0 {
		c.PreDiscovery.ServiceTimeout = 4 * time.Second
	}
	if c.PreDiscovery.Budget <= 0 {
		c.PreDiscovery.Budget = 20 * time.Second
	}
	if len(c.PreDiscovery.PrioritySuffixes) == 0 {
		// Factory defaults and installer habits cluster on these octets
		c.PreDiscoverySuffixDefaults()
	}
	if c.Vendor.ParamPath == "" {
		c.Vendor.ParamPath = "/axis-cgi/param.cgi?action=list&group=Brand"
	}
	if len(c.Vendor.Markers) == 0 {
		c.Vendor.Markers = []string{"AXIS", "Axis Communications"}
	}
	if len(c.Vendor.SpeakerKeywords) == 0 {
		c.Vendor.SpeakerKeywords = []string{"speaker", "horn", "audio bridge", "sound"}
	}
}

// PreDiscoverySuffixDefaults fills the common camera host octets
func (c *Config) PreDiscoverySuffixDefaults() {
	c.PreDiscovery.PrioritySuffixes = []int{90, 88, 64, 100, 101, 108, 110, 156, 200, 201, 10, 11, 50, 2}
}
