package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tayyebi/smart-proxy/internal/shared/types"
)

// Default returns a fully populated configuration with the documented
// default for every key.
func Default() *types.Config {
	return &types.Config{
		RoutingMode: "latency",
		DNSServers: []types.DNSServerConf{
			{Host: "8.8.8.8", Port: 53, Name: "google"},
			{Host: "1.1.1.1", Port: 53, Name: "cloudflare"},
		},
		UpstreamProxies:          []types.UpstreamProxyConf{},
		Interfaces:               []string{"auto"},
		HealthCheckInterval:      60,
		AccessibilityTimeout:     5,
		DNSTimeout:               3.0,
		NetworkTimeout:           10,
		UserValidationTimeout:    15,
		MaxConcurrentConnections: 100,
		SuccessRateThreshold:     0.5,
		SuccessRateWindow:        10,
		LogConf: types.LogConf{
			LogLevel:       "info",
			LogFile:        "logs/proxy.log",
			LogMaxBytes:    10485760,
			LogBackupCount: 5,
		},
		ListenConf: types.ListenConf{
			ProxyListenHost: "127.0.0.1",
			ProxyListenPort: 2123,
			WebUIListenHost: "127.0.0.1",
			WebUIListenPort: 0,
		},
	}
}

// Load reads the JSON configuration document at path. A missing or
// malformed file never aborts startup: the defaults are returned instead.
// Unknown keys are ignored.
func Load(path string) *types.Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		// A partial decode may have clobbered some fields already.
		return Default()
	}

	sanitize(cfg)
	return cfg
}

// Save writes cfg back out as an indented JSON document.
func Save(path string, cfg *types.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// sanitize clamps out-of-range values back onto the defaults so a
// syntactically valid but nonsensical file cannot wedge the core.
func sanitize(cfg *types.Config) {
	switch cfg.RoutingMode {
	case "latency", "first_accessible", "round_robin":
	default:
		cfg.RoutingMode = "latency"
	}

	for i := range cfg.DNSServers {
		if cfg.DNSServers[i].Port <= 0 || cfg.DNSServers[i].Port > 65535 {
			cfg.DNSServers[i].Port = 53
		}
	}

	if cfg.SuccessRateThreshold < 0 || cfg.SuccessRateThreshold > 1 {
		cfg.SuccessRateThreshold = 0.5
	}
	if cfg.SuccessRateWindow <= 0 {
		cfg.SuccessRateWindow = 10
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 60
	}
	if cfg.AccessibilityTimeout == 0 {
		cfg.AccessibilityTimeout = 5
	}
	if cfg.DNSTimeout <= 0 {
		cfg.DNSTimeout = 3.0
	}
	if cfg.NetworkTimeout == 0 {
		cfg.NetworkTimeout = 10
	}
	if cfg.UserValidationTimeout == 0 {
		cfg.UserValidationTimeout = 15
	}
	if cfg.MaxConcurrentConnections <= 0 {
		cfg.MaxConcurrentConnections = 100
	}
	if len(cfg.Interfaces) == 0 {
		cfg.Interfaces = []string{"auto"}
	}
	if len(cfg.DNSServers) == 0 {
		cfg.DNSServers = Default().DNSServers
	}
}
