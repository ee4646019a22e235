package types

// DNSServerConf describes one recursive resolver the stub client may query.
type DNSServerConf struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	Name string `json:"name,omitempty"`
}

// UpstreamProxyConf describes an upstream proxy hop as it appears in the
// configuration file. Type is one of "http", "https", "socks4", "socks5".
type UpstreamProxyConf struct {
	Type string `json:"type"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LogConf contains logging specific configuration.
type LogConf struct {
	LogLevel       string `json:"log_level"`
	LogFile        string `json:"log_file"`
	LogMaxBytes    int    `json:"log_max_bytes"`
	LogBackupCount int    `json:"log_backup_count"`
}

// ListenConf contains the listen surfaces of the proxy front-end and the
// optional embedded status web UI. A web UI port of 0 disables it.
type ListenConf struct {
	ProxyListenHost string `json:"proxy_listen_host"`
	ProxyListenPort int    `json:"proxy_listen_port"`
	WebUIListenHost string `json:"webui_listen_host"`
	WebUIListenPort int    `json:"webui_listen_port"`
}

// Config is the unified configuration document. It is a single JSON
// object; unknown keys are ignored and a malformed file yields the
// defaults throughout.
type Config struct {
	RoutingMode     string              `json:"routing_mode"`
	DNSServers      []DNSServerConf     `json:"dns_servers"`
	UpstreamProxies []UpstreamProxyConf `json:"upstream_proxies"`

	// Interfaces lists local interface names to build runways from. The
	// literal "auto" means every IPv4 interface the inventory finds.
	Interfaces []string `json:"interfaces"`

	HealthCheckInterval      uint64  `json:"health_check_interval"`
	AccessibilityTimeout     uint64  `json:"accessibility_timeout"`
	DNSTimeout               float64 `json:"dns_timeout"`
	NetworkTimeout           uint64  `json:"network_timeout"`
	UserValidationTimeout    uint64  `json:"user_validation_timeout"`
	MaxConcurrentConnections int     `json:"max_concurrent_connections"`

	SuccessRateThreshold float64 `json:"success_rate_threshold"`
	SuccessRateWindow    int     `json:"success_rate_window"`

	LogConf
	ListenConf
}
