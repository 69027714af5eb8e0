package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SubscriptionFetchConfig tunes subscription feed downloads.
type SubscriptionFetchConfig struct {
	// Timeout is the HTTP timeout, e.g. "30s".
	Timeout string `yaml:"timeout,omitempty"`
	// UserAgent is sent with every feed request.
	UserAgent string `yaml:"user_agent,omitempty"`
	// MaxBodyBytes caps the feed response size.
	MaxBodyBytes int64 `yaml:"max_body_bytes,omitempty"`
}

// NetConfig holds network enrichment endpoints.
type NetConfig struct {
	// STUNServers are queried for the public mapped address.
	STUNServers []string `yaml:"stun_servers,omitempty"`
	// GeoEndpoint is the base URL of the geo-IP lookup service.
	GeoEndpoint string `yaml:"geo_endpoint,omitempty"`
}

// EngineConfig locates the external tunnel engine.
type EngineConfig struct {
	// Binary is the path to the engine executable. Relative paths are
	// resolved against the application directory.
	Binary string `yaml:"binary,omitempty"`
	// DataDir is where the rendered config and engine cache live.
	DataDir string `yaml:"data_dir,omitempty"`
	// ProxyHost/ProxyPort is the local HTTP proxy inbound exposed by the
	// engine and pointed at by the system proxy.
	ProxyHost string `yaml:"proxy_host,omitempty"`
	ProxyPort int    `yaml:"proxy_port,omitempty"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Engine       EngineConfig            `yaml:"engine,omitempty"`
	StatePath    string                  `yaml:"state_path,omitempty"`
	Subscription SubscriptionFetchConfig `yaml:"subscription,omitempty"`
	Net          NetConfig               `yaml:"net,omitempty"`
	Logging      LogConfig               `yaml:"logging,omitempty"`
}

// FetchTimeout returns the parsed subscription timeout.
func (c AppConfig) FetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Subscription.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ApplyDefaults fills unset fields with working defaults.
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Engine.Binary == "" {
		cfg.Engine.Binary = filepath.Join("core", "sing-box")
	}
	if cfg.Engine.DataDir == "" {
		cfg.Engine.DataDir = defaultDataDir()
	}
	if cfg.Engine.ProxyHost == "" {
		cfg.Engine.ProxyHost = "127.0.0.1"
	}
	if cfg.Engine.ProxyPort == 0 {
		cfg.Engine.ProxyPort = 10809
	}
	if cfg.StatePath == "" {
		cfg.StatePath = filepath.Join(cfg.Engine.DataDir, "state.json")
	}
	if cfg.Subscription.Timeout == "" {
		cfg.Subscription.Timeout = "30s"
	}
	if cfg.Subscription.UserAgent == "" {
		cfg.Subscription.UserAgent = "VeilBox/1.0"
	}
	if cfg.Subscription.MaxBodyBytes == 0 {
		cfg.Subscription.MaxBodyBytes = 2 << 20
	}
	if len(cfg.Net.STUNServers) == 0 {
		cfg.Net.STUNServers = []string{"stun.l.google.com:19302", "stun.cloudflare.com:3478"}
	}
	if cfg.Net.GeoEndpoint == "" {
		cfg.Net.GeoEndpoint = "https://ipapi.co"
	}
}

func defaultDataDir() string {
	if v := os.Getenv("LOCALAPPDATA"); v != "" {
		return filepath.Join(v, "VeilBox")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "veilbox-data"
	}
	return filepath.Join(home, ".veilbox")
}

// ConfigManager handles loading and saving the application configuration.
type ConfigManager struct {
	mu       sync.RWMutex
	config   AppConfig
	filePath string
}

// NewConfigManager creates a config manager that reads from the given file.
func NewConfigManager(filePath string) *ConfigManager {
	return &ConfigManager{filePath: filePath}
}

// Load reads and parses the configuration from disk.
// If the config file does not exist, it creates one with default values.
func (cm *ConfigManager) Load() error {
	data, err := os.ReadFile(cm.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			Log.Infof("Store", "Config %s not found, creating default config", cm.filePath)
			var cfg AppConfig
			ApplyDefaults(&cfg)
			cm.mu.Lock()
			cm.config = cfg
			cm.mu.Unlock()
			if saveErr := cm.Save(); saveErr != nil {
				return fmt.Errorf("create default config: %w", saveErr)
			}
			return nil
		}
		return fmt.Errorf("read config %s: %w", cm.filePath, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	ApplyDefaults(&cfg)

	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()
	return nil
}

// Save writes the current configuration to disk.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	data, err := yaml.Marshal(&cm.config)
	cm.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cm.filePath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(cm.filePath, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", cm.filePath, err)
	}
	return nil
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() AppConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}
