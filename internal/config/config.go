// Package config loads the TOML configuration file describing DHCP
// pools, the DNS upstream and metrics/logging knobs, grounded on
// eplightning-godhcpd's internal/config.go. Unlike that original, a
// malformed file is a hard error rather than a silent fall-back to
// defaults (SPEC_FULL.md §4.9): defaults only cover the case where the
// named file does not exist.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// PoolConfig describes one address pool served by the DHCP daemon.
type PoolConfig struct {
	Interfaces []string
	Network    string
	Start      int
	End        int
	Algorithm  string
	Lifetime   string
}

// DNSConfig describes the out-query cache's upstream resolver.
type DNSConfig struct {
	Upstream string
	Timeout  string
}

// MetricsConfig describes where Prometheus metrics are exposed.
type MetricsConfig struct {
	Listen string
}

// Config is the root of the TOML document.
type Config struct {
	Pools   map[string]PoolConfig
	DNS     DNSConfig
	Metrics MetricsConfig
}

// ConfigError wraps a read or TOML decode failure with the offending
// path ("<string>" when the document came from LoadFromString).
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func defaultConfig() Config {
	return Config{
		Pools: map[string]PoolConfig{
			"default": {
				Interfaces: []string{"eth0"},
				Network:    "192.168.99.0/24",
				Start:      2,
				End:        99,
				Algorithm:  "random",
				Lifetime:   "24h",
			},
		},
		DNS: DNSConfig{
			Upstream: "8.8.8.8:53",
			Timeout:  "3s",
		},
		Metrics: MetricsConfig{
			Listen: ":9116",
		},
	}
}

// LoadFromPath loads Config from a TOML file at path. A missing file
// returns the built-in defaults; a present-but-malformed file returns
// a *ConfigError.
func LoadFromPath(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// LoadFromString decodes a TOML document into a Config. A malformed
// document returns a *ConfigError.
func LoadFromString(text string) (Config, error) {
	var cfg Config
	if _, err := toml.Decode(text, &cfg); err != nil {
		return Config{}, &ConfigError{Path: "<string>", Err: err}
	}
	return cfg, nil
}

// LeaseDuration parses a PoolConfig's Lifetime field, defaulting to
// 24h when unset.
func (p PoolConfig) LeaseDuration() (time.Duration, error) {
	if p.Lifetime == "" {
		return 24 * time.Hour, nil
	}
	return time.ParseDuration(p.Lifetime)
}

// ResolverTimeout parses a DNSConfig's Timeout field, defaulting to 3s.
func (d DNSConfig) ResolverTimeout() (time.Duration, error) {
	if d.Timeout == "" {
		return 3 * time.Second, nil
	}
	return time.ParseDuration(d.Timeout)
}
