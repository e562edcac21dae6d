package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[dns]
upstream = "198.51.100.1:53"
timeout = "2s"

[metrics]
listen = ":9200"

[pools.default]
interfaces = ["eth0"]
network = "192.168.1.0/24"
start = 10
end = 200
algorithm = "sequential"
lifetime = "12h"
`

func TestLoadFromStringParsesPools(t *testing.T) {
	cfg, err := LoadFromString(sampleTOML)
	require.NoError(t, err)

	require.Equal(t, "198.51.100.1:53", cfg.DNS.Upstream)
	require.Equal(t, ":9200", cfg.Metrics.Listen)

	pool, ok := cfg.Pools["default"]
	require.True(t, ok)
	require.Equal(t, 10, pool.Start)
	require.Equal(t, 200, pool.End)
	require.Equal(t, "sequential", pool.Algorithm)

	lease, err := pool.LeaseDuration()
	require.NoError(t, err)
	require.Equal(t, 12*time.Hour, lease)
}

func TestLoadFromStringRejectsMalformedTOML(t *testing.T) {
	_, err := LoadFromString("this is not [ toml")
	require.Error(t, err)
}

func TestLoadFromPathMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Contains(t, cfg.Pools, "default")
	require.Equal(t, "8.8.8.8:53", cfg.DNS.Upstream)
}

func TestLoadFromPathMalformedFileIsHardError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [ valid"), 0o644))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestResolverTimeoutDefault(t *testing.T) {
	d := DNSConfig{}
	timeout, err := d.ResolverTimeout()
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, timeout)
}
