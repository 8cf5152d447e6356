package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	require.Nil(t, NewDefaultConfig().Validate())
	require.Nil(t, NewTestConfig().Validate())
}

func TestValidate(t *testing.T) {
	cases := []func(c *Config){
		func(c *Config) { c.Engine = "rocks" },
		func(c *Config) { c.Engine = EngineBadger; c.DBPath = "" },
		func(c *Config) { c.Txn.IDBatchSize = 0 },
		func(c *Config) { c.Txn.JanitorInterval = NewDuration(0) },
		func(c *Config) { c.Txn.Timeout = NewDuration(-time.Second) },
		func(c *Config) { c.DequeueBatch = 0 },
		func(c *Config) { c.GCRateLimit = -1 },
		func(c *Config) { c.Auth.PrivilegesAddr = "http://127.0.0.1:1"; c.Auth.CacheSize = 0 },
		func(c *Config) { c.Auth.CacheTTL = NewDuration(-time.Second) },
	}
	for i, mutate := range cases {
		c := NewTestConfig()
		mutate(c)
		assert.NotNil(t, c.Validate(), "case %d", i)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txq.toml")
	content := `
store-addr = "0.0.0.0:9000"
engine = "mem"
dequeue-batch = 7

[log]
level = "debug"

[txn]
timeout = "2m"
janitor-interval = "1s"
id-batch-size = 64

[auth]
privileges-addr = "http://auth:8080"
cache-ttl = "15s"
`
	require.Nil(t, os.WriteFile(path, []byte(content), 0644))

	conf, err := LoadFile(path)
	require.Nil(t, err)
	assert.Equal(t, "0.0.0.0:9000", conf.StoreAddr)
	assert.Equal(t, EngineMem, conf.Engine)
	assert.Equal(t, 7, conf.DequeueBatch)
	assert.Equal(t, "debug", conf.Log.Level)
	assert.Equal(t, 2*time.Minute, conf.Txn.Timeout.Duration)
	assert.Equal(t, time.Second, conf.Txn.JanitorInterval.Duration)
	assert.Equal(t, uint64(64), conf.Txn.IDBatchSize)
	assert.Equal(t, "http://auth:8080", conf.Auth.PrivilegesAddr)
	assert.Equal(t, 15*time.Second, conf.Auth.CacheTTL.Duration)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1024, conf.Auth.CacheSize)
	require.Nil(t, conf.Validate())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.NotNil(t, err)
}
