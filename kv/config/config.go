package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

const (
	EngineMem    = "mem"
	EngineBadger = "badger"
)

type Config struct {
	StoreAddr string `toml:"store-addr"` // Listen address of the admin HTTP API.
	Engine    string `toml:"engine"`     // "mem" or "badger".
	DBPath    string `toml:"db-path"`    // Directory to store the data in. Should exist and be writable.

	Log  Log  `toml:"log"`
	Txn  Txn  `toml:"txn"`
	Auth Auth `toml:"auth"`

	// Max entries returned by one dequeue call when the caller does not ask for a size.
	DequeueBatch int `toml:"dequeue-batch"`
	// Max queue rows deleted per second by the invalid-write collector. 0 means unlimited.
	GCRateLimit int `toml:"gc-rate-limit"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json".
	File   string `toml:"file"`   // Empty logs to stderr.
}

type Txn struct {
	// Short transactions older than this are invalidated by the janitor. 0 disables the check.
	Timeout Duration `toml:"timeout"`
	// Same for long running transactions. 0 disables the check.
	LongTimeout Duration `toml:"long-timeout"`
	// How often the janitor runs timeout invalidation, invalid GC and pruning.
	JanitorInterval Duration `toml:"janitor-interval"`
	// Ids are persisted ahead of allocation in windows of this size.
	IDBatchSize uint64 `toml:"id-batch-size"`
}

type Auth struct {
	// Base URL of the remote privileges service. Empty disables write path authorization.
	PrivilegesAddr string   `toml:"privileges-addr"`
	CacheSize int `toml:"cache-size"`
	// Cached privileges are reloaded after this long, bounding how late a remote revoke is seen. Zero never reloads.
	CacheTTL       Duration `toml:"cache-ttl"`
	RequestTimeout Duration `toml:"request-timeout"`
}

// Duration is a time.Duration which reads "10s" style strings from toml.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (c *Config) Validate() error {
	if c.Engine != EngineMem && c.Engine != EngineBadger {
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.Engine == EngineBadger && c.DBPath == "" {
		return fmt.Errorf("db-path must be set for the badger engine")
	}
	if c.Txn.IDBatchSize == 0 {
		return fmt.Errorf("id-batch-size must be greater than 0")
	}
	if c.Txn.JanitorInterval.Duration <= 0 {
		return fmt.Errorf("janitor-interval must be greater than 0")
	}
	if c.Txn.Timeout.Duration < 0 || c.Txn.LongTimeout.Duration < 0 {
		return fmt.Errorf("transaction timeouts must not be negative")
	}
	if c.Txn.LongTimeout.Duration != 0 && c.Txn.LongTimeout.Duration < c.Txn.Timeout.Duration {
		log.Warn("long transaction timeout is shorter than the short transaction timeout")
	}
	if c.DequeueBatch <= 0 {
		return fmt.Errorf("dequeue-batch must be greater than 0")
	}
	if c.GCRateLimit < 0 {
		return fmt.Errorf("gc-rate-limit must not be negative")
	}
	if c.Auth.PrivilegesAddr != "" && c.Auth.CacheSize <= 0 {
		return fmt.Errorf("auth cache-size must be greater than 0")
	}
	if c.Auth.CacheTTL.Duration < 0 {
		return fmt.Errorf("auth cache-ttl must not be negative")
	}
	return nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		StoreAddr: "127.0.0.1:20170",
		Engine:    EngineBadger,
		DBPath:    "/tmp/txqueue",
		Log: Log{
			Level:  getLogLevel(),
			Format: "text",
		},
		Txn: Txn{
			Timeout:         NewDuration(30 * time.Second),
			LongTimeout:     NewDuration(0),
			JanitorInterval: NewDuration(10 * time.Second),
			IDBatchSize:     10000,
		},
		Auth: Auth{
			CacheSize:      1024,
			CacheTTL:       NewDuration(time.Minute),
			RequestTimeout: NewDuration(5 * time.Second),
		},
		DequeueBatch: 100,
		GCRateLimit:  10000,
	}
}

func NewTestConfig() *Config {
	return &Config{
		StoreAddr: "127.0.0.1:0",
		Engine:    EngineMem,
		Log: Log{
			Level:  getLogLevel(),
			Format: "text",
		},
		Txn: Txn{
			Timeout:         NewDuration(time.Second),
			JanitorInterval: NewDuration(50 * time.Millisecond),
			IDBatchSize:     16,
		},
		Auth: Auth{
			CacheSize:      16,
			CacheTTL:       NewDuration(time.Second),
			RequestTimeout: NewDuration(time.Second),
		},
		DequeueBatch: 10,
	}
}

// LoadFile overlays the toml file at path onto the defaults.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.WithStack(err)
	}
	return conf, nil
}
