// Package config loads process configuration from a YAML or JSON file with
// RPC_* environment overrides, e.g. RPC_CLIENT_TIMEOUT=2s or RPC_LOG_LEVEL=debug.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	spfviper "github.com/spf13/viper"

	"reqrep-rpc/log"
	"reqrep-rpc/protocol"
	"reqrep-rpc/registry"
	"reqrep-rpc/retry"
	"reqrep-rpc/transport"
)

const envPrefix = "RPC"

type ServerConfig struct {
	// Addrs are the listen addresses; one serving loop runs per address.
	Addrs         []string `mapstructure:"addrs"`
	ServiceName   string   `mapstructure:"service-name"`
	AdvertiseAddr string   `mapstructure:"advertise-addr"`
}

type ClientConfig struct {
	// Addr is dialed directly; when empty the server is looked up by ServiceName.
	Addr        string        `mapstructure:"addr"`
	ServiceName string        `mapstructure:"service-name"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PoolSize    int           `mapstructure:"pool-size"`
}

type RateLimitConfig struct {
	// PerSecond of 0 disables rate limiting.
	PerSecond float64 `mapstructure:"per-second"`
	Burst     int     `mapstructure:"burst"`
}

type MetricsConfig struct {
	// Addr serves /metrics; empty disables it.
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Client    ClientConfig     `mapstructure:"client"`
	Registry  registry.Config  `mapstructure:"registry"`
	Transport transport.Config `mapstructure:"transport"`
	Log       log.Config       `mapstructure:"log"`
	RateLimit RateLimitConfig  `mapstructure:"rate-limit"`
	Retry     retry.Config     `mapstructure:"retry"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

// Loader wraps a viper instance with the defaults of Config registered, so that
// every key can also be set from the environment.
type Loader struct {
	v *spfviper.Viper
}

func New() *Loader {
	v := spfviper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

func setDefaults(v *spfviper.Viper) {
	tc := transport.DefaultConfig()
	rc := retry.DefaultConfig()

	v.SetDefault("server.addrs", []string{":5555"})
	v.SetDefault("server.service-name", "reqrep")
	v.SetDefault("server.advertise-addr", "")

	v.SetDefault("client.addr", "127.0.0.1:5555")
	v.SetDefault("client.service-name", "reqrep")
	v.SetDefault("client.timeout", 3*time.Second)
	v.SetDefault("client.pool-size", 4)

	v.SetDefault("registry.endpoints", []string{})
	v.SetDefault("registry.dial-timeout", 5*time.Second)
	v.SetDefault("registry.prefix", registry.DefaultPrefix)
	v.SetDefault("registry.ttl", 10)

	v.SetDefault("transport.dial-timeout", tc.DialTimeout)
	v.SetDefault("transport.recv-timeout", tc.RecvTimeout)
	v.SetDefault("transport.write-timeout", tc.WriteTimeout)
	v.SetDefault("transport.max-body-len", protocol.DefaultMaxBodyLen)
	v.SetDefault("transport.compress", tc.Compress)
	v.SetDefault("transport.compress-threshold", tc.CompressThreshold)
	v.SetDefault("transport.inbox-size", tc.InboxSize)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.rootpath", "")
	v.SetDefault("log.file.filename", "")
	v.SetDefault("log.file.max-size", 300)
	v.SetDefault("log.file.max-days", 0)
	v.SetDefault("log.file.max-backups", 0)
	v.SetDefault("log.development", false)
	v.SetDefault("log.disable-caller", false)
	v.SetDefault("log.disable-stacktrace", false)
	v.SetDefault("log.rated-log-per-second", 1.0)

	v.SetDefault("rate-limit.per-second", 0.0)
	v.SetDefault("rate-limit.burst", 0)

	v.SetDefault("retry.max-attempts", rc.MaxAttempts)
	v.SetDefault("retry.initial-interval", rc.InitialInterval)
	v.SetDefault("retry.max-interval", rc.MaxInterval)

	v.SetDefault("metrics.addr", "")
}

// LoadFile reads a YAML or JSON file; the type follows the extension.
func (l *Loader) LoadFile(path string) error {
	l.v.SetConfigFile(path)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		l.v.SetConfigType("yaml")
	case ".json":
		l.v.SetConfigType("json")
	}
	return errors.Wrapf(l.v.ReadInConfig(), "read config %s", path)
}

func (l *Loader) Unmarshal(dst any) error {
	return l.v.Unmarshal(dst)
}

func (l *Loader) UnmarshalKey(key string, dst any) error {
	return l.v.UnmarshalKey(key, dst)
}

// Set overrides a key, e.g. from a command-line flag.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load returns the configuration from path, or only defaults and environment when path is empty.
func Load(path string) (*Config, error) {
	l := New()
	if path != "" {
		if err := l.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg := &Config{}
	if err := l.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}
