// Package config loads client and probe settings from RANGER_* environment
// variables and an optional YAML file of per-command pool overrides.
package config

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"ranger-rpc/command"
	"ranger-rpc/loadbalance"
	"ranger-rpc/registry"
	"ranger-rpc/target"
	"ranger-rpc/transport"
)

const envPrefix = "RANGER"

// Registry backends.
const (
	BackendEtcd   = "etcd"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds every RANGER_* setting.
type Config struct {
	// Registry
	Backend           string        `envconfig:"REGISTRY_BACKEND" default:"etcd"`
	EtcdEndpoints     []string      `envconfig:"ETCD_ENDPOINTS" default:"127.0.0.1:2379"`
	EtcdDialTimeout   time.Duration `envconfig:"ETCD_DIAL_TIMEOUT" default:"5s"`
	RedisAddr         string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPollInterval time.Duration `envconfig:"REDIS_POLL_INTERVAL" default:"2s"`
	KeyPrefix         string        `envconfig:"REGISTRY_KEY_PREFIX" default:"ranger"`

	// Discovery scope
	Environment       string   `envconfig:"ENVIRONMENT" default:"prod"`
	Namespace         string   `envconfig:"NAMESPACE" default:"default"`
	Services          []string `envconfig:"SERVICES"`
	Balancer          string   `envconfig:"BALANCER" default:"round_robin"`
	BalancerKey       string   `envconfig:"BALANCER_KEY"`
	VersionConstraint string   `envconfig:"VERSION_CONSTRAINT"`

	// Target
	Secured         bool   `envconfig:"SECURED" default:"false"`
	RootPathPrefix  string `envconfig:"ROOT_PATH_PREFIX"`
	FallbackAddress string `envconfig:"FALLBACK_ADDRESS"`
	FallbackURL     string `envconfig:"FALLBACK_URL"`

	// Command pools
	MaxConcurrent  int           `envconfig:"COMMAND_MAX_CONCURRENT" default:"10"`
	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"1s"`
	CommandRate    float64       `envconfig:"COMMAND_RATE" default:"0"`
	CommandBurst   int           `envconfig:"COMMAND_BURST" default:"0"`
	CommandsFile   string        `envconfig:"COMMANDS_FILE"`

	// Transport
	HTTPTimeout    time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
	RetryCount     int           `envconfig:"RETRY_COUNT" default:"0"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"100ms"`

	// Probe
	ProbeAddr string `envconfig:"PROBE_ADDR" default:":8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Commands holds overrides keyed "service.method", read from CommandsFile.
	Commands map[string]command.Settings `ignored:"true"`
}

// Load reads the environment, then CommandsFile if set, and validates.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, errors.Wrap(err, "config: process env")
	}
	if c.CommandsFile != "" {
		commands, err := LoadCommands(c.CommandsFile)
		if err != nil {
			return nil, err
		}
		c.Commands = commands
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

type commandsFile struct {
	Commands map[string]command.Settings `yaml:"commands"`
}

// LoadCommands reads per-command overrides:
//
//	commands:
//	  orders.Get:
//	    max_concurrent: 2
//	    timeout: 500ms
func LoadCommands(path string) (map[string]command.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}
	var out commandsFile
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", path)
	}
	return out.Commands, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return errors.New("config: RANGER_ETCD_ENDPOINTS is required for the etcd backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("config: RANGER_REDIS_ADDR is required for the redis backend")
		}
		if c.RedisPollInterval <= 0 {
			return errors.New("config: RANGER_REDIS_POLL_INTERVAL must be positive")
		}
	case BackendMemory:
	default:
		return errors.Errorf("config: RANGER_REGISTRY_BACKEND must be etcd|redis|memory, got %q", c.Backend)
	}
	if c.MaxConcurrent <= 0 {
		return errors.New("config: RANGER_COMMAND_MAX_CONCURRENT must be positive")
	}
	if c.CommandTimeout < 0 {
		return errors.New("config: RANGER_COMMAND_TIMEOUT must not be negative")
	}
	if c.CommandRate < 0 || c.CommandBurst < 0 {
		return errors.New("config: RANGER_COMMAND_RATE and RANGER_COMMAND_BURST must not be negative")
	}
	if c.RetryCount < 0 {
		return errors.New("config: RANGER_RETRY_COUNT must not be negative")
	}
	if c.FallbackAddress != "" && c.FallbackURL != "" {
		return errors.New("config: set RANGER_FALLBACK_ADDRESS or RANGER_FALLBACK_URL, not both")
	}
	for key, s := range c.Commands {
		if !strings.Contains(key, ".") {
			return errors.Errorf("config: command %q must be keyed service.method", key)
		}
		if s.MaxConcurrent < 0 || s.Timeout < 0 || s.Rate < 0 || s.Burst < 0 {
			return errors.Errorf("config: command %q has negative limits", key)
		}
	}
	if _, err := registry.NewCriteria(c.Environment, c.VersionConstraint); err != nil {
		return errors.Wrap(err, "config: RANGER_VERSION_CONSTRAINT")
	}
	return nil
}

// DefaultSettings are the pool settings for commands without an override.
func (c *Config) DefaultSettings() command.Settings {
	return command.Settings{
		MaxConcurrent: c.MaxConcurrent,
		Timeout:       c.CommandTimeout,
		Rate:          c.CommandRate,
		Burst:         c.CommandBurst,
	}
}

// CommandSettings merges overrides over the defaults; zero fields inherit.
func (c *Config) CommandSettings() map[string]command.Settings {
	defaults := c.DefaultSettings()
	out := make(map[string]command.Settings, len(c.Commands))
	for key, s := range c.Commands {
		if s.MaxConcurrent == 0 {
			s.MaxConcurrent = defaults.MaxConcurrent
		}
		if s.Timeout == 0 {
			s.Timeout = defaults.Timeout
		}
		if s.Rate == 0 {
			s.Rate, s.Burst = defaults.Rate, defaults.Burst
		}
		out[key] = s
	}
	return out
}

// Pools builds the command pool registry.
func (c *Config) Pools(logger log.Logger) *command.Pools {
	return command.NewPools(c.DefaultSettings(), c.CommandSettings(), logger)
}

// TargetConfig is the base-URL configuration shared by all services.
func (c *Config) TargetConfig() target.Config {
	return target.Config{
		Secured:         c.Secured,
		RootPathPrefix:  c.RootPathPrefix,
		FallbackAddress: c.FallbackAddress,
		FallbackURL:     c.FallbackURL,
	}
}

// NewBalancer returns a fresh balancer; each service needs its own.
func (c *Config) NewBalancer() loadbalance.Balancer {
	return loadbalance.New(c.Balancer, c.BalancerKey)
}

// Transport builds the HTTP transport.
func (c *Config) Transport(logger log.Logger) *transport.HTTPClient {
	return transport.NewHTTPClient(
		&http.Client{Timeout: c.HTTPTimeout},
		transport.Retryer{MaxRetries: c.RetryCount, BaseDelay: c.RetryBaseDelay},
		logger,
	)
}

// Registry connects the configured backend. The returned func releases it.
func (c *Config) Registry(logger log.Logger) (registry.Registry, func() error, error) {
	opts := []registry.Option{registry.WithLogger(logger), registry.WithKeyPrefix(c.KeyPrefix)}
	switch c.Backend {
	case BackendEtcd:
		reg, err := registry.NewEtcdRegistry(c.EtcdEndpoints, c.EtcdDialTimeout, opts...)
		if err != nil {
			return nil, nil, err
		}
		return reg, reg.Close, nil
	case BackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{c.RedisAddr}})
		return registry.NewRedisRegistry(client, c.RedisPollInterval, opts...), client.Close, nil
	default:
		return registry.NewMemoryRegistry(), func() error { return nil }, nil
	}
}

// NewLogger is a logfmt logger on stderr filtered to LogLevel.
func (c *Config) NewLogger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.WithPrefix(logger, "ts", log.DefaultTimestampUTC)
	logger = log.WithPrefix(logger, "caller", log.DefaultCaller)
	return level.NewFilter(logger, levelOption(c.LogLevel))
}

func levelOption(name string) level.Option {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	case "none":
		return level.AllowNone()
	default:
		return level.AllowInfo()
	}
}
