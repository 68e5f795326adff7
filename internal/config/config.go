package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	RegistryDriverMemory = "memory"
	RegistryDriverSQLite = "sqlite"
	RegistryDriverRedis  = "redis"

	envPrefix = "COPYTODOWNLOAD_"

	defaultListen         = "127.0.0.1:8080"
	defaultWorkers        = 4
	defaultBufferSize     = 64 * 1024
	defaultRequestTimeout = 30 * time.Second
	defaultNotifyTimeout  = 2 * time.Second
	defaultRedisChannel   = "copytodownload:completed"
)

type RegistryConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

type NotifyConfig struct {
	Log          bool   `yaml:"log"`
	RedisURL     string `yaml:"redis_url"`
	RedisChannel string `yaml:"redis_channel"`
}

// FSAdapterConfig is the part of the config the file system adapter needs.
type FSAdapterConfig struct {
	SourceRoot   string
	DownloadsDir string
	BufferSize   int
}

type Config struct {
	Listen         string         `yaml:"listen"`
	LogLevel       string         `yaml:"log_level"`
	SourceRoot     string         `yaml:"source_root"`
	DownloadsDir   string         `yaml:"downloads_dir"`
	Workers        int            `yaml:"workers"`
	BufferSize     int            `yaml:"buffer_size"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	NotifyTimeout  time.Duration  `yaml:"notify_timeout"`
	Registry       RegistryConfig `yaml:"registry"`
	Notify         NotifyConfig   `yaml:"notify"`
}

func (c *Config) SetDefaults() {
	c.Listen = defaultListen
	c.LogLevel = LogLevelInfo
	c.SourceRoot = "/"
	c.DownloadsDir = defaultDownloadsDir()
	c.Workers = defaultWorkers
	c.BufferSize = defaultBufferSize
	c.RequestTimeout = defaultRequestTimeout
	c.NotifyTimeout = defaultNotifyTimeout
	c.Registry.Driver = RegistryDriverMemory
	c.Notify.Log = true
	c.Notify.RedisChannel = defaultRedisChannel
}

func (c *Config) FSAdapterConfig() *FSAdapterConfig {
	return &FSAdapterConfig{
		SourceRoot:   c.SourceRoot,
		DownloadsDir: c.DownloadsDir,
		BufferSize:   c.BufferSize,
	}
}

func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown log level: %s", c.LogLevel)
	}

	switch c.Registry.Driver {
	case RegistryDriverMemory:
	case RegistryDriverSQLite:
		if c.Registry.Path == "" {
			return fmt.Errorf("registry path is required for driver %s", c.Registry.Driver)
		}
	case RegistryDriverRedis:
		if c.Registry.RedisURL == "" {
			return fmt.Errorf("registry redis_url is required for driver %s", c.Registry.Driver)
		}
	default:
		return fmt.Errorf("unknown registry driver: %s", c.Registry.Driver)
	}

	if c.SourceRoot == "" {
		return fmt.Errorf("source_root is required")
	}

	if c.DownloadsDir == "" {
		return fmt.Errorf("downloads_dir is required")
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}

	if c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}

	return nil
}

// Load reads the yaml file at path (if it exists), then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("cannot read config %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func (c *Config) applyEnv() error {
	strVars := map[string]*string{
		"LISTEN":               &c.Listen,
		"LOG_LEVEL":            &c.LogLevel,
		"SOURCE_ROOT":          &c.SourceRoot,
		"DOWNLOADS_DIR":        &c.DownloadsDir,
		"REGISTRY_DRIVER":      &c.Registry.Driver,
		"REGISTRY_PATH":        &c.Registry.Path,
		"REDIS_URL":            &c.Registry.RedisURL,
		"NOTIFY_REDIS":         &c.Notify.RedisURL,
		"NOTIFY_REDIS_CHANNEL": &c.Notify.RedisChannel,
	}
	for name, dst := range strVars {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	intVars := map[string]*int{
		"WORKERS":     &c.Workers,
		"BUFFER_SIZE": &c.BufferSize,
	}
	for name, dst := range intVars {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("cannot parse %s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}

	durationVars := map[string]*time.Duration{
		"REQUEST_TIMEOUT": &c.RequestTimeout,
		"NOTIFY_TIMEOUT":  &c.NotifyTimeout,
	}
	for name, dst := range durationVars {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("cannot parse %s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "NOTIFY_LOG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("cannot parse %sNOTIFY_LOG: %w", envPrefix, err)
		}
		c.Notify.Log = b
	}

	return nil
}

func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "Downloads"
	}

	return home + string(os.PathSeparator) + "Downloads"
}
