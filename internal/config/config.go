package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/ulule/limiter/v3"
	"gopkg.in/yaml.v3"
)

const (
	appName = "shrike"

	// RateLimitOff disables gateway rate limiting
	RateLimitOff = "off"
	// DefaultRateLimit leaves the gateway unthrottled unless configured
	DefaultRateLimit = RateLimitOff
)

// Config represents the complete shrike configuration
type Config struct {
	Store StoreConfig `yaml:"store"`
	Rsync RsyncConfig `yaml:"rsync"`
	Serve ServeConfig `yaml:"serve"`
}

// StoreConfig locates the entries and settings document
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RsyncConfig configures the mirroring process
type RsyncConfig struct {
	Binary   string `yaml:"binary"`
	LockFile string `yaml:"lock_file"`
}

// ServeConfig configures the webhook gateway
type ServeConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	TokenFile   string `yaml:"token_file"`
	SyncOnStart bool   `yaml:"sync_on_start"`
	RateLimit   string `yaml:"rate_limit"`
}

// DefaultPath returns $XDG_CONFIG_HOME/shrike/config.yaml, falling back to ~/.config
func DefaultPath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), appName, "config.yaml")
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads and parses the configuration file. When path is empty the
// default location is used and a missing file yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	path, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.expandEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields and a
// leading ~ in path fields
func (c *Config) expandEnv() error {
	c.Rsync.Binary = os.ExpandEnv(c.Rsync.Binary)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.RateLimit = os.ExpandEnv(c.Serve.RateLimit)

	for _, p := range []struct {
		name  string
		value *string
	}{
		{"store.path", &c.Store.Path},
		{"rsync.lock_file", &c.Rsync.LockFile},
		{"serve.token_file", &c.Serve.TokenFile},
	} {
		expanded, err := expandPath(*p.value)
		if err != nil {
			return fmt.Errorf("failed to expand %s: %w", p.name, err)
		}
		*p.value = expanded
	}
	return nil
}

func expandPath(path string) (string, error) {
	return homedir.Expand(os.ExpandEnv(path))
}

// applyDefaults fills in zero-value fields with sensible defaults.
// The listen address depends on the stored webhook port and is resolved by ListenAddr.
func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), appName, "shrike_data.json")
	}
	if c.Rsync.Binary == "" {
		c.Rsync.Binary = "rsync"
	}
	if c.Rsync.LockFile == "" {
		c.Rsync.LockFile = filepath.Join(filepath.Dir(c.Store.Path), "sync.lock")
	}
	if c.Serve.RateLimit == "" {
		c.Serve.RateLimit = DefaultRateLimit
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Rsync.Binary) == "" {
		return fmt.Errorf("rsync.binary is required")
	}

	for _, p := range []struct {
		name, value string
	}{
		{"store.path", c.Store.Path},
		{"rsync.lock_file", c.Rsync.LockFile},
		{"serve.token_file", c.Serve.TokenFile},
	} {
		if p.value != "" && !filepath.IsAbs(p.value) {
			return fmt.Errorf("%s must be an absolute path: %s", p.name, p.value)
		}
	}

	if c.Serve.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.Serve.ListenAddr); err != nil {
			return fmt.Errorf("invalid serve.listen_addr %q: %w", c.Serve.ListenAddr, err)
		}
	}

	if _, _, err := c.RateLimit(); err != nil {
		return err
	}

	return nil
}

// RateLimit parses serve.rate_limit ("<limit>-<S|M|H|D>"). The bool is false
// when limiting is disabled.
func (c *Config) RateLimit() (limiter.Rate, bool, error) {
	if c.Serve.RateLimit == RateLimitOff {
		return limiter.Rate{}, false, nil
	}
	rate, err := limiter.NewRateFromFormatted(c.Serve.RateLimit)
	if err != nil {
		return limiter.Rate{}, false, fmt.Errorf("invalid serve.rate_limit %q: %w", c.Serve.RateLimit, err)
	}
	return rate, true, nil
}

// ListenAddr returns the configured gateway address, or loopback on port
func (c *Config) ListenAddr(port int) string {
	if c.Serve.ListenAddr != "" {
		return c.Serve.ListenAddr
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// ReadToken returns the trimmed contents of serve.token_file, or "" when unset
func (c *Config) ReadToken() (string, error) {
	if c.Serve.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Serve.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" && filepath.IsAbs(dir) {
		return dir
	}
	home, err := homedir.Dir()
	if err != nil {
		// No home: stay relative to the working directory.
		return fallback
	}
	return filepath.Join(home, fallback)
}
