package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	fetchrules "github.com/bassam-ai/offline-cache/pkg/fetch-rules"
)

// EnvPrefix is the prefix of all environment variables read by Load.
const EnvPrefix = "OFFLINE_CACHE_"

// MemoryDB selects the in-memory cache provider.
const MemoryDB = "memory"

var (
	ErrUnknownFormat = errors.New("unknown config file format")
	ErrInvalid       = errors.New("invalid config")
)

type Config struct {
	// Address to listen on.
	Listen string `yaml:"listen" toml:"listen"`
	// Address of the admin endpoints. They are not served if empty.
	AdminListen string `yaml:"adminListen" toml:"adminListen"`
	// URL of the origin server.
	Origin string `yaml:"origin" toml:"origin"`
	// Hostname to use for requests to the origin, if it differs from the origin URL.
	OriginHost string `yaml:"originHost" toml:"originHost"`
	// Name of the cache store of this version.
	CacheName string `yaml:"cacheName" toml:"cacheName"`
	// Paths pre-cached on install.
	OfflineURLs []string `yaml:"offlineUrls" toml:"offlineUrls"`
	// Cache DB file name, or "memory".
	DB string `yaml:"db" toml:"db"`
	// Timeout of requests to the origin.
	ClientTimeout time.Duration `yaml:"clientTimeout" toml:"clientTimeout"`
	// Optional fetch strategy rules.
	Rules fetchrules.Rules `yaml:"rules" toml:"rules"`
	// Log file to use in addition to stdout.
	LogFile string `yaml:"logFile" toml:"logFile"`
}

// envConfig holds the settings that can be overridden by environment variables.
type envConfig struct {
	Listen        string        `env:"LISTEN"`
	AdminListen   string        `env:"ADMIN_LISTEN"`
	Origin        string        `env:"ORIGIN"`
	OriginHost    string        `env:"ORIGIN_HOST"`
	CacheName     string        `env:"CACHE_NAME"`
	OfflineURLs   []string      `env:"OFFLINE_URLS"`
	DB            string        `env:"DB"`
	ClientTimeout time.Duration `env:"CLIENT_TIMEOUT"`
	LogFile       string        `env:"LOG_FILE"`
}

func Default() Config {
	return Config{
		Listen:        ":8080",
		CacheName:     "bassam-ai-cache-v1",
		OfflineURLs:   []string{"/", "/static/manifest.json"},
		DB:            "cache.db",
		ClientTimeout: 30 * time.Second,
	}
}

// Load returns the default config, overlaid by the given file (if any)
// and then by environment variables.
// The file format is picked by extension: .yaml, .yml or .toml.
func Load(filename string) (Config, error) {
	config := Default()
	if filename != "" {
		if err := decodeFile(filename, &config); err != nil {
			return config, err
		}
	}
	if err := overlayEnv(&config); err != nil {
		return config, err
	}
	return config, nil
}

func decodeFile(filename string, config *Config) error {
	b, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, config)
	case ".toml":
		_, err = toml.Decode(string(b), config)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	return nil
}

func overlayEnv(config *Config) error {
	var e envConfig
	if err := env.ParseWithOptions(&e, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	setString(&config.Listen, e.Listen)
	setString(&config.AdminListen, e.AdminListen)
	setString(&config.Origin, e.Origin)
	setString(&config.OriginHost, e.OriginHost)
	setString(&config.CacheName, e.CacheName)
	setString(&config.DB, e.DB)
	setString(&config.LogFile, e.LogFile)
	if len(e.OfflineURLs) > 0 {
		config.OfflineURLs = e.OfflineURLs
	}
	if e.ClientTimeout > 0 {
		config.ClientTimeout = e.ClientTimeout
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// Validate checks the config before it is used.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address missing", ErrInvalid)
	}
	if c.AdminListen == c.Listen {
		return fmt.Errorf("%w: admin endpoints need their own listen address", ErrInvalid)
	}
	if _, err := c.OriginURL(); err != nil {
		return err
	}
	if c.CacheName == "" {
		return fmt.Errorf("%w: cache name missing", ErrInvalid)
	}
	for _, u := range c.OfflineURLs {
		if !strings.HasPrefix(u, "/") {
			return fmt.Errorf("%w: offline URL %q is not a path", ErrInvalid, u)
		}
	}
	if c.DB == "" {
		return fmt.Errorf("%w: db missing", ErrInvalid)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// OriginURL parses the origin.
func (c Config) OriginURL() (url.URL, error) {
	if c.Origin == "" {
		return url.URL{}, fmt.Errorf("%w: origin missing", ErrInvalid)
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return url.URL{}, fmt.Errorf("%w: origin: %w", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return url.URL{}, fmt.Errorf("%w: origin %q needs an http(s) scheme", ErrInvalid, c.Origin)
	}
	return *u, nil
}
