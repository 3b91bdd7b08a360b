package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"favprobe/pkg/version"
)

// Config holds the CLI and service configuration
type Config struct {
	ConfigFile string `yaml:"-"`

	// Input / output
	InputFile  string `yaml:"input"`
	OutputFile string `yaml:"output"`
	Targets    string `yaml:"targets"`
	CorpusFile string `yaml:"corpus"`
	Report     bool   `yaml:"report"`

	// Service mode
	Serve  bool   `yaml:"serve"`
	Listen string `yaml:"listen"`

	// Network
	HTTPPort           int    `yaml:"http_port"`
	HTTPSPort          int    `yaml:"https_port"`
	FollowRedirects    bool   `yaml:"follow_redirects"`
	MaxRedirects       int    `yaml:"max_redirects"`
	InsecureSkipVerify bool   `yaml:"insecure"`
	UserAgent          string `yaml:"user_agent"`
	Proxy              string `yaml:"proxy"`
	Resolver           string `yaml:"resolver"`
	MaxBodySize        int64  `yaml:"max_body_size"`

	// Rate limit / concurrency
	Timeout             int `yaml:"timeout"`
	TLSHandshakeTimeout int `yaml:"tls_handshake_timeout"`
	Concurrency         int `yaml:"concurrency"`
	RateLimit           int `yaml:"rate_limit"`
	RateLimitTimeout    int `yaml:"rate_limit_timeout"`
	MaxRangeSize        int `yaml:"max_range_size"`

	// Extras
	StoreIcons    bool   `yaml:"store_icons"`
	StoreIconsDir string `yaml:"store_icons_dir"`
	TechDetect    bool   `yaml:"tech_detect"`

	// Debug
	Debug        bool   `yaml:"debug"`
	Silent       bool   `yaml:"silent"`
	DebugLogFile string `yaml:"debug_log"`
	Version      bool   `yaml:"-"`

	Logger          *slog.Logger `yaml:"-"`
	DebugLogger     *slog.Logger `yaml:"-"`
	Usage           func()       `yaml:"-"`
	debugFileHandle *os.File
}

// New creates a new Config with default values
func New() *Config {
	return &Config{
		CorpusFile:          "favicons.xml",
		Listen:              ":8000",
		HTTPPort:            80,
		HTTPSPort:           443,
		FollowRedirects:     true,
		MaxRedirects:        10,
		UserAgent:           version.UserAgent(),
		MaxBodySize:         10 * 1024 * 1024, // 10 MB
		Timeout:             10,
		TLSHandshakeTimeout: 10,
		Concurrency:         20,
		RateLimit:           0, // unlimited
		RateLimitTimeout:    60,
		MaxRangeSize:        65536,
		StoreIconsDir:       "output",
	}
}

// ParseFlags parses os.Args into a config
func ParseFlags() (*Config, error) {
	return Parse(os.Args[1:])
}

// Parse builds a config from defaults, an optional YAML file named by
// -config, and finally the command-line flags, each layer overriding the last.
func Parse(args []string) (*Config, error) {
	cfg := New()

	if path := findConfigArg(args); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	fs := flag.NewFlagSet("favprobe", flag.ContinueOnError)
	formatter := RegisterFlags(fs, cfg)
	fs.Usage = func() {
		formatter.PrintUsage(fs.Output())
	}
	cfg.Usage = fs.Usage

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		// bare positional arguments are targets too
		extra := strings.Join(fs.Args(), ",")
		if cfg.Targets == "" {
			cfg.Targets = extra
		} else {
			cfg.Targets += "," + extra
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.setupLoggers(os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigArg extracts the -config value before the full flag set exists
func findConfigArg(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// LoadFile overlays the YAML document at path onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the prober cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Timeout < 1 {
		errs = append(errs, fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout))
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http port out of range (1-65535): %d", c.HTTPPort))
	}
	if c.HTTPSPort < 1 || c.HTTPSPort > 65535 {
		errs = append(errs, fmt.Errorf("https port out of range (1-65535): %d", c.HTTPSPort))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit cannot be negative: %d", c.RateLimit))
	}
	if c.MaxBodySize < 1 {
		errs = append(errs, fmt.Errorf("max body size must be positive: %d", c.MaxBodySize))
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid proxy URL: %w", err))
		} else {
			switch u.Scheme {
			case "http", "https", "socks5", "socks5h":
			default:
				errs = append(errs, fmt.Errorf("unsupported proxy scheme %q", u.Scheme))
			}
		}
	}
	if c.Silent && c.Debug {
		errs = append(errs, errors.New("-silent and -debug are mutually exclusive"))
	}
	return errors.Join(errs...)
}

// setupLoggers builds the structured logger and the optional debug file logger
func (c *Config) setupLoggers(stderr io.Writer) error {
	logLevel := slog.LevelInfo
	if c.Debug {
		logLevel = slog.LevelDebug
	}
	if c.Silent {
		logLevel = slog.LevelError
	}

	c.Logger = slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if c.DebugLogFile != "" {
		debugFile, err := os.Create(c.DebugLogFile)
		if err != nil {
			return fmt.Errorf("failed to create debug log file: %v", err)
		}
		c.debugFileHandle = debugFile
		c.DebugLogger = slog.New(slog.NewTextHandler(debugFile, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		c.Logger.Info("debug logging enabled", "file", c.DebugLogFile)
	}
	return nil
}

// Close cleans up the config's resources
func (c *Config) Close() error {
	if c.debugFileHandle != nil {
		return c.debugFileHandle.Close()
	}
	return nil
}

// HasPipedData checks if there is data being piped to stdin
func HasPipedData() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) == 0
}
