package config

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	defer cfg.Close()

	if cfg.Concurrency != 20 {
		t.Errorf("Concurrency = %d, want 20", cfg.Concurrency)
	}
	if cfg.Timeout != 10 {
		t.Errorf("Timeout = %d, want 10", cfg.Timeout)
	}
	if cfg.HTTPPort != 80 || cfg.HTTPSPort != 443 {
		t.Errorf("ports = %d/%d, want 80/443", cfg.HTTPPort, cfg.HTTPSPort)
	}
	if cfg.CorpusFile != "favicons.xml" {
		t.Errorf("CorpusFile = %q", cfg.CorpusFile)
	}
	if !cfg.FollowRedirects {
		t.Error("FollowRedirects should default to true")
	}
	if cfg.Logger == nil {
		t.Error("Logger should be initialized")
	}
}

func TestParse_Flags(t *testing.T) {
	cfg, err := Parse([]string{
		"-t", "10.0.0.1,10.0.0.2-10.0.0.4",
		"-c", "5",
		"-to", "3",
		"--report",
		"-http-port", "8080",
		"-x", "socks5://127.0.0.1:1080",
	})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	defer cfg.Close()

	if cfg.Targets != "10.0.0.1,10.0.0.2-10.0.0.4" {
		t.Errorf("Targets = %q", cfg.Targets)
	}
	if cfg.Concurrency != 5 || cfg.Timeout != 3 {
		t.Errorf("Concurrency/Timeout = %d/%d, want 5/3", cfg.Concurrency, cfg.Timeout)
	}
	if !cfg.Report {
		t.Error("Report should be set")
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.Proxy != "socks5://127.0.0.1:1080" {
		t.Errorf("Proxy = %q", cfg.Proxy)
	}
}

func TestParse_PositionalTargets(t *testing.T) {
	cfg, err := Parse([]string{"-t", "10.0.0.1", "10.0.0.2", "10.0.0.3"})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	defer cfg.Close()

	if cfg.Targets != "10.0.0.1,10.0.0.2,10.0.0.3" {
		t.Errorf("Targets = %q", cfg.Targets)
	}
}

func TestParse_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "favprobe.yaml")
	doc := "concurrency: 7\ncorpus: /etc/favprobe/favicons.xml\nhttps_port: 8443\ntech_detect: true\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Parse([]string{"-config", path, "-c", "9"})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	defer cfg.Close()

	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	// flags override the file
	if cfg.Concurrency != 9 {
		t.Errorf("Concurrency = %d, want 9", cfg.Concurrency)
	}
	if cfg.CorpusFile != "/etc/favprobe/favicons.xml" {
		t.Errorf("CorpusFile = %q", cfg.CorpusFile)
	}
	if cfg.HTTPSPort != 8443 {
		t.Errorf("HTTPSPort = %d, want 8443", cfg.HTTPSPort)
	}
	if !cfg.TechDetect {
		t.Error("TechDetect should come from the file")
	}
	// untouched keys keep their defaults
	if cfg.Timeout != 10 {
		t.Errorf("Timeout = %d, want 10", cfg.Timeout)
	}
}

func TestParse_ConfigFileErrors(t *testing.T) {
	if _, err := Parse([]string{"--config=/does/not/exist.yaml"}); err == nil {
		t.Error("expected error for missing config file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("concurrency: [not, an, int]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse([]string{"-config", path}); err == nil {
		t.Error("expected error for malformed config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"http port", func(c *Config) { c.HTTPPort = 70000 }, "http port"},
		{"https port", func(c *Config) { c.HTTPSPort = 0 }, "https port"},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, "rate limit"},
		{"proxy scheme", func(c *Config) { c.Proxy = "ftp://proxy:21" }, "proxy scheme"},
		{"silent and debug", func(c *Config) { c.Silent, c.Debug = true, true }, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	if err := New().Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestHelpFormatter_PrintUsage(t *testing.T) {
	var buf bytes.Buffer
	formatter := RegisterFlags(newTestFlagSet(), New())
	formatter.PrintUsage(&buf)
	out := buf.String()

	for _, want := range []string{"favprobe", "INPUT:", "SERVICE:", "RATE-LIMIT:", "-t, -targets string", "(default 20)", `(default "favicons.xml")`} {
		if !strings.Contains(out, want) {
			t.Errorf("usage output missing %q", want)
		}
	}
}

func newTestFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("test", flag.ContinueOnError)
}
