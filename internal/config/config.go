// Package config loads harness configuration from an optional YAML file,
// environment variables, and CLI flag overrides, in that order of
// increasing precedence, then validates the result.
//
// CI mode (CI env var or --ci) forces headless, single-worker, strict runs
// that reject focused scenarios.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAppURL     = "https://flutter-angular.web.app/#/"
	DefaultAPIBaseURL = "https://practice.expandtesting.com/notes/api"
)

// Config holds all harness configuration.
type Config struct {
	// Runner
	CI       bool     `yaml:"ci"`
	Workers  int      `yaml:"workers"`
	Features []string `yaml:"features"`
	Tags     string   `yaml:"tags"`
	Strict   bool     `yaml:"strict"`
	// ForbidFocus rejects runs containing @only scenarios.
	ForbidFocus bool `yaml:"forbid_focus"`

	// Browser
	Browser  string `yaml:"browser"` // chromium, firefox, webkit
	Headless bool   `yaml:"headless"`
	AppURL   string `yaml:"app_url"`

	// REST API
	APIBaseURL string  `yaml:"api_base_url"`
	APIRPS     float64 `yaml:"api_rps"`
	APIBurst   int     `yaml:"api_burst"`

	// Timeouts and pauses
	StepTimeout    time.Duration `yaml:"step_timeout"`
	APITimeout     time.Duration `yaml:"api_timeout"`
	NetworkGrace   time.Duration `yaml:"network_grace"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	SemanticsDelay time.Duration `yaml:"semantics_delay"`
	ClickDelay     time.Duration `yaml:"click_delay"`

	// Artifacts
	ResultsDir     string `yaml:"results_dir"`
	ScreenshotsDir string `yaml:"screenshots_dir"`
	HTMLReportDir  string `yaml:"html_report_dir"`
	RedactReports  bool   `yaml:"redact_reports"`
	// Trace records a playwright trace per scenario into ResultsDir.
	Trace bool `yaml:"trace"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`

	// S3 publishing (optional)
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3Region          string `yaml:"s3_region"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3AccessKeyID     string `yaml:"-"`
	S3SecretAccessKey string `yaml:"-"`
	S3Prefix          string `yaml:"s3_prefix"`
}

// Overrides carries CLI flag values. Zero values leave the loaded
// configuration untouched.
type Overrides struct {
	ConfigFile string
	CI         bool
	Headless   *bool
	Workers    int
	Tags       string
	Features   []string
	AppURL     string
	APIBaseURL string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workers:        1,
		Features:       []string{"features/*.feature"},
		Browser:        "chromium",
		AppURL:         DefaultAppURL,
		APIBaseURL:     DefaultAPIBaseURL,
		APIRPS:         5,
		APIBurst:       1,
		StepTimeout:    60 * time.Second,
		APITimeout:     30 * time.Second,
		NetworkGrace:   time.Second,
		SettleDelay:    3 * time.Second,
		SemanticsDelay: 5 * time.Second,
		ClickDelay:     time.Second,
		ResultsDir:     "allure-results",
		ScreenshotsDir: "screenshots",
		HTMLReportDir:  "allure-report",
		RedactReports:  true,
		Trace:          true,
		LogLevel:       "info",
		S3Region:       "auto",
	}
}

// Load builds configuration from defaults, the YAML file named by
// ov.ConfigFile or HARNESS_CONFIG, environment variables, and ov.
func Load(ov Overrides) (*Config, error) {
	cfg := Default()

	path := ov.ConfigFile
	if path == "" {
		path = strings.TrimSpace(os.Getenv("HARNESS_CONFIG"))
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.CI = parseBoolOrDefault("CI", cfg.CI) || ov.CI
	cfg.Workers = parseIntOrDefault("WORKERS", cfg.Workers)
	if features := strings.TrimSpace(os.Getenv("FEATURES")); features != "" {
		cfg.Features = splitList(features)
	}
	cfg.Tags = getEnvOrDefault("TAGS", cfg.Tags)
	cfg.Browser = getEnvOrDefault("BROWSER", cfg.Browser)
	cfg.Headless = parseBoolOrDefault("HEADLESS", cfg.Headless)
	cfg.AppURL = getEnvOrDefault("APP_URL", cfg.AppURL)
	cfg.APIBaseURL = getEnvOrDefault("API_BASE_URL", cfg.APIBaseURL)
	cfg.APIRPS = parseFloat64OrDefault("API_RPS", cfg.APIRPS)
	cfg.APIBurst = parseIntOrDefault("API_BURST", cfg.APIBurst)

	cfg.StepTimeout = parseDurationOrDefault("STEP_TIMEOUT", cfg.StepTimeout)
	cfg.APITimeout = parseDurationOrDefault("API_TIMEOUT", cfg.APITimeout)
	cfg.NetworkGrace = parseDurationOrDefault("NETWORK_GRACE", cfg.NetworkGrace)
	cfg.SettleDelay = parseDurationOrDefault("SETTLE_DELAY", cfg.SettleDelay)
	cfg.SemanticsDelay = parseDurationOrDefault("SEMANTICS_DELAY", cfg.SemanticsDelay)
	cfg.ClickDelay = parseDurationOrDefault("CLICK_DELAY", cfg.ClickDelay)

	cfg.ResultsDir = getEnvOrDefault("RESULTS_DIR", cfg.ResultsDir)
	cfg.ScreenshotsDir = getEnvOrDefault("SCREENSHOTS_DIR", cfg.ScreenshotsDir)
	cfg.HTMLReportDir = getEnvOrDefault("HTML_REPORT_DIR", cfg.HTMLReportDir)
	cfg.RedactReports = parseBoolOrDefault("REPORT_REDACT", cfg.RedactReports)
	cfg.Trace = parseBoolOrDefault("TRACE", cfg.Trace)

	cfg.LogFile = getEnvOrDefault("LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)

	cfg.S3Endpoint = getEnvOrDefault("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnvOrDefault("S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnvOrDefault("S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKeyID = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID"))
	cfg.S3SecretAccessKey = strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY"))
	cfg.S3Prefix = getEnvOrDefault("S3_PREFIX", cfg.S3Prefix)

	cfg.apply(ov)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) apply(ov Overrides) {
	if ov.Headless != nil {
		c.Headless = *ov.Headless
	}
	if ov.Workers > 0 {
		c.Workers = ov.Workers
	}
	if ov.Tags != "" {
		c.Tags = ov.Tags
	}
	if len(ov.Features) > 0 {
		c.Features = ov.Features
	}
	if ov.AppURL != "" {
		c.AppURL = ov.AppURL
	}
	if ov.APIBaseURL != "" {
		c.APIBaseURL = ov.APIBaseURL
	}

	if c.CI {
		c.Headless = true
		c.Workers = 1
		c.Strict = true
		c.ForbidFocus = true
	}
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	var errs []string

	switch c.Browser {
	case "chromium", "firefox", "webkit":
	default:
		errs = append(errs, fmt.Sprintf("BROWSER must be chromium, firefox or webkit (got %q)", c.Browser))
	}
	if !isHTTPURL(c.AppURL) {
		errs = append(errs, fmt.Sprintf("APP_URL must be an absolute http(s) URL (got %q)", c.AppURL))
	}
	if !isHTTPURL(c.APIBaseURL) {
		errs = append(errs, fmt.Sprintf("API_BASE_URL must be an absolute http(s) URL (got %q)", c.APIBaseURL))
	}
	if c.Workers < 1 {
		errs = append(errs, "WORKERS must be at least 1")
	}
	if len(c.Features) == 0 {
		errs = append(errs, "FEATURES must name at least one path or glob")
	}
	if c.APIRPS <= 0 {
		errs = append(errs, "API_RPS must be positive")
	}
	if c.APIBurst <= 0 {
		errs = append(errs, "API_BURST must be positive")
	}
	for name, d := range map[string]time.Duration{
		"STEP_TIMEOUT": c.StepTimeout,
		"API_TIMEOUT":  c.APITimeout,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	for name, d := range map[string]time.Duration{
		"NETWORK_GRACE":   c.NetworkGrace,
		"SETTLE_DELAY":    c.SettleDelay,
		"SEMANTICS_DELAY": c.SemanticsDelay,
		"CLICK_DELAY":     c.ClickDelay,
	} {
		if d < 0 {
			errs = append(errs, name+" must not be negative")
		}
	}
	if c.ResultsDir == "" {
		errs = append(errs, "RESULTS_DIR is required")
	}
	if c.ScreenshotsDir == "" {
		errs = append(errs, "SCREENSHOTS_DIR is required")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// PublishEnabled reports whether S3 publishing is configured.
func (c *Config) PublishEnabled() bool {
	return c.S3Bucket != ""
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary() {
	mode := "local"
	if c.CI {
		mode = "ci"
	}
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintf(os.Stderr, "e2e harness (%s)\n", mode)
	fmt.Fprintf(os.Stderr, "  Browser:  %s (headless=%t)\n", c.Browser, c.Headless)
	fmt.Fprintf(os.Stderr, "  App:      %s\n", c.AppURL)
	fmt.Fprintf(os.Stderr, "  API:      %s\n", c.APIBaseURL)
	fmt.Fprintf(os.Stderr, "  Workers:  %d\n", c.Workers)
	fmt.Fprintf(os.Stderr, "  Results:  %s\n", c.ResultsDir)
	if c.PublishEnabled() {
		fmt.Fprintf(os.Stderr, "  Publish:  s3://%s/%s\n", c.S3Bucket, c.S3Prefix)
	}
	fmt.Fprintln(os.Stderr, "")
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
