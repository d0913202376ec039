package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CI", "WORKERS", "FEATURES", "TAGS", "BROWSER", "HEADLESS", "APP_URL", "API_BASE_URL",
		"API_RPS", "API_BURST", "STEP_TIMEOUT", "API_TIMEOUT", "NETWORK_GRACE", "SETTLE_DELAY",
		"SEMANTICS_DELAY", "CLICK_DELAY", "RESULTS_DIR", "SCREENSHOTS_DIR", "HTML_REPORT_DIR",
		"REPORT_REDACT", "LOG_FILE", "LOG_LEVEL", "S3_ENDPOINT", "S3_REGION", "S3_BUCKET",
		"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "S3_PREFIX", "HARNESS_CONFIG",
	} {
		t.Setenv(key, "")
	}
}

func TestValidate_DefaultsPass(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate, got: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CI || cfg.Headless || cfg.Workers != 1 || cfg.Strict {
		t.Fatalf("unexpected local profile: %+v", cfg)
	}
	if cfg.StepTimeout != 60*time.Second || cfg.NetworkGrace != time.Second {
		t.Fatalf("unexpected timeouts: step=%v grace=%v", cfg.StepTimeout, cfg.NetworkGrace)
	}
	if cfg.ResultsDir != "allure-results" || cfg.ScreenshotsDir != "screenshots" {
		t.Fatalf("unexpected artifact dirs: %q %q", cfg.ResultsDir, cfg.ScreenshotsDir)
	}
}

func TestLoad_CIProfileForcesHeadlessSerialStrict(t *testing.T) {
	clearEnv(t)
	t.Setenv("CI", "true")
	t.Setenv("WORKERS", "4")
	t.Setenv("HEADLESS", "false")

	cfg, err := Load(Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.CI || !cfg.Headless || cfg.Workers != 1 || !cfg.Strict || !cfg.ForbidFocus {
		t.Fatalf("CI profile not applied: %+v", cfg)
	}
}

func TestLoad_PrecedenceFileEnvFlags(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "harness.yaml")
	content := strings.Join([]string{
		"app_url: http://file.example/app/",
		"api_base_url: http://file.example/api",
		"workers: 3",
		"step_timeout: 45s",
		"features:",
		"  - suites/*.feature",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("API_BASE_URL", "http://env.example/api")
	t.Setenv("WORKERS", "2")

	headless := true
	cfg, err := Load(Overrides{ConfigFile: path, Workers: 5, Headless: &headless})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AppURL != "http://file.example/app/" {
		t.Fatalf("file value lost: %q", cfg.AppURL)
	}
	if cfg.APIBaseURL != "http://env.example/api" {
		t.Fatalf("env should beat file: %q", cfg.APIBaseURL)
	}
	if cfg.Workers != 5 || !cfg.Headless {
		t.Fatalf("flags should beat env: workers=%d headless=%t", cfg.Workers, cfg.Headless)
	}
	if cfg.StepTimeout != 45*time.Second {
		t.Fatalf("duration from file: %v", cfg.StepTimeout)
	}
	if len(cfg.Features) != 1 || cfg.Features[0] != "suites/*.feature" {
		t.Fatalf("features from file: %v", cfg.Features)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(Overrides{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Browser = "lynx"
	cfg.AppURL = "not a url"
	cfg.Workers = 0
	cfg.StepTimeout = 0
	cfg.NetworkGrace = -time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, expected := range []string{"BROWSER", "APP_URL", "WORKERS", "STEP_TIMEOUT", "NETWORK_GRACE"} {
		if !strings.Contains(msg, expected) {
			t.Fatalf("expected validation error to mention %q, got: %v", expected, err)
		}
	}
}

func testValidate_RejectsNonHTTPURLs(t *rapid.T) {
	scheme := rapid.SampledFrom([]string{"ftp", "file", "ws", ""}).Draw(t, "scheme")
	host := rapid.StringMatching(`[a-z]{1,12}\.test`).Draw(t, "host")

	cfg := Default()
	cfg.APIBaseURL = scheme + "://" + host + "/api"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected %q to be rejected", cfg.APIBaseURL)
	}
}

func TestValidate_RejectsNonHTTPURLs(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testValidate_RejectsNonHTTPURLs)
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	got := splitList(" a.feature, ,b/*.feature ")
	if len(got) != 2 || got[0] != "a.feature" || got[1] != "b/*.feature" {
		t.Fatalf("splitList = %v", got)
	}
}
