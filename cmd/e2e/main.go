// Command e2e runs the Gherkin end-to-end suites against the Flutter web
// app and the notes REST API, checks and publishes their reports, and
// serves a local sandbox of both targets.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/flutter-notes-e2e/internal/config"
	"github.com/kuitang/flutter-notes-e2e/internal/harness"
	"github.com/kuitang/flutter-notes-e2e/internal/obs"
	"github.com/kuitang/flutter-notes-e2e/internal/ratelimit"
	"github.com/kuitang/flutter-notes-e2e/internal/reportcheck"
	"github.com/kuitang/flutter-notes-e2e/internal/s3client"
	"github.com/kuitang/flutter-notes-e2e/internal/sandbox"
)

// exitCodeError carries a non-zero runner exit code out of a command.
type exitCodeError int

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", int(e))
}

type globalFlags struct {
	configFile string
	ci         bool
	headless   bool
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	_ = obs.Close()

	var code exitCodeError
	switch {
	case errors.As(err, &code):
		os.Exit(int(code))
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "e2e",
		Short:         "Flutter web and notes API end-to-end harness",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().BoolVar(&g.ci, "ci", false, "CI profile: headless, one worker, strict, no focused scenarios")
	cmd.PersistentFlags().BoolVar(&g.headless, "headless", false, "Run the browser headless")

	cmd.AddCommand(testCmd(g), checkReportCmd(g), sandboxCmd(g), publishCmd(g))
	return cmd
}

// load reads configuration with the global flags applied and configures
// logging from it.
func (g *globalFlags) load(cmd *cobra.Command, ov config.Overrides) (*config.Config, error) {
	ov.ConfigFile = g.configFile
	ov.CI = g.ci
	if cmd.Flags().Changed("headless") {
		ov.Headless = &g.headless
	}
	cfg, err := config.Load(ov)
	if err != nil {
		return nil, err
	}
	obs.Configure(obs.Options{Level: obs.ParseLevel(cfg.LogLevel), File: cfg.LogFile})
	return cfg, nil
}

func testCmd(g *globalFlags) *cobra.Command {
	var (
		format  string
		tags    string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "test [feature paths...]",
		Short: "Run feature files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd, config.Overrides{Workers: workers, Tags: tags, Features: args})
			if err != nil {
				return err
			}
			cfg.PrintStartupSummary()

			code, err := harness.Run(cmd.Context(), cfg, harness.RunOptions{Format: format})
			if err != nil {
				return err
			}
			if code != 0 {
				return exitCodeError(code)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "pretty", "Formatter list, e.g. pretty or json:results.json")
	cmd.Flags().StringVarP(&tags, "tags", "t", "", "Tag expression selecting scenarios")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Scenarios run in parallel")
	return cmd
}

func checkReportCmd(g *globalFlags) *cobra.Command {
	var (
		resultsFile string
		runner      string
		timeout     time.Duration
		publish     bool
	)
	cmd := &cobra.Command{
		Use:   "check-report [feature]",
		Short: "Run the API feature and verify its report artifacts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd, config.Overrides{})
			if err != nil {
				return err
			}

			opts := reportcheck.Options{
				ResultsFile:   resultsFile,
				ResultsDir:    cfg.ResultsDir,
				HTMLReportDir: cfg.HTMLReportDir,
				Timeout:       timeout,
				Out:           cmd.OutOrStdout(),
			}
			if len(args) == 1 {
				opts.FeaturePath = args[0]
			}
			if runner != "" {
				opts.Runner = strings.Fields(runner)
			} else {
				self, err := os.Executable()
				if err != nil {
					return fmt.Errorf("locate runner: %w", err)
				}
				opts.Runner = []string{self}
				if g.configFile != "" {
					opts.Runner = append(opts.Runner, "--config", g.configFile)
				}
				opts.Runner = append(opts.Runner, "test")
			}

			if _, err := reportcheck.Check(cmd.Context(), opts); err != nil {
				return err
			}
			if !publish {
				return nil
			}
			return publishArtifacts(cmd.Context(), cfg, "")
		},
	}
	cmd.Flags().StringVar(&resultsFile, "results-file", reportcheck.DefaultResultsFile, "Cucumber JSON output file")
	cmd.Flags().StringVar(&runner, "runner", "", "Command that runs a feature (default: this binary's test command)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Limit for the feature run")
	cmd.Flags().BoolVar(&publish, "publish", false, "Upload results and screenshots to S3 afterwards")
	return cmd
}

func sandboxCmd(g *globalFlags) *cobra.Command {
	var (
		addr   string
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Serve a local notes API and Flutter-like app",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := g.load(cmd, config.Overrides{}); err != nil {
				return err
			}

			var key []byte
			if raw := strings.TrimSpace(os.Getenv("SANDBOX_DB_KEY")); raw != "" {
				decoded, err := hex.DecodeString(raw)
				if err != nil {
					return fmt.Errorf("SANDBOX_DB_KEY must be hex: %w", err)
				}
				key = decoded
			}

			store, err := sandbox.Open(cmd.Context(), sandbox.StoreOptions{Path: dbPath, Key: key})
			if err != nil {
				return err
			}
			defer store.Close()

			srv := sandbox.NewServer(store, ratelimit.DefaultConfig())
			defer srv.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "API_BASE_URL=http://%s%s\n", displayAddr(addr), sandbox.APIPrefix)
			fmt.Fprintf(cmd.OutOrStdout(), "APP_URL=http://%s%s\n", displayAddr(addr), sandbox.AppPath)
			return sandbox.ListenAndServe(cmd.Context(), addr, srv.Handler())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8085", "Listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite file (default: in memory)")
	return cmd
}

func publishCmd(g *globalFlags) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload results and screenshots to S3",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd, config.Overrides{})
			if err != nil {
				return err
			}
			return publishArtifacts(cmd.Context(), cfg, runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Key prefix for this run (default: GITHUB_RUN_ID or a timestamp)")
	return cmd
}

func publishArtifacts(ctx context.Context, cfg *config.Config, runID string) error {
	if !cfg.PublishEnabled() {
		return errors.New("publishing requires S3_BUCKET")
	}
	if runID == "" {
		runID = os.Getenv("GITHUB_RUN_ID")
	}
	if runID == "" {
		runID = time.Now().UTC().Format("20060102T150405Z")
	}

	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		BucketName:      cfg.S3Bucket,
		Prefix:          cfg.S3Prefix,
		UsePathStyle:    cfg.S3Endpoint != "",
	})
	if err != nil {
		return err
	}
	n, err := reportcheck.Publish(ctx, client, runID, cfg.ResultsDir, cfg.ScreenshotsDir)
	if err != nil {
		return err
	}
	obs.Pkg("e2e").Info("published", "bucket", client.BucketName(), "run_id", runID, "files", n)
	return nil
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
