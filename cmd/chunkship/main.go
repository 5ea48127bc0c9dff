// Command chunkship splits a CSV export into size-bounded chunks and
// uploads them to an ingestion gateway, one chunk at a time, moving
// delivered chunks into a per-run delivered directory.
//
// Settings come from an optional YAML config file overlaid with flags;
// flags set on the command line win. With --watch it runs as a daemon
// processing every CSV file dropped into a directory.
//
// The exit status is zero when the run itself completed, even if some
// chunks exhausted their upload retries; those are reported through
// logs and metrics and their files stay in the run directory. Only
// configuration, authentication and filesystem errors exit non-zero.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/chunkship/chunkship/internal/certcheck"
	"github.com/chunkship/chunkship/internal/config"
	"github.com/chunkship/chunkship/internal/logging"
	"github.com/chunkship/chunkship/internal/pipeline"
	"github.com/chunkship/chunkship/internal/watch"
)

var (
	configPath  = flag.StringP("config", "c", "", "path to YAML config file")
	csvPath     = flag.String("csv", "", "source CSV file to chunk and upload")
	watchDir    = flag.String("watch", "", "process every CSV file dropped into this directory")
	baseURL     = flag.String("base-url", "", "ingestion gateway base URL")
	connUUID    = flag.String("connection-uuid", "", "connector connection UUID")
	profUUID    = flag.String("profile-uuid", "", "connector profile UUID")
	username    = flag.String("username", "", "gateway username")
	password    = flag.String("password", "", "gateway password")
	usernameEnv = flag.String("username-env", "", "environment variable holding the username")
	passwordEnv = flag.String("password-env", "", "environment variable holding the password")
	headerLine  = flag.Int("header-line", config.DefaultHeaderLine, "1-based line number of the CSV header row")
	maxChunk    = flag.Int64("max-chunk-bytes", config.DefaultMaxChunkBytes, "per-chunk payload ceiling in bytes")
	insecureTLS = flag.Bool("insecure-skip-verify", false, "skip TLS certificate verification")
	logFile     = flag.String("log-file", "", "tee JSON logs into this rotated file")
	metricsFile = flag.String("metrics-file", "", "write run counters here in Prometheus textfile format")
	verbose     = flag.BoolP("verbose", "v", false, "enable debug logging")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		parsed, err := config.Parse(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "err", err)
			os.Exit(1)
		}
		cfg = parsed
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	closer, err := logging.Setup(logging.Options{
		Level:    level,
		File:     cfg.Log.File,
		MaxBytes: cfg.Log.MaxBytes,
		Backups:  cfg.Log.Backups,
	})
	if err != nil {
		slog.Error("failed to set up logging", "err", err)
		os.Exit(1)
	}
	defer closer.Close()

	slog.Info("chunkship starting",
		"config", *configPath,
		"source", cfg.Source,
		"watch_dir", cfg.WatchDir,
		"base_url", cfg.BaseURL,
	)

	p, err := pipeline.New(cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if rep := certcheck.Check(ctx, cfg.BaseURL, cfg.TLS.InsecureSkipVerify); rep != nil && rep.Status != "valid" {
		slog.Warn("gateway certificate check",
			"status", rep.Status,
			"issuer", rep.Issuer,
			"days_left", rep.DaysLeft,
		)
	}

	if cfg.WatchDir != "" {
		err := watch.Run(ctx, cfg.WatchDir, watch.DefaultSettle, func(ctx context.Context, path string) error {
			_, err := p.Run(ctx, path)
			return err
		})
		if err != nil {
			slog.Error("watch mode failed", "dir", cfg.WatchDir, "err", err)
			os.Exit(1)
		}
		slog.Info("chunkship shutting down")
		return
	}

	sum, err := p.Run(ctx, cfg.Source)
	if err != nil {
		slog.Error("run failed", "source", cfg.Source, "err", err)
		os.Exit(1)
	}
	// Chunk-level failures leave their files in the run dir for manual
	// follow-up; the exit status stays zero so batch schedulers can
	// tell partial delivery from total failure.
	if sum.Failed > 0 {
		slog.Warn("run finished with undelivered chunks",
			"delivered", sum.Delivered,
			"failed", sum.Failed,
			"run_dir", sum.RunDir,
		)
	}
}

// applyFlags overlays the flags explicitly set on the command line
// onto cfg, so flag values win over file values and file values win
// over defaults.
func applyFlags(cfg *config.Config) {
	overlay := map[string]func(){
		"csv":                  func() { cfg.Source = *csvPath },
		"watch":                func() { cfg.WatchDir = *watchDir },
		"base-url":             func() { cfg.BaseURL = *baseURL },
		"connection-uuid":      func() { cfg.ConnectionUUID = *connUUID },
		"profile-uuid":         func() { cfg.ProfileUUID = *profUUID },
		"username":             func() { cfg.Auth.Username = *username },
		"password":             func() { cfg.Auth.Password = *password },
		"username-env":         func() { cfg.Auth.UsernameEnv = *usernameEnv },
		"password-env":         func() { cfg.Auth.PasswordEnv = *passwordEnv },
		"header-line":          func() { cfg.HeaderLine = *headerLine },
		"max-chunk-bytes":      func() { cfg.MaxChunkBytes = *maxChunk },
		"insecure-skip-verify": func() { cfg.TLS.InsecureSkipVerify = *insecureTLS },
		"log-file":             func() { cfg.Log.File = *logFile },
		"metrics-file":         func() { cfg.MetricsFile = *metricsFile },
	}
	flag.Visit(func(f *flag.Flag) {
		if apply, ok := overlay[f.Name]; ok {
			apply()
		}
	})
}
