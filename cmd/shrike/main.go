package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/shrike-backup/shrike/internal/activation"
	"github.com/shrike-backup/shrike/internal/config"
	"github.com/shrike-backup/shrike/internal/store"
	"github.com/shrike-backup/shrike/internal/sync"
	"github.com/shrike-backup/shrike/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shrike",
	Short: "Mirror selected files and folders to a backup destination",
	Long: `shrike keeps a list of files and folders and mirrors them with rsync into
<destination_root>/<backup_dir_name>/<machine_name>, preserving their absolute paths.

A sync can be started locally with "shrike sync" or remotely through the
token-protected webhook served by "shrike serve".`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror all tracked entries once",
	Long: `Sync writes the tracked paths to a temporary listing, validates them, ensures
the destination exists and runs rsync. Invalid paths are reported but do not
abort the run as long as at least one path is valid.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve starts the HTTP gateway exposing GET /status and POST /sync.
Every request must carry "Authorization: Bearer <token>". The token is read
from serve.token_file when configured, otherwise from the stored settings.

A systemd socket-activated listener is used when present.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a sync is running, the entry count and the destination",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "shrike %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/shrike/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(newEntriesCmd())
	rootCmd.AddCommand(newSettingsCmd())
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fileStore := store.NewFileStore(cfg.Store.Path)
	settings, err := fileStore.LoadSettings()
	if err != nil {
		return err
	}
	entries, err := fileStore.LoadItems()
	if err != nil {
		return err
	}

	coordinator := newCoordinator(cfg, logger)
	result, err := coordinator.Execute(entries, settings)
	if result != nil {
		printResult(cmd.OutOrStdout(), result)
	}
	if err != nil {
		return err
	}

	if err := fileStore.MarkSynced(store.IDs(entries), result.SyncedAt); err != nil {
		logger.Warn("failed to record sync time", "error", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fileStore := store.NewFileStore(cfg.Store.Path)
	settings, err := fileStore.LoadSettings()
	if err != nil {
		return err
	}

	token, err := cfg.ReadToken()
	if err != nil {
		return err
	}
	if token == "" {
		token = settings.WebhookToken
	}

	var opts []webhook.Option
	rate, limited, err := cfg.RateLimit()
	if err != nil {
		return err
	}
	if limited {
		opts = append(opts, webhook.WithRateLimit(rate))
	}

	server, err := webhook.NewServer(fileStore, newCoordinator(cfg, logger), token, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	ln, activated, err := activation.Listen(cfg.ListenAddr(settings.WebhookPort))
	if err != nil {
		return err
	}
	if activated {
		logger.Info("using systemd socket activation", "addr", ln.Addr().String())
	}

	return server.Start(ctx, ln, cfg.Serve.SyncOnStart)
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fileStore := store.NewFileStore(cfg.Store.Path)
	settings, err := fileStore.LoadSettings()
	if err != nil {
		return err
	}
	entries, err := fileStore.LoadItems()
	if err != nil {
		return err
	}

	status := sync.StatusIdle
	held, err := sync.LockHeld(cfg.Rsync.LockFile)
	if err != nil {
		return err
	}
	if held {
		status = sync.StatusRunning
	}

	destination, err := sync.DestinationPath(settings)
	if err != nil {
		destination = "(" + err.Error() + ")"
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "status:      %s\n", status)
	_, _ = fmt.Fprintf(out, "entries:     %d\n", len(entries))
	_, _ = fmt.Fprintf(out, "destination: %s\n", destination)
	return nil
}

func newCoordinator(cfg *config.Config, logger *slog.Logger) *sync.Coordinator {
	return sync.NewCoordinator(
		&sync.Guard{},
		sync.NewRsyncExecutor(cfg.Rsync.Binary),
		logger,
		sync.WithLockFile(cfg.Rsync.LockFile),
	)
}

func printResult(w io.Writer, result *sync.Result) {
	_, _ = fmt.Fprintf(w, "Synced %d files, %d dirs (exit code %d) at %s\n",
		result.FilesTransferred,
		result.DirsTransferred,
		result.ExitCode,
		result.SyncedAt.Local().Format(time.RFC3339))
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Logs go to stderr so command output on stdout stays clean.
	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		})
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		logger.Debug("loading configuration", "path", config.DefaultPath(), "default", true)
	} else {
		logger.Debug("loading configuration", "path", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"store", cfg.Store.Path,
		"rsync", cfg.Rsync.Binary,
		"lock_file", cfg.Rsync.LockFile)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

// openStore loads the configuration and opens the file store it names
func openStore() (*store.FileStore, error) {
	cfg, err := loadConfig(setupLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return store.NewFileStore(cfg.Store.Path), nil
}
