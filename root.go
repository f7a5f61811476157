package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/skyjamlabs/skyjam-go/internal/config"
	"github.com/skyjamlabs/skyjam-go/internal/mm"
	"github.com/skyjamlabs/skyjam-go/internal/sj"
	"github.com/skyjamlabs/skyjam-go/internal/tokenstore"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagUsername   string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// loadedCfg holds the configuration loaded by PersistentPreRunE. Available
// to all subcommands after the root pre-run phase completes.
var loadedCfg *config.Config

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "skyjam",
		Short:   "Music locker CLI client",
		Long:    "Upload, list, and download tracks in your cloud music locker.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVarP(&flagUsername, "username", "u", "", "account username (e.g., user@example.com)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newSongsCmd())
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig reads the config file (default path unless --config overrides)
// and stores the result in loadedCfg for use by subcommands.
func loadConfig() error {
	path := flagConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	loadedCfg = cfg

	return nil
}

// username resolves the account for the current command: the --username flag
// wins over the config file's default.
func username() (string, error) {
	if flagUsername != "" {
		return flagUsername, nil
	}

	if loadedCfg != nil && loadedCfg.Username != "" {
		return loadedCfg.Username, nil
	}

	return "", fmt.Errorf("no username: pass --username or set it in the config file")
}

// newManager assembles the Music Manager client from the loaded config.
// Uploads can run for minutes, so the HTTP client carries no timeout.
func newManager(logger *slog.Logger) *mm.Manager {
	store := tokenstore.NewFileStore(tokenstore.DefaultDir())

	var opts []mm.Option
	if loadedCfg != nil && loadedCfg.UploaderID != "" {
		opts = append(opts, mm.WithUploaderID(loadedCfg.UploaderID))
	}

	return mm.NewManager(store, &http.Client{}, logger, opts...)
}

// ensureLogin restores a stored session for commands that must already be
// authenticated. Missing or expired credentials get the re-login hint; any
// other failure (network, token endpoint) surfaces with its cause.
func ensureLogin(ctx context.Context, manager *mm.Manager, user string) error {
	authorized, err := manager.Login(ctx, user)
	if err != nil {
		if errors.Is(err, sj.ErrNotAuthenticated) || errors.Is(err, sj.ErrAuthExpired) {
			return fmt.Errorf("not logged in as %s — run 'skyjam login' first", user)
		}

		return fmt.Errorf("logging in as %s: %w", user, err)
	}

	if !authorized {
		return fmt.Errorf("not logged in as %s — run 'skyjam login' first", user)
	}

	return nil
}

// buildLogger creates an slog.Logger configured by the loaded config and CLI
// flags. Config-file log level provides the baseline; --verbose and --quiet
// override it because CLI flags always win.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if loadedCfg != nil {
		switch loadedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
