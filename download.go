package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Download command flags.
var flagDownloadOutput string

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <song-id>...",
		Short: "Download tracks from the locker",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDownload,
	}

	cmd.Flags().StringVarP(&flagDownloadOutput, "output", "o", ".", "directory to write downloaded files into")

	return cmd
}

func runDownload(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := context.Background()

	user, err := username()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(flagDownloadOutput, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	manager := newManager(logger)

	if err := ensureLogin(ctx, manager, user); err != nil {
		return err
	}

	for _, songID := range args {
		exported, err := manager.Download(ctx, songID)
		if err != nil {
			return fmt.Errorf("downloading %s: %w", songID, err)
		}

		name := exported.SuggestedFilename
		if name == "" {
			name = songID + ".mp3"
		}

		// Server-suggested names are untrusted. Keep the base name only.
		dest := filepath.Join(flagDownloadOutput, filepath.Base(name))

		if err := os.WriteFile(dest, exported.Audio, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", dest, err)
		}

		statusf("%s (%s)\n", dest, formatSize(int64(len(exported.Audio))))
	}

	return nil
}
