package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skyjamlabs/skyjam-go/internal/config"
	"github.com/skyjamlabs/skyjam-go/internal/history"
	"github.com/skyjamlabs/skyjam-go/internal/mm"
	"github.com/skyjamlabs/skyjam-go/internal/upload"
)

// Upload command flags.
var (
	flagUploadForce    bool
	flagUploadNoSample bool
	flagUploadArt      string
)

// audioExtensions are the file types the uploader accepts.
var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".wav":  true,
}

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload audio files or directories to the locker",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runUpload,
	}

	cmd.Flags().BoolVar(&flagUploadForce, "force", false, "re-upload files already recorded as uploaded")
	cmd.Flags().BoolVar(&flagUploadNoSample, "no-sample", false, "answer matching challenges with an empty sample")
	cmd.Flags().StringVar(&flagUploadArt, "album-art", "", "album art image attached to every uploaded track")

	return cmd
}

func runUpload(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := context.Background()

	user, err := username()
	if err != nil {
		return err
	}

	files, err := collectAudioFiles(args)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no audio files found under %s", strings.Join(args, ", "))
	}

	manager := newManager(logger)

	if err := ensureLogin(ctx, manager, user); err != nil {
		return err
	}

	historyPath, err := historyDBPath()
	if err != nil {
		return err
	}

	hist, err := history.Open(ctx, historyPath, logger)
	if err != nil {
		return err
	}
	defer hist.Close()

	opts := uploadOptions()

	var failures int

	for _, path := range files {
		if !flagUploadForce {
			done, err := hist.Uploaded(ctx, path)
			if err != nil {
				return err
			}

			if done {
				statusf("skip   %s (already uploaded)\n", path)
				continue
			}
		}

		res, err := manager.Upload(ctx, path, opts)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", path, err)
		}

		if err := hist.Record(ctx, res); err != nil {
			logger.Warn("failed to record upload history", "path", path, "error", err)
		}

		printUploadResult(res)

		if !res.Success {
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d uploads failed", failures, len(files))
	}

	return nil
}

// uploadOptions maps config and flags onto the upload pipeline's options.
func uploadOptions() upload.Options {
	opts := upload.DefaultOptions()
	opts.NoSample = flagUploadNoSample
	opts.AlbumArtPath = flagUploadArt

	if loadedCfg != nil {
		opts.TranscodeLossy = loadedCfg.Transcode.Lossy
		opts.TranscodeLossless = loadedCfg.Transcode.Lossless

		if loadedCfg.Transcode.Quality != "" {
			opts.Quality = loadedCfg.Transcode.Quality
		}
	}

	return opts
}

// historyDBPath returns the history database location, creating its parent
// directory.
func historyDBPath() (string, error) {
	path := config.DefaultHistoryPath()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}

	return path, nil
}

// collectAudioFiles expands the argument list: files pass through, directories
// are walked recursively for supported audio extensions.
func collectAudioFiles(paths []string) ([]string, error) {
	var files []string

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if !d.IsDir() && audioExtensions[strings.ToLower(filepath.Ext(p))] {
				files = append(files, p)
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", path, err)
		}
	}

	return files, nil
}

// printUploadResult writes one line per file, colorized when stdout is a
// terminal.
func printUploadResult(res upload.Result) {
	if res.Success {
		verb := colorize(ansiGreen, strings.ToLower(res.Reason))
		if res.SongID != "" {
			fmt.Printf("%s %s (%s)\n", verb, res.Filepath, res.SongID)
		} else {
			fmt.Printf("%s %s\n", verb, res.Filepath)
		}

		return
	}

	fmt.Printf("%s %s: %s\n", colorize(ansiRed, "failed"), res.Filepath, res.Reason)
}

// uploadOne is shared with the watch command: history check, upload, record.
func uploadOne(ctx context.Context, manager *mm.Manager, hist *history.Store, path string, opts upload.Options) error {
	done, err := hist.Uploaded(ctx, path)
	if err != nil {
		return err
	}

	if done {
		return nil
	}

	res, err := manager.Upload(ctx, path, opts)
	if err != nil {
		return err
	}

	if err := hist.Record(ctx, res); err != nil {
		return err
	}

	printUploadResult(res)

	return nil
}
