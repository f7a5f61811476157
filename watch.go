package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skyjamlabs/skyjam-go/internal/history"
)

// settleDelay is how long a file must stay unmodified before it is uploaded.
// Media players and rippers write large files in bursts; uploading mid-write
// sends a truncated track.
const settleDelay = 5 * time.Second

// pendingBuffer bounds the queue between the watcher and the uploader.
const pendingBuffer = 256

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]...",
		Short: "Watch directories and upload new audio files automatically",
		Long: "Watches the given directories (plus watch.dirs from the config file) " +
			"and uploads audio files as they appear. Runs until interrupted.",
		RunE: runWatch,
	}
}

func runWatch(_ *cobra.Command, args []string) error {
	logger := buildLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	user, err := username()
	if err != nil {
		return err
	}

	dirs := args
	if loadedCfg != nil {
		dirs = append(dirs, loadedCfg.Watch.Dirs...)
	}

	if len(dirs) == 0 {
		return fmt.Errorf("no directories to watch: pass them as arguments or set watch.dirs in the config file")
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

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if err := watchRecursive(watcher, dir); err != nil {
			return err
		}
	}

	statusf("Watching %s — press Ctrl-C to stop.\n", strings.Join(dirs, ", "))

	pending := make(chan string, pendingBuffer)
	opts := uploadOptions()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(pending)

		return watchLoop(gctx, watcher, pending, logger)
	})

	g.Go(func() error {
		for path := range pending {
			if err := uploadOne(gctx, manager, hist, path, opts); err != nil {
				// One bad file must not stop the watch session.
				logger.Error("upload failed", "path", path, "error", err)
			}
		}

		return nil
	})

	if err := g.Wait(); err != nil && !isInterrupt(err) {
		return err
	}

	statusf("Stopped.\n")

	return nil
}

// watchLoop consumes watcher events, debounces writes, and emits settled
// audio file paths on the pending channel.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, pending chan<- string, logger *slog.Logger) error {
	// One timer per in-flight path; each write resets its timer.
	timers := make(map[string]*time.Timer)
	settled := make(chan string, pendingBuffer)

	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case path := <-settled:
			delete(timers, path)

			select {
			case pending <- path:
			case <-ctx.Done():
				return ctx.Err()
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			handleWatchEvent(event, watcher, timers, settled, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("watcher error", "error", err)
		}
	}
}

// handleWatchEvent processes a single fsnotify event: new directories get
// watched, audio writes restart the settle timer.
func handleWatchEvent(
	event fsnotify.Event, watcher *fsnotify.Watcher,
	timers map[string]*time.Timer, settled chan<- string, logger *slog.Logger,
) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// Removed before we could look at it.
		return
	}

	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := watchRecursive(watcher, event.Name); err != nil {
				logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
		}

		return
	}

	if !audioExtensions[strings.ToLower(filepath.Ext(event.Name))] {
		return
	}

	logger.Debug("file activity", "path", event.Name)

	path := event.Name
	if t, ok := timers[path]; ok {
		t.Reset(settleDelay)
		return
	}

	timers[path] = time.AfterFunc(settleDelay, func() {
		settled <- path
	})
}

// watchRecursive registers dir and every subdirectory with the watcher.
func watchRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("scanning %s: %w", dir, err)
		}

		if d.IsDir() {
			if err := watcher.Add(p); err != nil {
				return fmt.Errorf("watching %s: %w", p, err)
			}
		}

		return nil
	})
}

// isInterrupt reports whether the error is the expected result of Ctrl-C.
func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled)
}
