package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skyjamlabs/skyjam-go/internal/mmcalls"
)

func newSongsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "songs",
		Short: "List all tracks in the locker",
		RunE:  runSongs,
	}
}

// songOutput is the JSON schema for `songs --json`.
type songOutput struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
	Size   int64  `json:"size"`
}

func runSongs(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	user, err := username()
	if err != nil {
		return err
	}

	manager := newManager(logger)

	if err := ensureLogin(ctx, manager, user); err != nil {
		return err
	}

	tracks, err := manager.Songs(ctx)
	if err != nil {
		return fmt.Errorf("listing songs: %w", err)
	}

	if flagJSON {
		return printSongsJSON(tracks)
	}

	printSongsTable(tracks)
	statusf("%d tracks\n", len(tracks))

	return nil
}

func printSongsJSON(tracks []mmcalls.TrackRecord) error {
	out := make([]songOutput, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, songOutput{
			ID:     t.ID,
			Title:  t.Title,
			Artist: t.Artist,
			Album:  t.Album,
			Size:   t.TrackSize,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printSongsTable(tracks []mmcalls.TrackRecord) {
	rows := make([][]string, 0, len(tracks))
	for _, t := range tracks {
		rows = append(rows, []string{t.ID, t.Artist, t.Album, t.Title, formatSize(t.TrackSize)})
	}

	printTable(os.Stdout, []string{"ID", "ARTIST", "ALBUM", "TITLE", "SIZE"}, rows)
}
