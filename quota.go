package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show locker usage against the track allowance",
		RunE:  runQuota,
	}
}

// quotaOutput is the JSON schema for `quota --json`.
type quotaOutput struct {
	Tracks int `json:"tracks"`
	Limit  int `json:"limit"`
}

func runQuota(_ *cobra.Command, _ []string) error {
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

	count, limit, err := manager.Quota(ctx)
	if err != nil {
		return fmt.Errorf("fetching quota: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(quotaOutput{Tracks: count, Limit: limit})
	}

	fmt.Printf("Tracks: %d / %d\n", count, limit)

	return nil
}
