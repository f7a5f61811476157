package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skyjamlabs/skyjam-go/internal/sj"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the locker using an OAuth authorization code",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved authentication token",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated account and uploader identity",
		RunE:  runWhoami,
	}
}

// terminalCodePrompt prints the authorization URL and reads the pasted code
// from stdin. Prompts must always be visible — not suppressed by --quiet.
func terminalCodePrompt(authURL string) (string, error) {
	fmt.Fprintf(os.Stderr, "To sign in, visit:\n\n  %s\n\n", authURL)
	fmt.Fprint(os.Stderr, "Enter the authorization code: ")

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading authorization code: %w", err)
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("empty authorization code")
	}

	return code, nil
}

func runLogin(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	user, err := username()
	if err != nil {
		return err
	}

	logger.Info("login started", "username", user)

	manager := newManager(logger)

	authorized, err := manager.Login(ctx, user, sj.WithCodePrompt(terminalCodePrompt))
	if err != nil {
		return err
	}

	if !authorized {
		return fmt.Errorf("login did not produce an authorized session")
	}

	logger.Info("login successful", "username", user)
	statusf("Login successful.\n")

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	user, err := username()
	if err != nil {
		return err
	}

	logger.Info("logout started", "username", user)

	manager := newManager(logger)

	// Restore the stored token so logout releases the right session. A user
	// who never logged in still logs out cleanly.
	if _, err := manager.Login(ctx, user); err != nil {
		logger.Debug("no active session to release", "error", err)
	}

	if err := manager.Logout(); err != nil {
		return err
	}

	logger.Info("logout successful", "username", user)
	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Username     string `json:"username"`
	UploaderID   string `json:"uploader_id"`
	UploaderName string `json:"uploader_name"`
}

func runWhoami(_ *cobra.Command, _ []string) error {
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

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{
			Username:     user,
			UploaderID:   manager.UploaderID(),
			UploaderName: manager.UploaderName(),
		})
	}

	fmt.Printf("Account:  %s\n", user)
	fmt.Printf("Uploader: %s (%s)\n", manager.UploaderName(), manager.UploaderID())

	return nil
}
