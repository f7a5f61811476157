package sj

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/skyjamlabs/skyjam-go/internal/tokenstore"
)

// storedTokenSkew is how far into the past a loaded token's expiry is forced.
// The very next send then triggers a refresh, validating that the stored
// token is still good before any real call depends on it.
const storedTokenSkew = 10 * time.Second

// CodePrompt surfaces the authorization URL to the user and returns the
// authorization code they obtained. How that happens (terminal prompt,
// browser capture) is the caller's business.
type CodePrompt func(authorizationURL string) (code string, err error)

// loginConfig collects Login options. The recognized option set is closed;
// there are no pass-through attributes.
type loginConfig struct {
	token  *oauth2.Token
	prompt CodePrompt
}

// LoginOption configures a single Login call.
type LoginOption func(*loginConfig)

// WithToken supplies a caller-held token, bypassing both the credential
// store and interactive authorization.
func WithToken(tok *oauth2.Token) LoginOption {
	return func(lc *loginConfig) {
		lc.token = tok
	}
}

// WithCodePrompt installs the interactive authorization collaborator used
// when no stored or supplied token exists.
func WithCodePrompt(prompt CodePrompt) LoginOption {
	return func(lc *loginConfig) {
		lc.prompt = prompt
	}
}

// Login authenticates the session for username. Resolution order: a token
// supplied via WithToken, then the credential store, then interactive
// authorization through the code prompt. Whichever path installed the
// token, one refresh is performed before returning to normalize expiry
// state and confirm the credential still works, and the result is
// persisted. Returns whether the session ended authorized.
func (c *Client) Login(ctx context.Context, username string, opts ...LoginOption) (bool, error) {
	var lc loginConfig
	for _, opt := range opts {
		opt(&lc)
	}

	c.identity = tokenstore.Identity{Username: username, Client: c.session.ClientKind()}

	switch {
	case lc.token != nil:
		c.session.SetToken(lc.token)

	default:
		if err := c.installStoredOrInteractive(ctx, lc.prompt); err != nil {
			return false, err
		}
	}

	if _, err := c.session.Refresh(ctx); err != nil {
		return false, fmt.Errorf("sj: validating token for %s: %w", c.identity, err)
	}

	c.persistToken()

	c.logger.Info("logged in",
		slog.String("identity", c.identity.String()),
		slog.Bool("authorized", c.session.Authorized()),
	)

	return c.session.Authorized(), nil
}

// installStoredOrInteractive loads a stored token, or falls back to the
// interactive authorization-code flow when none exists.
func (c *Client) installStoredOrInteractive(ctx context.Context, prompt CodePrompt) error {
	if c.store != nil {
		tok, err := c.store.Load(c.identity)
		if err == nil {
			// Treat the loaded token as already expired so the follow-up
			// refresh validates it instead of trusting a stale expiry.
			tok.Expiry = time.Now().Add(-storedTokenSkew)
			c.session.SetToken(tok)

			return nil
		}

		if !errors.Is(err, tokenstore.ErrNotFound) {
			return err
		}
	}

	if prompt == nil {
		return fmt.Errorf("%w: no stored token and no code prompt configured", ErrNotAuthenticated)
	}

	authURL, err := c.session.AuthorizationURL()
	if err != nil {
		return err
	}

	code, err := prompt(authURL)
	if err != nil {
		return fmt.Errorf("sj: obtaining authorization code: %w", err)
	}

	_, err = c.session.ExchangeCode(ctx, code)

	return err
}

// Logout releases the session's token and identity. Idempotent: logging out
// twice is a no-op. The stored credential file is left in place so a later
// login can reuse it.
func (c *Client) Logout() error {
	c.session.SetToken(nil)
	c.identity = tokenstore.Identity{}

	c.logger.Info("logged out")

	return nil
}

// SwitchUser logs out and logs in as a different user. When logout fails
// the switch aborts without attempting login.
func (c *Client) SwitchUser(ctx context.Context, username string, opts ...LoginOption) (bool, error) {
	if err := c.Logout(); err != nil {
		return false, err
	}

	return c.Login(ctx, username, opts...)
}
