package sj

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/skyjamlabs/skyjam-go/internal/tokenstore"
)

// Retry and backoff constants for call dispatch.
const (
	maxAttempts   = 5
	baseBackoff   = 1 * time.Second
	maxBackoff    = 10 * time.Second
	backoffFactor = 2.0
)

// Client turns abstract calls into HTTP exchanges through an authenticated
// session, retrying transport-level failures with exponential backoff and
// persisting the token after every dispatch.
type Client struct {
	session  *Session
	store    tokenstore.Store
	identity tokenstore.Identity
	logger   *slog.Logger
	limiter  *rate.Limiter

	// sleepFunc is called to wait between retries. Tests override it to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client at construction time. Unknown options do
// not exist: the set below is the whole configuration surface.
type ClientOption func(*Client)

// WithRateLimit applies a client-side request rate limit across all
// dispatched calls.
func WithRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewClient creates a dispatcher around the session. store may be nil for
// sessions whose tokens are managed entirely by the caller.
func NewClient(session *Session, store tokenstore.Store, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		session:   session,
		store:     store,
		logger:    logger,
		sleepFunc: sleepCtx,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Session returns the underlying authenticated session.
func (c *Client) Session() *Session {
	return c.session
}

// Dispatch executes the call with bounded retries: transport errors and
// non-2xx statuses are retried up to 5 attempts with exponential backoff
// (base 1s, cap 10s). A successful exchange whose parser fails is never
// retried.
func (c *Client) Dispatch(ctx context.Context, call Call) (any, error) {
	return c.dispatch(ctx, call, maxAttempts)
}

// DispatchOnce executes the call with exactly one attempt. Used by the
// upload session-polling loop, which owns its own retry budget and must not
// have another retry layer underneath it.
func (c *Client) DispatchOnce(ctx context.Context, call Call) (any, error) {
	return c.dispatch(ctx, call, 1)
}

func (c *Client) dispatch(ctx context.Context, call Call, attempts int) (result any, err error) {
	// A transparent refresh may occur mid-call; persist the freshest token
	// on every exit path so the stored credential never goes stale, even
	// when the call itself fails.
	defer c.persistToken()

	params := c.mergeParams(call.Params())

	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := calcBackoff(attempt - 1)
			c.logger.Warn("retrying call",
				slog.String("method", call.Method()),
				slog.String("url", call.URL()),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", lastErr.Error()),
			)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, sleepErr
			}
		}

		if c.limiter != nil {
			if waitErr := c.limiter.Wait(ctx); waitErr != nil {
				return nil, waitErr
			}
		}

		resp, sendErr := c.session.Send(
			ctx, call.Method(), call.URL(), call.Header(), call.Body(), params, call.FollowRedirects(),
		)
		if sendErr != nil {
			if ctx.Err() != nil {
				return nil, sendErr
			}

			// Auth failures are fatal to the operation: the token cannot
			// become valid by waiting, only by re-authorizing.
			if errors.Is(sendErr, ErrAuthExpired) || errors.Is(sendErr, ErrAuthExchange) {
				return nil, sendErr
			}

			lastErr = sendErr

			continue
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			lastErr = &APIError{
				StatusCode: resp.StatusCode,
				Message:    string(resp.Body),
				Err:        classifyStatus(resp.StatusCode),
			}

			continue
		}

		parsed, parseErr := call.ParseResponse(resp.Header, resp.Body)
		if parseErr != nil {
			// Terminal: the exchange succeeded, so retrying cannot help.
			return nil, &CallError{Call: call.URL(), Err: parseErr}
		}

		c.logger.Debug("call succeeded",
			slog.String("method", call.Method()),
			slog.String("url", call.URL()),
			slog.Int("status", resp.StatusCode),
		)

		return parsed, nil
	}

	return nil, lastErr
}

// mergeParams unions session-level base parameters with call parameters.
// Session values always appear unless the call declares the same name, in
// which case the call wins.
func (c *Client) mergeParams(callParams map[string][]string) map[string][]string {
	merged := c.session.BaseParams()
	for k, vs := range callParams {
		merged[k] = append([]string(nil), vs...)
	}

	return merged
}

// persistToken saves the session's current token through the store. Failures
// are logged, not propagated: a dispatch result must not be masked by a
// persistence hiccup.
func (c *Client) persistToken() {
	if c.store == nil || c.session.Token() == nil {
		return
	}

	if err := c.store.Save(c.identity, c.session.Token()); err != nil {
		c.logger.Warn("failed to persist token",
			slog.String("identity", c.identity.String()),
			slog.String("error", err.Error()),
		)
	}
}

// calcBackoff computes exponential backoff capped at maxBackoff, without
// jitter. A single client has no thundering-herd concern.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	return time.Duration(backoff)
}

// sleepCtx waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
