// Package mm is the Music Manager client: an authenticated sj session plus
// uploader registration, the upload pipeline, and the manager-side library
// operations (listing, download, quota).
package mm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/skyjamlabs/skyjam-go/internal/deviceid"
	"github.com/skyjamlabs/skyjam-go/internal/mmcalls"
	"github.com/skyjamlabs/skyjam-go/internal/sj"
	"github.com/skyjamlabs/skyjam-go/internal/tokenstore"
	"github.com/skyjamlabs/skyjam-go/internal/transcode"
	"github.com/skyjamlabs/skyjam-go/internal/upload"
)

// Manager wraps an authenticated session with the uploader identity the
// locker service requires for manager operations. One Manager serves one
// logged-in user at a time; SwitchUser moves it to another.
type Manager struct {
	client  *sj.Client
	encoder transcode.Encoder
	logger  *slog.Logger

	// Identity-scoped derived state, established at login and released at
	// logout.
	uploaderID   string
	uploaderName string
	uploader     *upload.Uploader

	// requestedUploaderID overrides MAC derivation when set.
	requestedUploaderID string
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithUploaderID pins the uploader ID instead of deriving it from the
// machine's hardware address. Must be a valid colon-separated MAC shape.
func WithUploaderID(id string) Option {
	return func(m *Manager) {
		m.requestedUploaderID = id
	}
}

// WithEncoder replaces the default ffmpeg encoder.
func WithEncoder(enc transcode.Encoder) Option {
	return func(m *Manager) {
		m.encoder = enc
	}
}

// NewManager builds a manager client over the given credential store. A nil
// httpClient uses a transport with no timeout, required for upload-sized
// payloads.
func NewManager(store tokenstore.Store, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	session := sj.NewSession(sj.MusicManager, httpClient, logger)

	m := &Manager{
		client:  sj.NewClient(session, store, logger),
		encoder: &transcode.FFmpeg{Logger: logger},
		logger:  logger,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Client exposes the underlying dispatcher, mainly for tests and advanced
// callers issuing catalog calls directly.
func (m *Manager) Client() *sj.Client {
	return m.client
}

// UploaderID returns the registered uploader identifier, empty before login.
func (m *Manager) UploaderID() string {
	return m.uploaderID
}

// UploaderName returns the friendly name registered with the service.
func (m *Manager) UploaderName() string {
	return m.uploaderName
}

// Login authenticates the session and registers the uploader identity.
// Returns whether the session ended authorized.
func (m *Manager) Login(ctx context.Context, username string, opts ...sj.LoginOption) (bool, error) {
	authorized, err := m.client.Login(ctx, username, opts...)
	if err != nil || !authorized {
		return authorized, err
	}

	if err := m.registerUploader(ctx); err != nil {
		return false, err
	}

	return true, nil
}

// registerUploader derives (or validates) the uploader ID and announces it
// via upauth. The uploader and its ID are identity-scoped state.
func (m *Manager) registerUploader(ctx context.Context) error {
	id := m.requestedUploaderID
	if id == "" {
		derived, err := deviceid.UploaderID()
		if err != nil {
			return err
		}

		id = derived
	}

	if !deviceid.IsValid(id) {
		return fmt.Errorf("mm: uploader ID %q is not a valid MAC address", id)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	name := fmt.Sprintf("%s (skyjam-go)", hostname)

	upauth, err := mmcalls.NewUpAuth(id, name)
	if err != nil {
		return err
	}

	if _, err := m.client.Dispatch(ctx, upauth); err != nil {
		return fmt.Errorf("mm: uploader authorization: %w", err)
	}

	m.uploaderID = id
	m.uploaderName = name
	m.uploader = upload.New(m.client, id, m.encoder, m.logger)

	m.logger.Info("uploader registered",
		slog.String("uploader_id", id),
		slog.String("uploader_name", name),
	)

	return nil
}

// Logout releases the session and the identity-scoped uploader state.
// Idempotent.
func (m *Manager) Logout() error {
	if err := m.client.Logout(); err != nil {
		return err
	}

	m.uploaderID = ""
	m.uploaderName = ""
	m.uploader = nil

	return nil
}

// SwitchUser logs out and logs in as a different user. Aborts without
// attempting login when logout fails.
func (m *Manager) SwitchUser(ctx context.Context, username string, opts ...sj.LoginOption) (bool, error) {
	if err := m.Logout(); err != nil {
		return false, err
	}

	return m.Login(ctx, username, opts...)
}

// Upload submits one local file through the upload state machine.
func (m *Manager) Upload(ctx context.Context, path string, opts upload.Options) (upload.Result, error) {
	if m.uploader == nil {
		return upload.Result{Filepath: path}, sj.ErrNotAuthenticated
	}

	return m.uploader.UploadFile(ctx, path, opts)
}

// SongsPage fetches one page of the library listing. An empty token
// requests the first page; the returned continuation token is empty on the
// last page.
func (m *Manager) SongsPage(ctx context.Context, continuationToken string) (*mmcalls.ExportIDsResponse, error) {
	if m.uploaderID == "" {
		return nil, sj.ErrNotAuthenticated
	}

	exportCall, err := mmcalls.NewExportIDs(m.uploaderID, mmcalls.ExportTypeAll, continuationToken)
	if err != nil {
		return nil, err
	}

	respAny, err := m.client.Dispatch(ctx, exportCall)
	if err != nil {
		return nil, err
	}

	resp, ok := respAny.(*mmcalls.ExportIDsResponse)
	if !ok {
		return nil, fmt.Errorf("mm: unexpected exportids response type %T", respAny)
	}

	return resp, nil
}

// Songs pages through the whole library listing.
func (m *Manager) Songs(ctx context.Context) ([]mmcalls.TrackRecord, error) {
	var all []mmcalls.TrackRecord

	token := ""

	for {
		page, err := m.SongsPage(ctx, token)
		if err != nil {
			return nil, err
		}

		all = append(all, page.DownloadTrackInfo...)

		token = page.ContinuationToken
		if token == "" {
			return all, nil
		}
	}
}

// Download fetches one song's audio and its suggested filename.
func (m *Manager) Download(ctx context.Context, songID string) (*mmcalls.ExportedTrack, error) {
	if m.uploaderID == "" {
		return nil, sj.ErrNotAuthenticated
	}

	respAny, err := m.client.Dispatch(ctx, mmcalls.NewExport(m.uploaderID, songID))
	if err != nil {
		return nil, err
	}

	exported, ok := respAny.(*mmcalls.ExportedTrack)
	if !ok {
		return nil, fmt.Errorf("mm: unexpected export response type %T", respAny)
	}

	return exported, nil
}

// Quota reports the uploaded track count against the locker allowance.
func (m *Manager) Quota(ctx context.Context) (count, limit int, err error) {
	if m.uploaderID == "" {
		return 0, 0, sj.ErrNotAuthenticated
	}

	stateCall, err := mmcalls.NewClientState(m.uploaderID)
	if err != nil {
		return 0, 0, err
	}

	respAny, err := m.client.Dispatch(ctx, stateCall)
	if err != nil {
		return 0, 0, err
	}

	state, ok := respAny.(*mmcalls.ClientStateResponse)
	if !ok {
		return 0, 0, fmt.Errorf("mm: unexpected clientstate response type %T", respAny)
	}

	return state.TotalTrackCount, state.LockerTrackLimit, nil
}
