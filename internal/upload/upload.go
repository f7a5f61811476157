// Package upload implements the multi-phase upload state machine for the
// locker service: metadata submission, an optional sample challenge, upload
// session polling with bounded retries, conditional transcoding, and the
// final binary transfer. The remote service is non-idempotent and its
// failure responses are inconsistent, so the machine aims for best-effort
// convergence: remote-classified failures come back as structured results,
// never as raised errors.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/skyjamlabs/skyjam-go/internal/mmcalls"
	"github.com/skyjamlabs/skyjam-go/internal/sj"
	"github.com/skyjamlabs/skyjam-go/internal/track"
	"github.com/skyjamlabs/skyjam-go/internal/transcode"
)

// maxTransferSize is the hard cap the remote service enforces: anything at
// or above 300 MiB is rejected server-side, so it is rejected locally
// before any bytes move.
const maxTransferSize = 300 * 1024 * 1024

// Session polling bounds: one initial attempt plus pollRetries more, with a
// fixed pause between attempts to give the upload servers time to sync.
const (
	pollRetries  = 10
	pollInterval = 2 * time.Second
)

// defaultSampleDuration is used when a challenge omits the sample length.
const defaultSampleDuration = 15 * time.Second

// Dispatcher issues catalog calls. Dispatch retries transport failures;
// DispatchOnce performs exactly one exchange, for the polling loop which
// owns its own retry budget.
type Dispatcher interface {
	Dispatch(ctx context.Context, call sj.Call) (any, error)
	DispatchOnce(ctx context.Context, call sj.Call) (any, error)
}

// Options control one upload.
type Options struct {
	// AlbumArtPath points at external cover art. Relative paths resolve
	// against the track's directory. Empty falls back to embedded art.
	AlbumArtPath string

	// NoSample forces an empty audio sample instead of generating one.
	NoSample bool

	// TranscodeLossy re-encodes MP3 sources before transfer.
	TranscodeLossy bool

	// TranscodeLossless allows lossless sources to be transcoded to MP3.
	// Lossless sources always require transcoding; with this off they are
	// skipped rather than sent raw.
	TranscodeLossless bool

	// Quality is the target bitrate in ffmpeg syntax. Empty means 320k.
	Quality string
}

// DefaultOptions matches the service's own manager client: everything
// transcodes to 320k MP3.
func DefaultOptions() Options {
	return Options{
		TranscodeLossy:    true,
		TranscodeLossless: true,
		Quality:           transcode.DefaultQuality,
	}
}

// Result is the structured outcome of one upload attempt. Batch workflows
// need to continue past individual failures, so remote rejections land here
// rather than in an error.
type Result struct {
	Filepath string
	Success  bool
	Reason   string
	SongID   string
}

// Terminal reasons produced locally.
const (
	ReasonMatched  = "Matched"
	ReasonUploaded = "Uploaded"

	reasonSizeExceeded      = "maximum allowed file size exceeded"
	reasonTranscodeDisabled = "Transcoding disabled for file type."
	reasonNoSessionPrefix   = "Could not get upload session: "
)

// Sentinel errors steering the polling loop to a terminal stop.
var (
	errAlreadyUploaded = errors.New("already uploaded")
	errRejected        = errors.New("rejected")

	// errSessionResponse marks a local fault (wrong response type from the
	// dispatcher), which must surface as an error, never as a poll reason.
	errSessionResponse = errors.New("unexpected session response")
)

// Uploader drives the upload state machine against one authenticated
// manager session.
type Uploader struct {
	dispatcher Dispatcher
	uploaderID string
	encoder    transcode.Encoder
	logger     *slog.Logger

	// pollBackoff builds the retry schedule for session polling. Tests
	// override it to avoid real sleeps.
	pollBackoff func() retry.Backoff
}

// New creates an Uploader. uploaderID must be the ID registered via upauth.
func New(dispatcher Dispatcher, uploaderID string, encoder transcode.Encoder, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Uploader{
		dispatcher: dispatcher,
		uploaderID: uploaderID,
		encoder:    encoder,
		logger:     logger,
		pollBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(pollRetries, retry.NewConstant(pollInterval))
		},
	}
}

// UploadFile loads the file at path and uploads it.
func (u *Uploader) UploadFile(ctx context.Context, path string, opts Options) (Result, error) {
	t, err := track.Load(path)
	if err != nil {
		return Result{Filepath: path}, err
	}

	return u.Upload(ctx, t, opts)
}

// Upload submits one track. Local failures (file I/O, encoder) return an
// error; remote-classified failures return Result{Success: false} with a
// reason string.
func (u *Uploader) Upload(ctx context.Context, t *track.Track, opts Options) (Result, error) {
	result := Result{Filepath: t.Path}

	art, err := loadArt(t, opts.AlbumArtPath)
	if err != nil {
		return result, err
	}

	info := trackInfo(t)

	u.logger.Info("submitting metadata",
		slog.String("path", t.Path),
		slog.String("title", info.Title),
		slog.String("format", t.Format.String()),
	)

	decision, err := u.submitMetadata(ctx, t, info, art, opts)
	if err != nil {
		return result, err
	}

	switch decision.ResponseCode {
	case mmcalls.CodeMatched:
		result.Success = true
		result.Reason = ReasonMatched
		result.SongID = decision.ServerTrackID

		return result, nil

	case mmcalls.CodeUploadRequested:
		return u.transfer(ctx, t, info, decision.ServerTrackID, opts, result)

	default:
		// Terminal decision; the code's name is the reason. Already-exists
		// still identifies the server-side song.
		result.Reason = string(decision.ResponseCode)
		if decision.ResponseCode == mmcalls.CodeAlreadyExists {
			result.SongID = decision.ServerTrackID
		}

		return result, nil
	}
}

// submitMetadata runs the MetadataSubmit phase and, when challenged, the
// SampleChallenge phase. Returns the per-track decision.
func (u *Uploader) submitMetadata(
	ctx context.Context,
	t *track.Track,
	info mmcalls.TrackInfo,
	art []byte,
	opts Options,
) (mmcalls.TrackSampleResponse, error) {
	var zero mmcalls.TrackSampleResponse

	metaCall, err := mmcalls.NewMetadata(u.uploaderID, []mmcalls.TrackInfo{info})
	if err != nil {
		return zero, err
	}

	respAny, err := u.dispatcher.Dispatch(ctx, metaCall)
	if err != nil {
		return zero, err
	}

	meta, ok := respAny.(*mmcalls.MetadataResponse)
	if !ok {
		return zero, fmt.Errorf("upload: unexpected metadata response type %T", respAny)
	}

	if meta.Challenged() {
		return u.answerChallenge(ctx, t, info, meta.SignedChallengeInfo[0], art, opts)
	}

	if len(meta.TrackSampleResponse) == 0 {
		return zero, fmt.Errorf("upload: metadata response carries neither challenge nor decision")
	}

	return meta.TrackSampleResponse[0], nil
}

// answerChallenge generates the requested audio sample and submits it.
// Local errors from clip extraction or art loading propagate unchanged:
// these are input errors, not transient service conditions.
func (u *Uploader) answerChallenge(
	ctx context.Context,
	t *track.Track,
	info mmcalls.TrackInfo,
	challenge mmcalls.SignedChallengeInfo,
	art []byte,
	opts Options,
) (mmcalls.TrackSampleResponse, error) {
	var zero mmcalls.TrackSampleResponse

	sample, err := u.generateSample(ctx, t, challenge, opts)
	if err != nil {
		return zero, err
	}

	u.logger.Debug("submitting sample",
		slog.String("path", t.Path),
		slog.Int("sample_bytes", len(sample)),
	)

	sampleCall, err := mmcalls.NewSample(u.uploaderID, []mmcalls.TrackSample{{
		Track:               info,
		Sample:              sample,
		AlbumArt:            art,
		SignedChallengeInfo: &challenge,
	}})
	if err != nil {
		return zero, err
	}

	respAny, err := u.dispatcher.Dispatch(ctx, sampleCall)
	if err != nil {
		return zero, err
	}

	resp, ok := respAny.(*mmcalls.SampleResponse)
	if !ok {
		return zero, fmt.Errorf("upload: unexpected sample response type %T", respAny)
	}

	if len(resp.TrackSampleResponse) == 0 {
		return zero, fmt.Errorf("upload: sample response carries no decision")
	}

	return resp.TrackSampleResponse[0], nil
}

// generateSample extracts the challenged slice as MP3, or returns an empty
// sample when the caller forces one.
func (u *Uploader) generateSample(
	ctx context.Context,
	t *track.Track,
	challenge mmcalls.SignedChallengeInfo,
	opts Options,
) ([]byte, error) {
	if opts.NoSample {
		return nil, nil
	}

	start := time.Duration(challenge.ChallengeInfo.StartMillis) * time.Millisecond

	duration := time.Duration(challenge.ChallengeInfo.DurationMillis) * time.Millisecond
	if duration <= 0 {
		duration = defaultSampleDuration
	}

	return u.encoder.Clip(ctx, t.Path, start, duration, opts.Quality)
}

// transfer runs SessionNegotiate and Transfer. Once a session exists, the
// STOPPED marker is sent on every exit path, success or failure.
func (u *Uploader) transfer(
	ctx context.Context,
	t *track.Track,
	info mmcalls.TrackInfo,
	serverTrackID string,
	opts Options,
	result Result,
) (Result, error) {
	if err := u.markState(ctx, mmcalls.UploadStateStart); err != nil {
		return result, err
	}

	target, failReason, err := u.negotiate(ctx, t, info, serverTrackID)
	if err != nil {
		return result, err
	}

	if target == nil {
		result.Reason = reasonNoSessionPrefix + failReason

		return result, nil
	}

	defer func() {
		if stopErr := u.markState(ctx, mmcalls.UploadStateStopped); stopErr != nil {
			u.logger.Warn("failed to mark upload stopped", slog.String("error", stopErr.Error()))
		}
	}()

	payload, contentType, skipReason, err := u.preparePayload(ctx, t, target.contentType, opts)
	if err != nil {
		return result, err
	}

	if skipReason != "" {
		result.Reason = skipReason

		return result, nil
	}

	if len(payload) >= maxTransferSize {
		result.Reason = reasonSizeExceeded

		return result, nil
	}

	u.logger.Info("transferring audio",
		slog.String("path", t.Path),
		slog.Int("bytes", len(payload)),
		slog.String("content_type", contentType),
	)

	respAny, err := u.dispatcher.Dispatch(ctx, mmcalls.NewTransferAudio(target.url, payload, contentType))
	if err != nil {
		return result, err
	}

	final, ok := respAny.(*mmcalls.SessionResponse)
	if !ok {
		return result, fmt.Errorf("upload: unexpected transfer response type %T", respAny)
	}

	if final.SessionStatus != nil && final.SessionStatus.State != "" {
		result.Success = true
		result.Reason = ReasonUploaded
		result.SongID = serverTrackID

		return result, nil
	}

	// Carry the raw response for diagnostics; the service does not say why.
	result.Reason = fmt.Sprintf("upload failed: %s", final.Raw)

	return result, nil
}

// sessionTarget is the negotiated transfer destination.
type sessionTarget struct {
	url         string
	contentType string
}

// negotiate polls for an upload session: one dispatch attempt per poll, up
// to eleven polls two time units apart. Classification is pure; this loop
// only drives it. Returns (nil, reason, nil) on a terminal negotiation
// failure, and an error only for cancellation or local faults.
func (u *Uploader) negotiate(
	ctx context.Context,
	t *track.Track,
	info mmcalls.TrackInfo,
	serverTrackID string,
) (*sessionTarget, string, error) {
	sessionCall, err := mmcalls.NewNewUploadSession(
		u.uploaderID, serverTrackID, info, filepath.Base(t.Path), t.Size, 1, 0,
	)
	if err != nil {
		return nil, "", err
	}

	lastReason := reasonUnknownError

	var target *sessionTarget

	attempt := 0

	retryErr := retry.Do(ctx, u.pollBackoff(), func(ctx context.Context) error {
		attempt++

		// Retries are disabled underneath: the polling loop owns the whole
		// retry budget.
		respAny, dispatchErr := u.dispatcher.DispatchOnce(ctx, sessionCall)
		if dispatchErr != nil {
			// Network-classified errors are absorbed as unknown transients.
			lastReason = reasonUnknownError

			u.logger.Debug("session poll failed",
				slog.Int("attempt", attempt),
				slog.String("error", dispatchErr.Error()),
			)

			return retry.RetryableError(dispatchErr)
		}

		resp, ok := respAny.(*mmcalls.SessionResponse)
		if !ok {
			return fmt.Errorf("upload: %w type %T", errSessionResponse, respAny)
		}

		outcome := classifyPoll(resp)
		lastReason = outcome.reason

		u.logger.Debug("session poll classified",
			slog.Int("attempt", attempt),
			slog.Int("kind", int(outcome.kind)),
			slog.String("reason", outcome.reason),
		)

		switch outcome.kind {
		case outcomeSessionReady:
			target = &sessionTarget{url: outcome.uploadURL, contentType: outcome.contentType}

			return nil
		case outcomeAlreadyDone:
			return errAlreadyUploaded
		case outcomeRejected:
			return errRejected
		default:
			return retry.RetryableError(fmt.Errorf("upload session not ready: %s", outcome.reason))
		}
	})

	switch {
	case retryErr == nil:
		return target, "", nil
	case errors.Is(retryErr, errAlreadyUploaded), errors.Is(retryErr, errRejected):
		return nil, lastReason, nil
	case errors.Is(retryErr, errSessionResponse), ctx.Err() != nil:
		return nil, "", retryErr
	default:
		// Retry budget exhausted; the reason embeds the last classification.
		return nil, lastReason, nil
	}
}

// preparePayload decides transcoding and returns the bytes to transfer.
// Policy: lossless sources always require transcoding (raw FLAC/WAV is
// never sent; with TranscodeLossless off the file is skipped). MP3 sources
// are re-encoded only when TranscodeLossy is set, otherwise the original
// bytes go as-is.
func (u *Uploader) preparePayload(
	ctx context.Context,
	t *track.Track,
	negotiatedContentType string,
	opts Options,
) (payload []byte, contentType, skipReason string, err error) {
	switch {
	case t.Format.Lossless():
		if !opts.TranscodeLossless {
			return nil, "", reasonTranscodeDisabled, nil
		}

		payload, err = u.encoder.EncodeMP3(ctx, t.Path, opts.Quality)

		return payload, defaultTransferContentType, "", err

	case opts.TranscodeLossy:
		payload, err = u.encoder.EncodeMP3(ctx, t.Path, opts.Quality)

		return payload, defaultTransferContentType, "", err

	default:
		payload, err = os.ReadFile(t.Path)
		if err != nil {
			return nil, "", "", fmt.Errorf("upload: reading %s: %w", t.Path, err)
		}

		return payload, negotiatedContentType, "", nil
	}
}

// markState issues an upload-state marker through the normal retrying
// dispatcher.
func (u *Uploader) markState(ctx context.Context, state mmcalls.UploadStateValue) error {
	stateCall, err := mmcalls.NewUploadState(u.uploaderID, state)
	if err != nil {
		return err
	}

	_, err = u.dispatcher.Dispatch(ctx, stateCall)

	return err
}

// trackInfo converts a parsed track to the submission shape. The client ID
// is fresh per attempt; the service correlates challenge and decision by it
// within one exchange only.
func trackInfo(t *track.Track) mmcalls.TrackInfo {
	return mmcalls.TrackInfo{
		ClientID:            uuid.NewString(),
		Title:               t.Title,
		Artist:              t.Artist,
		Album:               t.Album,
		AlbumArtist:         t.AlbumArtist,
		Genre:               t.Genre,
		TrackNumber:         t.TrackNumber,
		Year:                t.Year,
		EstimatedSize:       t.Size,
		OriginalContentType: t.Format.String(),
	}
}

// loadArt resolves cover art: an explicit external path wins (relative
// paths resolve against the track's directory), otherwise embedded art is
// used. A named file that cannot be read is a local error.
func loadArt(t *track.Track, artPath string) ([]byte, error) {
	if artPath == "" {
		return t.EmbeddedArt, nil
	}

	if !filepath.IsAbs(artPath) {
		artPath = filepath.Join(filepath.Dir(t.Path), artPath)
	}

	art, err := os.ReadFile(artPath)
	if err != nil {
		return nil, fmt.Errorf("upload: reading album art %s: %w", artPath, err)
	}

	return art, nil
}
