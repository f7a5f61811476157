// Package mmcalls is the call catalog for the Music Manager endpoints: each
// remote operation is a value implementing sj.Call with its method, URL,
// headers, body, query parameters, redirect policy, and response parser.
// The dispatcher in internal/sj consumes these opaquely.
//
// The manager wire protocol mixes two hosts: the "jumper" endpoints under
// android.clients.google.com/upsj handle metadata, samples, and upload
// state, while the "rupio" endpoint on uploadsj.clients.google.com
// negotiates and receives the actual binary transfer.
package mmcalls

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Endpoint hosts.
const (
	jumperBase = "https://android.clients.google.com/upsj"
	rupioURL   = "https://uploadsj.clients.google.com/uploadsj/rupio"
	exportBase = "https://music.google.com/music"
)

// rupioClientID identifies the uploader to the transfer service.
const rupioClientID = "Jumper Uploader"

// rupioProtocolVersion is the transfer protocol revision the service expects.
const rupioProtocolVersion = "0.8"

// call carries the request-side fields shared by every catalog entry.
type call struct {
	method string
	url    string
	header http.Header
	body   []byte
	params url.Values
	follow bool
}

func (c *call) Method() string        { return c.method }
func (c *call) URL() string           { return c.url }
func (c *call) Header() http.Header   { return c.header }
func (c *call) Body() []byte          { return c.body }
func (c *call) Params() url.Values    { return c.params }
func (c *call) FollowRedirects() bool { return c.follow }

// jsonCall builds a POST with a JSON-encoded body.
func jsonCall(u string, params url.Values, payload any) (call, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return call{}, fmt.Errorf("mmcalls: encoding request: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	return call{
		method: http.MethodPost,
		url:    u,
		header: header,
		body:   body,
		params: params,
		follow: true,
	}, nil
}

// versionParam is the query parameter the jumper endpoints require.
func versionParam(v string) url.Values {
	return url.Values{"version": []string{v}}
}

// UpAuth registers the uploader ID and friendly name with the service.
// Required once per session before any manager operation.
type UpAuth struct {
	call
}

// NewUpAuth builds the uploader-authorization call.
func NewUpAuth(uploaderID, uploaderName string) (*UpAuth, error) {
	c, err := jsonCall(jumperBase+"/upauth", versionParam("1"), map[string]string{
		"uploaderId":   uploaderID,
		"friendlyName": uploaderName,
	})
	if err != nil {
		return nil, err
	}

	return &UpAuth{call: c}, nil
}

// ParseResponse accepts any well-formed body; upauth signals failure via
// HTTP status, not payload.
func (u *UpAuth) ParseResponse(_ http.Header, _ []byte) (any, error) {
	return nil, nil
}

// Metadata submits track metadata ahead of an upload.
type Metadata struct {
	call
}

type metadataRequest struct {
	UploaderID string      `json:"uploaderId"`
	TrackInfo  []TrackInfo `json:"trackInfo"`
}

// NewMetadata builds the metadata-submission call.
func NewMetadata(uploaderID string, tracks []TrackInfo) (*Metadata, error) {
	c, err := jsonCall(jumperBase+"/metadata", versionParam("1"), metadataRequest{
		UploaderID: uploaderID,
		TrackInfo:  tracks,
	})
	if err != nil {
		return nil, err
	}

	return &Metadata{call: c}, nil
}

// ParseResponse unwraps the metadataResponse envelope.
func (m *Metadata) ParseResponse(_ http.Header, body []byte) (any, error) {
	var envelope struct {
		MetadataResponse *MetadataResponse `json:"metadataResponse"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding metadata response: %w", err)
	}

	if envelope.MetadataResponse == nil {
		return nil, fmt.Errorf("metadata response missing metadataResponse field")
	}

	return envelope.MetadataResponse, nil
}

// Sample submits generated audio samples answering a metadata challenge.
type Sample struct {
	call
}

type sampleRequest struct {
	UploaderID  string        `json:"uploaderId"`
	TrackSample []TrackSample `json:"trackSample"`
}

// NewSample builds the sample-submission call.
func NewSample(uploaderID string, samples []TrackSample) (*Sample, error) {
	c, err := jsonCall(jumperBase+"/sample", versionParam("1"), sampleRequest{
		UploaderID:  uploaderID,
		TrackSample: samples,
	})
	if err != nil {
		return nil, err
	}

	return &Sample{call: c}, nil
}

// ParseResponse unwraps the sampleResponse envelope.
func (s *Sample) ParseResponse(_ http.Header, body []byte) (any, error) {
	var envelope struct {
		SampleResponse *SampleResponse `json:"sampleResponse"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding sample response: %w", err)
	}

	if envelope.SampleResponse == nil {
		return nil, fmt.Errorf("sample response missing sampleResponse field")
	}

	return envelope.SampleResponse, nil
}

// UploadStateValue is a lifecycle marker for the upload session.
type UploadStateValue string

// Upload states the service recognizes.
const (
	UploadStateStart   UploadStateValue = "START"
	UploadStatePaused  UploadStateValue = "PAUSED"
	UploadStateStopped UploadStateValue = "STOPPED"
)

// UploadState marks the uploader's transfer state with the service.
type UploadState struct {
	call
}

// NewUploadState builds the state-marking call.
func NewUploadState(uploaderID string, state UploadStateValue) (*UploadState, error) {
	c, err := jsonCall(jumperBase+"/uploadstate", versionParam("1"), map[string]string{
		"uploaderId": uploaderID,
		"state":      string(state),
	})
	if err != nil {
		return nil, err
	}

	return &UploadState{call: c}, nil
}

// ParseResponse accepts any well-formed body; only the HTTP status matters.
func (u *UploadState) ParseResponse(_ http.Header, _ []byte) (any, error) {
	return nil, nil
}

// NewUploadSession asks the transfer service for an upload session for one
// track. The service answers with either a sessionStatus descriptor or a
// nested error the polling loop classifies.
type NewUploadSession struct {
	call
}

// rupio session request shapes. Every scalar rides in an "inlined" field;
// the audio itself is declared as an "external" field the service will
// issue a put URL for.
type createSessionRequest struct {
	ClientID             string        `json:"clientId"`
	CreateSessionRequest sessionFields `json:"createSessionRequest"`
	ProtocolVersion      string        `json:"protocolVersion"`
}

type sessionFields struct {
	Fields []sessionField `json:"fields"`
}

type sessionField struct {
	Inlined  *inlinedField  `json:"inlined,omitempty"`
	External *externalField `json:"external,omitempty"`
}

type inlinedField struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type externalField struct {
	Name     string         `json:"name"`
	Filename string         `json:"filename"`
	Size     int64          `json:"size"`
	Put      map[string]any `json:"put"`
}

// NewNewUploadSession builds the session-negotiation call. serverTrackID is
// the ID assigned by the metadata/sample phase; trackCount and uploadedCount
// describe batch progress for the service's bookkeeping.
func NewNewUploadSession(
	uploaderID, serverTrackID string,
	track TrackInfo,
	filename string,
	size int64,
	trackCount, uploadedCount int,
) (*NewUploadSession, error) {
	inline := func(name, content string) sessionField {
		return sessionField{Inlined: &inlinedField{Name: name, Content: content}}
	}

	req := createSessionRequest{
		ClientID:        rupioClientID,
		ProtocolVersion: rupioProtocolVersion,
		CreateSessionRequest: sessionFields{
			Fields: []sessionField{
				inline("ClientId", rupioClientID),
				inline("UploaderId", uploaderID),
				inline("ServerId", serverTrackID),
				inline("TrackTitle", track.Title),
				inline("TrackBitRate", fmt.Sprintf("%d", track.OriginalBitrate)),
				inline("ClientTotalSongCount", fmt.Sprintf("%d", trackCount)),
				inline("CurrentTotalUploadedCount", fmt.Sprintf("%d", uploadedCount)),
				inline("SyncNow", "true"),
				{External: &externalField{
					Name:     "MUSIC",
					Filename: filename,
					Size:     size,
					Put:      map[string]any{},
				}},
			},
		},
	}

	c, err := jsonCall(rupioURL, nil, req)
	if err != nil {
		return nil, err
	}

	return &NewUploadSession{call: c}, nil
}

// ParseResponse decodes the session payload. A body that is not JSON at all
// is a parse error; a JSON body missing expected keys decodes to an empty
// SessionResponse, which the polling loop classifies as unknown-transient.
func (n *NewUploadSession) ParseResponse(_ http.Header, body []byte) (any, error) {
	return parseSessionResponse(body)
}

// TransferAudio PUTs the audio bytes to the negotiated upload URL.
type TransferAudio struct {
	call
}

// NewTransferAudio builds the binary transfer call against the
// pre-authorized session URL.
func NewTransferAudio(uploadURL string, audio []byte, contentType string) *TransferAudio {
	header := make(http.Header)
	header.Set("Content-Type", contentType)

	return &TransferAudio{call: call{
		method: http.MethodPut,
		url:    uploadURL,
		header: header,
		body:   audio,
		follow: true,
	}}
}

// ParseResponse decodes the post-transfer session payload.
func (t *TransferAudio) ParseResponse(_ http.Header, body []byte) (any, error) {
	return parseSessionResponse(body)
}

func parseSessionResponse(body []byte) (any, error) {
	var resp SessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding session response: %w", err)
	}

	resp.Raw = body

	return &resp, nil
}

// ExportIDs lists the library a page at a time. An empty continuationToken
// requests the first page.
type ExportIDs struct {
	call
}

type exportIDsRequest struct {
	ClientID          string `json:"clientId"`
	ExportType        int    `json:"exportType"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// Export types for the library listing.
const (
	ExportTypeAll       = 1
	ExportTypePurchased = 2
)

// NewExportIDs builds one page request of the library listing.
func NewExportIDs(uploaderID string, exportType int, continuationToken string) (*ExportIDs, error) {
	c, err := jsonCall(exportBase+"/exportids", nil, exportIDsRequest{
		ClientID:          uploaderID,
		ExportType:        exportType,
		ContinuationToken: continuationToken,
	})
	if err != nil {
		return nil, err
	}

	return &ExportIDs{call: c}, nil
}

// ParseResponse decodes one listing page.
func (e *ExportIDs) ParseResponse(_ http.Header, body []byte) (any, error) {
	var resp ExportIDsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding exportids response: %w", err)
	}

	return &resp, nil
}

// Export downloads one song. Follows redirects: the service bounces through
// a signed storage URL.
type Export struct {
	call
}

// NewExport builds the download call for a song ID.
func NewExport(uploaderID, songID string) *Export {
	header := make(http.Header)
	header.Set("X-Device-ID", uploaderID)

	return &Export{call: call{
		method: http.MethodGet,
		url:    exportBase + "/export",
		header: header,
		params: url.Values{
			"version": []string{"2"},
			"songid":  []string{songID},
		},
		follow: true,
	}}
}

// ParseResponse returns the audio bytes plus the filename suggested by the
// Content-Disposition header.
func (e *Export) ParseResponse(header http.Header, body []byte) (any, error) {
	return &ExportedTrack{
		Audio:             body,
		SuggestedFilename: dispositionFilename(header.Get("Content-Disposition")),
	}, nil
}

// dispositionFilename extracts the suggested filename from a
// Content-Disposition header, preferring the RFC 5987 extended form.
func dispositionFilename(disposition string) string {
	if disposition == "" {
		return ""
	}

	const extendedPrefix = "filename*=UTF-8''"
	if idx := strings.Index(disposition, extendedPrefix); idx >= 0 {
		encoded := disposition[idx+len(extendedPrefix):]
		if name, err := url.PathUnescape(encoded); err == nil {
			return name
		}
	}

	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		return params["filename"]
	}

	return ""
}

// ClientState reports locker usage.
type ClientState struct {
	call
}

// NewClientState builds the quota query.
func NewClientState(uploaderID string) (*ClientState, error) {
	c, err := jsonCall(jumperBase+"/clientstate", nil, map[string]string{
		"uploaderId": uploaderID,
	})
	if err != nil {
		return nil, err
	}

	return &ClientState{call: c}, nil
}

// ParseResponse unwraps the clientstateResponse envelope.
func (c *ClientState) ParseResponse(_ http.Header, body []byte) (any, error) {
	var envelope struct {
		ClientStateResponse *ClientStateResponse `json:"clientstateResponse"`
	}

	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding clientstate response: %w", err)
	}

	if envelope.ClientStateResponse == nil {
		return nil, fmt.Errorf("clientstate response missing clientstateResponse field")
	}

	return envelope.ClientStateResponse, nil
}
