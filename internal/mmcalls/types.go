package mmcalls

// ResponseCode is the per-track decision returned by the metadata and
// sample endpoints.
type ResponseCode string

// Known decision codes. Anything outside this set is surfaced verbatim as
// the failure reason.
const (
	CodeMatched          ResponseCode = "MATCHED"
	CodeUploadRequested  ResponseCode = "UPLOAD_REQUESTED"
	CodeAlreadyExists    ResponseCode = "ALREADY_EXISTS"
	CodeInvalidSignature ResponseCode = "INVALID_SIGNATURE"
	CodeNotSupported     ResponseCode = "NOT_SUPPORTED"
)

// Source content types the locker service recognizes.
const (
	ContentTypeMP3  = "MP3"
	ContentTypeFLAC = "FLAC"
	ContentTypeWAV  = "WAV"
)

// TrackInfo is the track metadata submitted ahead of an upload. ClientID is
// the caller-chosen stable identifier used to correlate challenge and
// sample responses with the submitted track.
type TrackInfo struct {
	ClientID            string `json:"clientId"`
	Title               string `json:"title"`
	Artist              string `json:"artist,omitempty"`
	Album               string `json:"album,omitempty"`
	AlbumArtist         string `json:"albumArtist,omitempty"`
	Genre               string `json:"genre,omitempty"`
	TrackNumber         int    `json:"trackNumber,omitempty"`
	Year                int    `json:"year,omitempty"`
	DurationMillis      int64  `json:"durationMillis,omitempty"`
	EstimatedSize       int64  `json:"estimatedSize,omitempty"`
	OriginalContentType string `json:"originalContentType"`
	OriginalBitrate     int    `json:"originalBitrate,omitempty"`
}

// ChallengeInfo names the audio excerpt the service wants: which track and
// which slice of it.
type ChallengeInfo struct {
	ClientTrackID  string `json:"clientTrackId"`
	StartMillis    int64  `json:"startMillis"`
	DurationMillis int64  `json:"durationMillis"`
}

// SignedChallengeInfo is a sample challenge plus the server signature that
// must be echoed back with the generated sample.
type SignedChallengeInfo struct {
	ChallengeInfo ChallengeInfo `json:"challengeInfo"`
	Signature     string        `json:"signature"`
}

// TrackSampleResponse is the per-track decision from the metadata or sample
// endpoint.
type TrackSampleResponse struct {
	ClientTrackID string       `json:"clientTrackId"`
	ServerTrackID string       `json:"serverTrackId"`
	ResponseCode  ResponseCode `json:"responseCode"`
}

// MetadataResponse either decides immediately (TrackSampleResponse) or asks
// for content samples (SignedChallengeInfo).
type MetadataResponse struct {
	SignedChallengeInfo []SignedChallengeInfo `json:"signedChallengeInfo"`
	TrackSampleResponse []TrackSampleResponse `json:"trackSampleResponse"`
}

// Challenged reports whether the service requested a content sample before
// deciding.
func (r *MetadataResponse) Challenged() bool {
	return len(r.SignedChallengeInfo) > 0
}

// TrackSample is a generated audio excerpt answering a sample challenge.
// Sample may be empty when the caller forces an empty sample. Bytes are
// base64-encoded on the wire via encoding/json.
type TrackSample struct {
	Track               TrackInfo            `json:"track"`
	Sample              []byte               `json:"sample"`
	AlbumArt            []byte               `json:"albumArt,omitempty"`
	SignedChallengeInfo *SignedChallengeInfo `json:"signedChallengeInfo,omitempty"`
}

// SampleResponse carries the per-track decisions for submitted samples.
type SampleResponse struct {
	TrackSampleResponse []TrackSampleResponse `json:"trackSampleResponse"`
}

// SessionResponse is the transfer-negotiation payload. Exactly one of
// SessionStatus and ErrorMessage is populated on a well-formed response,
// but the service is not reliable about the shape, so every accessor is
// defensive: missing keys read as absent, never as a panic.
type SessionResponse struct {
	SessionStatus *SessionStatus `json:"sessionStatus"`
	ErrorMessage  *ErrorMessage  `json:"errorMessage"`

	// Raw is the undecoded body, kept for failure diagnostics.
	Raw []byte `json:"-"`
}

// SessionStatus describes the negotiated transfer: where to PUT the bytes
// and, after transfer, the final state.
type SessionStatus struct {
	State                  string          `json:"state"`
	ExternalFieldTransfers []FieldTransfer `json:"externalFieldTransfers"`
}

// FieldTransfer names one field's transfer target.
type FieldTransfer struct {
	Name        string   `json:"name"`
	PutInfo     *PutInfo `json:"putInfo"`
	ContentType string   `json:"content_type"` //nolint:tagliatelle // service key
}

// PutInfo carries the pre-authorized transfer URL.
type PutInfo struct {
	URL string `json:"url"`
}

// rupioAdditionalInfoKey is the map key under which the uploader service
// nests its completion info.
const rupioAdditionalInfoKey = "uploader_service.GoogleRupioAdditionalInfo"

// ErrorMessage is the service's nested error shape.
type ErrorMessage struct {
	AdditionalInfo map[string]RupioAdditionalInfo `json:"additionalInfo"`
}

// RupioAdditionalInfo nests the customer-specific response code the polling
// loop classifies on.
type RupioAdditionalInfo struct {
	CompletionInfo struct {
		CustomerSpecificInfo struct {
			ResponseCode int `json:"ResponseCode"` //nolint:tagliatelle // service key
		} `json:"customerSpecificInfo"`
	} `json:"completionInfo"`
}

// TransferTarget returns the upload URL and content type of the first
// external field transfer. ok is false when any link in the chain is
// missing — an unparseable descriptor, not an error.
func (r *SessionResponse) TransferTarget() (uploadURL, contentType string, ok bool) {
	if r == nil || r.SessionStatus == nil || len(r.SessionStatus.ExternalFieldTransfers) == 0 {
		return "", "", false
	}

	transfer := r.SessionStatus.ExternalFieldTransfers[0]
	if transfer.PutInfo == nil || transfer.PutInfo.URL == "" {
		return "", "", false
	}

	return transfer.PutInfo.URL, transfer.ContentType, true
}

// NestedCode digs out the nested server response code from the error shape.
// ok is false when the shape is missing or unparseable.
func (r *SessionResponse) NestedCode() (code int, ok bool) {
	if r == nil || r.ErrorMessage == nil {
		return 0, false
	}

	info, present := r.ErrorMessage.AdditionalInfo[rupioAdditionalInfoKey]
	if !present {
		return 0, false
	}

	return info.CompletionInfo.CustomerSpecificInfo.ResponseCode, true
}

// TrackRecord is one library entry from the paged export listing.
type TrackRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtist string `json:"albumArtist"`
	TrackNumber int    `json:"trackNumber"`
	TrackSize   int64  `json:"trackSize"`
}

// ExportIDsResponse is one page of the library listing. An empty
// ContinuationToken marks the last page.
type ExportIDsResponse struct {
	DownloadTrackInfo []TrackRecord `json:"downloadTrackInfo"`
	ContinuationToken string        `json:"continuationToken"`
}

// ExportedTrack is a downloaded song: raw audio plus the server-suggested
// filename.
type ExportedTrack struct {
	Audio             []byte
	SuggestedFilename string
}

// ClientStateResponse reports locker usage against the track allowance.
type ClientStateResponse struct {
	TotalTrackCount  int `json:"totalTrackCount"`
	LockerTrackLimit int `json:"lockerTrackLimit"`
}
