package upload

import (
	"github.com/skyjamlabs/skyjam-go/internal/mmcalls"
)

// Nested server codes the polling loop understands. These arrive inside the
// rupio error envelope, not as HTTP statuses.
const (
	nestedCodeAlreadyUploaded = 200
	nestedCodeRejected        = 404
	nestedCodeServerSyncing   = 503
)

// outcomeKind is the closed set of poll classifications.
type outcomeKind int

const (
	// outcomeSessionReady: the response carries a usable transfer target.
	outcomeSessionReady outcomeKind = iota

	// outcomeTransient: keep polling (server syncing, or unknown error shape).
	outcomeTransient

	// outcomeAlreadyDone: the song is already uploaded; stop polling, no
	// transfer.
	outcomeAlreadyDone

	// outcomeRejected: the service refused the track; stop polling.
	outcomeRejected
)

// pollOutcome is one classified poll response.
type pollOutcome struct {
	kind        outcomeKind
	reason      string
	uploadURL   string
	contentType string
}

// defaultTransferContentType is used when the session descriptor omits one.
const defaultTransferContentType = "audio/mpeg"

// Reasons reported by the polling loop, matching the service's semantics.
const (
	reasonServerSyncing   = "Server syncing"
	reasonAlreadyUploaded = "Already uploaded"
	reasonRejected        = "Rejected"
	reasonUnknownError    = "Unknown error"
)

// classifyPoll maps one session-negotiation response to an outcome. Pure
// function: the retry driver owns all looping and sleeping. An unparseable
// error shape is deliberately transient — the service is known to return
// garbage while its upload servers sync.
func classifyPoll(resp *mmcalls.SessionResponse) pollOutcome {
	if uploadURL, contentType, ok := resp.TransferTarget(); ok {
		if contentType == "" {
			contentType = defaultTransferContentType
		}

		return pollOutcome{
			kind:        outcomeSessionReady,
			uploadURL:   uploadURL,
			contentType: contentType,
		}
	}

	code, ok := resp.NestedCode()
	if !ok {
		return pollOutcome{kind: outcomeTransient, reason: reasonUnknownError}
	}

	switch code {
	case nestedCodeServerSyncing:
		return pollOutcome{kind: outcomeTransient, reason: reasonServerSyncing}
	case nestedCodeAlreadyUploaded:
		return pollOutcome{kind: outcomeAlreadyDone, reason: reasonAlreadyUploaded}
	case nestedCodeRejected:
		return pollOutcome{kind: outcomeRejected, reason: reasonRejected}
	default:
		return pollOutcome{kind: outcomeTransient, reason: reasonUnknownError}
	}
}
