package sj

import (
	"net/http"
	"net/url"
)

// Call describes one remote operation: how to build the request and how to
// interpret the response. Calls are constructed by the call catalog
// (internal/mmcalls); the dispatcher treats them as opaque beyond these
// fields and never builds URLs or parses payloads itself.
type Call interface {
	// Method is the HTTP method.
	Method() string

	// URL is the absolute request URL without query parameters.
	URL() string

	// Header returns call-specific headers, merged over the session's base
	// headers.
	Header() http.Header

	// Body returns the request body, or nil for body-less calls.
	Body() []byte

	// Params returns call-specific query parameters. They are merged with
	// the session's base parameters; on a name collision the call wins.
	Params() url.Values

	// FollowRedirects reports whether the transport should follow 3xx
	// responses for this call.
	FollowRedirects() bool

	// ParseResponse interprets a successful exchange. A parse failure is
	// terminal for the dispatch: the request is never re-sent.
	ParseResponse(header http.Header, body []byte) (any, error)
}
