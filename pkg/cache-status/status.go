package cachestatus

import "fmt"

// HeaderName is the response header carrying the status (RFC 9211).
const HeaderName = "Cache-Status"

const cacheName = "Offline-Cache"

type Status string

const (
	StatusHit = "hit"
	StatusFwd = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss = "vary-miss"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Stored is set when the forwarded response was written to the cache.
	Stored bool
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cacheName, cs.Status)
	if cs.Status == StatusFwd && cs.FwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status = status + "; stored"
	}
	if cs.Detail != "" {
		status = status + "; detail=" + cs.Detail
	}
	return status
}
