package offlinecache

import (
	"net/http"
	"strings"

	"github.com/always-cache/offline-cache/pkg/policy"
)

const cacheStatusHeaderName = "Cache-Status"

type CacheStatusFwdReason string

const (
	// The worker was configured to not handle this request.
	CacheStatusFwdBypass CacheStatusFwdReason = "bypass"

	// The static cache did not contain a response for the request URI.
	CacheStatusFwdUriMiss CacheStatusFwdReason = "uri-miss"

	// Pages always go to the network first while it is reachable.
	CacheStatusFwdRequest CacheStatusFwdReason = "request"

	// Neither the network nor any cache could answer the request.
	CacheStatusFwdMiss CacheStatusFwdReason = "miss"
)

// CacheStatus is a Cache-Status field value (RFC 9211)
// describing how the worker answered a request.
type CacheStatus struct {
	cache     string
	hit       bool
	fwdReason CacheStatusFwdReason
	detail    string
}

func (cs *CacheStatus) Hit() {
	cs.hit = true
}

func (cs *CacheStatus) Forward(reason CacheStatusFwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs CacheStatus) String() string {
	status := cs.cache + "; "
	if cs.hit {
		status += "hit"
	} else {
		status += "fwd=" + string(cs.fwdReason)
	}
	if cs.detail != "" {
		status += "; detail=" + cs.detail
	}
	return status
}

func cacheStatusFor(cache string, class policy.Class, outcome Outcome) CacheStatus {
	cs := CacheStatus{cache: cache}
	switch outcome {
	case OutcomeHit:
		cs.Hit()
	case OutcomeFallbackCache:
		cs.Hit()
		cs.Detail("fallback")
	case OutcomeFallbackOfflinePage:
		cs.Hit()
		cs.Detail("offline-page")
	case OutcomeUnavailable:
		cs.Forward(CacheStatusFwdMiss)
		cs.Detail("offline")
	case OutcomeNetwork, OutcomeStored:
		if class == policy.StaticAsset {
			cs.Forward(CacheStatusFwdUriMiss)
		} else {
			cs.Forward(CacheStatusFwdRequest)
		}
	default:
		cs.Forward(CacheStatusFwdBypass)
	}
	return cs
}

// markCacheStatus appends the worker's Cache-Status entry to h
// if a cache status name is configured.
func (wk *Worker) markCacheStatus(h http.Header, class policy.Class, outcome Outcome) {
	if wk.cacheStatusName == "" {
		return
	}
	h.Add(cacheStatusHeaderName, cacheStatusFor(wk.cacheStatusName, class, outcome).String())
}

// withoutCacheStatus returns h without the worker's own Cache-Status entries,
// keeping those added by the origin.
func (wk *Worker) withoutCacheStatus(h http.Header) http.Header {
	if wk.cacheStatusName == "" || len(h.Values(cacheStatusHeaderName)) == 0 {
		return h
	}
	h = h.Clone()
	values := h.Values(cacheStatusHeaderName)
	h.Del(cacheStatusHeaderName)
	for _, v := range values {
		if !strings.HasPrefix(v, wk.cacheStatusName+";") {
			h.Add(cacheStatusHeaderName, v)
		}
	}
	return h
}
