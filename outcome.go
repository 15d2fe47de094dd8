package offlinecache

// Outcome describes how an intercepted request was answered.
// It is logged and counted, never sent to the client.
type Outcome string

const (
	// The response was served from the cache without contacting the network.
	OutcomeHit Outcome = "hit"

	// The network answered and the response was stored.
	OutcomeStored Outcome = "stored"

	// The network answered but the response was not stored,
	// e.g. because it was not a 2xx response.
	OutcomeNetwork Outcome = "network"

	// The network could not be reached and a cached response
	// for the request was served instead.
	OutcomeFallbackCache Outcome = "fallback-cache"

	// The network could not be reached and the offline page was served.
	OutcomeFallbackOfflinePage Outcome = "fallback-offline-page"

	// Neither the network nor the caches could answer.
	OutcomeUnavailable Outcome = "unavailable"

	// The request is excluded from caching and was passed to the network.
	OutcomeBypass Outcome = "bypass"

	// The worker is not active yet and the request was passed to the network.
	OutcomeNotControlled Outcome = "not-controlled"
)
