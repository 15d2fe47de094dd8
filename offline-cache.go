package offlinecache

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/pkg/notification"
	"github.com/always-cache/offline-cache/pkg/policy"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
	"github.com/always-cache/offline-cache/queue"

	"github.com/rs/zerolog"
)

const (
	staticUnavailableBody  = "Asset not available offline"
	dynamicUnavailableBody = "Page not available offline"
)

// DefaultManifest lists the paths precached on install.
var DefaultManifest = []string{
	"/",
	"/static/css/responsive.css",
	"/static/css/home-fixes.css",
	"/static/css/rtl-support.css",
	"/static/js/performance-optimizations.js",
	"/static/images/default-avatar.svg",
	"/static/images/apple-touch-icon.png",
}

type Config struct {
	// Storage for the named caches.
	Storage cache.Storage
	// Queue of pending form submissions. An in-memory queue is used if nil.
	Queue queue.Queue
	// URL of the origin server.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Fetcher to use for the network. Requests go to OriginURL if nil.
	Fetcher Fetcher
	// Timeout for network requests made by the default fetcher (0 means none).
	FetchTimeout time.Duration
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Metrics to record to. Nothing is recorded if nil.
	Metrics *Metrics

	// Version tags; changing one replaces the corresponding cache on activation.
	StaticVersion  string
	DynamicVersion string
	// Cache name prefixes, "static" and "dynamic" by default.
	StaticPrefix  string
	DynamicPrefix string

	// Paths precached on install. DefaultManifest if nil.
	Manifest []string
	// Classification rules. policy.DefaultRules() if nil.
	Rules policy.Rules
	// Path served when a page is not available offline.
	OfflinePage string
	// Cache name reported in a Cache-Status response header. No header is added if empty.
	CacheStatus string

	// Background sync tag and the URL pending forms are posted to.
	SyncTag string
	SyncURL string
	// Periodic sync tag that refreshes the static cache.
	PeriodicSyncTag string

	// How push notifications look.
	Notification notification.Options
	// Displays notifications. Notifications are logged if nil.
	Notifier notification.Notifier
	// Opens windows on notification clicks. Clicks are only logged if nil.
	Opener notification.WindowOpener
}

// Worker is the offline cache: it precaches the manifest on install,
// drops old caches on activate and then answers intercepted requests
// from the network or the caches depending on their class.
type Worker struct {
	storage  cache.Storage
	queue    queue.Queue
	fetcher  Fetcher
	keyer    cachekey.CacheKeyer
	log      zerolog.Logger
	metrics  *Metrics
	rules    policy.Rules
	manifest []string

	staticName  string
	dynamicName string
	offlinePage string

	cacheStatusName string

	syncTag         string
	syncURL         string
	periodicSyncTag string

	notificationOptions notification.Options
	notifier            notification.Notifier
	opener              notification.WindowOpener

	stateMutex sync.RWMutex
	state      State
}

// CreateWorker initializes a worker in the parsed state.
// The worker passes requests through until it has been installed and activated.
func CreateWorker(config Config) *Worker {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	wk := &Worker{
		storage:             config.Storage,
		queue:               config.Queue,
		fetcher:             config.Fetcher,
		keyer:               cachekey.NewCacheKeyer(config.OriginURL.String()),
		log:                 logger,
		metrics:             config.Metrics,
		rules:               config.Rules,
		manifest:            config.Manifest,
		staticName:          cacheName(orDefault(config.StaticPrefix, "static"), orDefault(config.StaticVersion, "v1")),
		dynamicName:         cacheName(orDefault(config.DynamicPrefix, "dynamic"), orDefault(config.DynamicVersion, "v1")),
		offlinePage:         orDefault(config.OfflinePage, "/offline/"),
		cacheStatusName:     config.CacheStatus,
		syncTag:             orDefault(config.SyncTag, "contact-form"),
		syncURL:             orDefault(config.SyncURL, "/contact/"),
		periodicSyncTag:     orDefault(config.PeriodicSyncTag, "cache-update"),
		notificationOptions: config.Notification,
		notifier:            config.Notifier,
		opener:              config.Opener,
		state:               StateParsed,
	}
	if wk.storage == nil {
		wk.storage = cache.NewMemStorage()
	}
	if wk.queue == nil {
		wk.queue = queue.NewMemQueue()
	}
	if wk.fetcher == nil {
		wk.fetcher = NewOriginFetcher(config.OriginURL, config.OriginHost, config.FetchTimeout)
	}
	if wk.rules == nil {
		wk.rules = policy.DefaultRules()
	}
	if wk.manifest == nil {
		wk.manifest = DefaultManifest
	}
	if wk.notifier == nil {
		wk.notifier = notification.LogNotifier{Logger: logger}
	}
	return wk
}

func cacheName(prefix, version string) string {
	return prefix + "-" + version
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

// StaticCacheName is the name of the current static cache, e.g. static-v1.
func (wk *Worker) StaticCacheName() string {
	return wk.staticName
}

// DynamicCacheName is the name of the current dynamic cache, e.g. dynamic-v1.
func (wk *Worker) DynamicCacheName() string {
	return wk.dynamicName
}

// CacheInfo describes a cache in the storage.
type CacheInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// Caches lists the caches in the storage in creation order.
func (wk *Worker) Caches() ([]CacheInfo, error) {
	names, err := wk.storage.Names()
	if err != nil {
		return nil, err
	}
	infos := make([]CacheInfo, 0, len(names))
	for _, name := range names {
		c, err := wk.storage.Open(name)
		if err != nil {
			return nil, err
		}
		count, err := c.Count()
		if err != nil {
			return nil, err
		}
		infos = append(infos, CacheInfo{
			Name:    name,
			Entries: count,
			Current: name == wk.staticName || name == wk.dynamicName,
		})
	}
	return infos, nil
}

// ServeHTTP implements the http.Handler interface.
func (wk *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	class := wk.rules.Classify(r.Method, r.URL.Path)
	w := &headerTracker{ResponseWriter: rw}
	defer wk.recover(w, r, class)

	if wk.State() != StateActivated {
		wk.passThrough(w, r, class, OutcomeNotControlled)
		return
	}
	switch class {
	case policy.StaticAsset:
		wk.cacheFirst(w, r)
	case policy.DynamicPage:
		wk.networkFirst(w, r)
	default:
		wk.passThrough(w, r, class, OutcomeBypass)
	}
}

// recover answers a panicking request as if both network and caches failed.
// A response that was already started is left as is.
func (wk *Worker) recover(w *headerTracker, r *http.Request, class policy.Class) {
	if rec := recover(); rec != nil {
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		wk.log.Error().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Bool("started", w.wroteHeader).
			Msgf("Recovered from panic: %v", rec)
		if !w.wroteHeader {
			wk.unavailable(w, r, class)
		}
	}
}

// headerTracker records whether a response has been started.
type headerTracker struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *headerTracker) WriteHeader(statusCode int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *headerTracker) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *headerTracker) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// cacheFirst serves static assets from the static cache,
// going to the network only on a miss.
func (wk *Worker) cacheFirst(w http.ResponseWriter, r *http.Request) {
	key := wk.keyer.GetKey(r)
	if sRes, ok := wk.matchIn(wk.staticName, key, r); ok {
		wk.send(w, r, policy.StaticAsset, sRes, OutcomeHit)
		return
	}
	res, err := wk.fetcher.Fetch(r)
	if err != nil {
		wk.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network unavailable for static asset")
		wk.unavailable(w, r, policy.StaticAsset)
		return
	}
	defer res.Body.Close()
	outcome := wk.relay(w, r, res, policy.StaticAsset, wk.staticName)
	wk.logRequest(r, policy.StaticAsset, outcome, res.StatusCode)
}

// networkFirst serves pages from the network, storing successful responses.
// When the network is unavailable the caches and then the offline page are tried.
func (wk *Worker) networkFirst(w http.ResponseWriter, r *http.Request) {
	res, err := wk.fetcher.Fetch(r)
	if err != nil {
		wk.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network unavailable for page")
		wk.fallback(w, r)
		return
	}
	defer res.Body.Close()
	outcome := wk.relay(w, r, res, policy.DynamicPage, wk.dynamicName)
	wk.logRequest(r, policy.DynamicPage, outcome, res.StatusCode)
}

func (wk *Worker) fallback(w http.ResponseWriter, r *http.Request) {
	key := wk.keyer.GetKey(r)
	if sRes, ok := wk.matchIn(wk.dynamicName, key, r); ok {
		wk.send(w, r, policy.DynamicPage, sRes, OutcomeFallbackCache)
		return
	}
	if sRes, ok := wk.matchAll(key, r); ok {
		wk.send(w, r, policy.DynamicPage, sRes, OutcomeFallbackCache)
		return
	}
	if sRes, ok := wk.matchAll(wk.keyer.PathKey(wk.offlinePage), nil); ok {
		wk.send(w, r, policy.DynamicPage, sRes, OutcomeFallbackOfflinePage)
		return
	}
	wk.unavailable(w, r, policy.DynamicPage)
}

// passThrough sends the request to the network and relays the response without storing it.
func (wk *Worker) passThrough(w http.ResponseWriter, r *http.Request, class policy.Class, outcome Outcome) {
	wk.log.Trace().Msgf("proxying %s", r.URL.String())
	res, err := wk.fetcher.Fetch(r)
	if err != nil {
		wk.log.Error().Err(err).Str("url", r.URL.String()).Msg("Error contacting origin")
		wk.markCacheStatus(w.Header(), class, OutcomeUnavailable)
		w.WriteHeader(http.StatusBadGateway)
		wk.logRequest(r, class, OutcomeUnavailable, http.StatusBadGateway)
		return
	}
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	wk.markCacheStatus(w.Header(), class, outcome)
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		wk.log.Debug().Err(err).Msg("Could not write response body to client")
	}
	wk.logRequest(r, class, outcome, res.StatusCode)
}

// relay writes the network response to the client
// and stores a copy in the named cache if it is a 2xx response.
func (wk *Worker) relay(w http.ResponseWriter, r *http.Request, res *http.Response, class policy.Class, cacheName string) Outcome {
	if wk.cacheStatusName != "" {
		header := http.Header{}
		copyHeader(header, res.Header)
		wk.markCacheStatus(header, class, OutcomeNetwork)
		res.Header = header
	}
	rwtee, err := record(w, res)
	if err != nil {
		// the body is incomplete, do not store it
		wk.log.Warn().Err(err).Str("url", r.URL.String()).Msg("Could not read response body from origin")
		return OutcomeNetwork
	}
	if err := rwtee.ClientError(); err != nil {
		wk.log.Debug().Err(err).Msg("Could not write response body to client")
	}
	if !isSuccess(res.StatusCode) {
		return OutcomeNetwork
	}
	if stored := wk.store(r.Context(), cacheName, r, rwtee); !stored {
		return OutcomeNetwork
	}
	return OutcomeStored
}

// record saves the response while writing it to w.
// If w is nil the response is only saved.
func record(w http.ResponseWriter, res *http.Response) (*tee.ResponseSaver, error) {
	rwtee := tee.NewResponseSaver(w)
	copyHeader(rwtee.Header(), res.Header)
	removeHopHeaders(rwtee.Header())
	rwtee.WriteHeader(res.StatusCode)
	_, err := io.Copy(rwtee, res.Body)
	return rwtee, err
}

// store writes a recorded response to the named cache.
// Failures are logged and counted, they never affect the response.
func (wk *Worker) store(ctx context.Context, cacheName string, r *http.Request, rwtee *tee.ResponseSaver) bool {
	if err := ctx.Err(); err != nil {
		wk.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Request cancelled, not storing response")
		wk.metrics.cacheWrite(cacheName, "skipped")
		return false
	}
	if err := wk.put(cacheName, wk.keyer.GetKey(r), r, rwtee); err != nil {
		wk.log.Error().Err(err).Str("cache", cacheName).Str("url", r.URL.String()).Msg("Could not write to cache")
		wk.metrics.cacheWrite(cacheName, "error")
		return false
	}
	wk.metrics.cacheWrite(cacheName, "ok")
	return true
}

func (wk *Worker) put(cacheName, key string, r *http.Request, rwtee *tee.ResponseSaver) error {
	entry, err := wk.entry(key, r, rwtee)
	if err != nil {
		return err
	}
	c, err := wk.storage.Open(cacheName)
	if err != nil {
		return err
	}
	wk.log.Trace().Str("cache", cacheName).Msgf("Writing to cache: %v", key)
	return c.Put(entry)
}

// entry serializes a recorded response into a cache entry.
// A nil r stores the response without a request: the worker fetched it on its own,
// so it is not bound to the Vary'd headers of any client request.
func (wk *Worker) entry(key string, r *http.Request, rwtee *tee.ResponseSaver) (cache.Entry, error) {
	header := wk.withoutCacheStatus(rwtee.SavedHeader())
	sRes := serializer.StoredResponse{
		Request:    storedRequest(r, header),
		StatusCode: rwtee.StatusCode(),
		Header:     header,
		Body:       rwtee.Body(),
		StoredAt:   time.Now(),
	}
	b, err := serializer.StoredResponseToBytes(sRes)
	if err != nil {
		return cache.Entry{}, err
	}
	return cache.Entry{Key: key, StoredAt: sRes.StoredAt, Bytes: b}, nil
}

// storedRequest keeps what is needed to reuse the response later:
// method, URI and the request headers named in Vary.
func storedRequest(r *http.Request, resHeader http.Header) *http.Request {
	if r == nil {
		return nil
	}
	req := &http.Request{
		Method: r.Method,
		URL:    &url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery},
		Header: http.Header{},
	}
	for _, value := range resHeader.Values("Vary") {
		for _, name := range strings.Split(value, ",") {
			name = strings.TrimSpace(name)
			if name == "" || name == "*" {
				continue
			}
			for _, v := range r.Header.Values(name) {
				req.Header.Add(name, v)
			}
		}
	}
	return req
}

// matchIn looks the key up in the named cache.
// If r is set, the stored response must also match its Vary'd headers.
func (wk *Worker) matchIn(cacheName, key string, r *http.Request) (serializer.StoredResponse, bool) {
	has, err := wk.storage.Has(cacheName)
	if err != nil {
		wk.log.Error().Err(err).Str("cache", cacheName).Msg("Could not open cache")
		return serializer.StoredResponse{}, false
	}
	if !has {
		return serializer.StoredResponse{}, false
	}
	c, err := wk.storage.Open(cacheName)
	if err != nil {
		wk.log.Error().Err(err).Str("cache", cacheName).Msg("Could not open cache")
		return serializer.StoredResponse{}, false
	}
	entry, ok, err := c.Match(key)
	return wk.decode(entry, ok, err, r)
}

// matchAll looks the key up in every cache, like a storage-wide match.
func (wk *Worker) matchAll(key string, r *http.Request) (serializer.StoredResponse, bool) {
	entry, ok, err := wk.storage.Match(key)
	return wk.decode(entry, ok, err, r)
}

func (wk *Worker) decode(entry cache.Entry, ok bool, err error, r *http.Request) (serializer.StoredResponse, bool) {
	if err != nil {
		wk.log.Error().Err(err).Msg("Could not retrieve from cache")
		return serializer.StoredResponse{}, false
	}
	if !ok {
		return serializer.StoredResponse{}, false
	}
	sRes, err := serializer.BytesToStoredResponse(entry.Bytes)
	if err != nil {
		wk.log.Error().Err(err).Str("key", entry.Key).Msg("Could not decode stored response")
		return serializer.StoredResponse{}, false
	}
	if r != nil && !cachekey.VaryMatches(sRes.Request, sRes.Header, r) {
		wk.log.Trace().Str("key", entry.Key).Msg("Stored response does not match request headers")
		return serializer.StoredResponse{}, false
	}
	return sRes, true
}

func (wk *Worker) send(w http.ResponseWriter, r *http.Request, class policy.Class, sRes serializer.StoredResponse, outcome Outcome) {
	if wk.cacheStatusName != "" {
		sRes.Header = sRes.Header.Clone()
		wk.markCacheStatus(sRes.Header, class, outcome)
	}
	bytesWritten, err := sRes.WriteTo(w)
	if err != nil {
		wk.log.Debug().Err(err).Msg("Could not write response body to client")
	}
	wk.logRequest(r, class, outcome, sRes.StatusCode)
	wk.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// unavailable writes the terminal 503 response.
func (wk *Worker) unavailable(w http.ResponseWriter, r *http.Request, class policy.Class) {
	body := dynamicUnavailableBody
	contentType := "text/html"
	if class == policy.StaticAsset {
		body = staticUnavailableBody
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	wk.markCacheStatus(w.Header(), class, OutcomeUnavailable)
	w.WriteHeader(http.StatusServiceUnavailable)
	io.WriteString(w, body)
	wk.logRequest(r, class, OutcomeUnavailable, http.StatusServiceUnavailable)
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

func (wk *Worker) logRequest(r *http.Request, class policy.Class, outcome Outcome, status int) {
	wk.metrics.request(string(class), string(outcome))
	wk.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("class", string(class)).
		Str("outcome", string(outcome)).
		Int("status", status).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
