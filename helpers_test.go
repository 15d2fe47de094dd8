package offlinecache

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
)

var errOffline = errors.New("network unreachable")

// fakeNetwork answers requests with a handler, unless it is offline.
type fakeNetwork struct {
	handler http.Handler
	mutex   sync.Mutex
	offline bool
	calls   map[string]int
}

func newFakeNetwork(handler http.Handler) *fakeNetwork {
	return &fakeNetwork{handler: handler, calls: make(map[string]int)}
}

func (n *fakeNetwork) Fetch(r *http.Request) (*http.Response, error) {
	n.mutex.Lock()
	offline := n.offline
	n.calls[r.Method+" "+r.URL.RequestURI()]++
	n.mutex.Unlock()
	if offline {
		return nil, errOffline
	}
	rr := httptest.NewRecorder()
	n.handler.ServeHTTP(rr, r)
	return rr.Result(), nil
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) callCount(method, uri string) int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.calls[method+" "+uri]
}

// site is the origin used by most tests.
func site() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<h1>Page " + r.URL.Path + "</h1>"))
	})
	mux.HandleFunc("/offline/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<h1>You are offline</h1>"))
	})
	mux.HandleFunc("/static/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		w.Write([]byte("body { color: red; }"))
	})
	mux.HandleFunc("/missing/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/admin/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("admin"))
	})
	return mux
}

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// newActiveWorker returns an installed and activated worker on the given network.
func newActiveWorker(t *testing.T, network *fakeNetwork, config Config) *Worker {
	t.Helper()
	if config.Storage == nil {
		config.Storage = cache.NewMemStorage()
	}
	config.Fetcher = network
	config.Logger = testLogger()
	if config.Manifest == nil {
		config.Manifest = []string{"/", "/offline/", "/static/css/responsive.css"}
	}
	wk := CreateWorker(config)
	if err := wk.Start(t.Context()); err != nil {
		t.Fatalf("Could not start worker: %v", err)
	}
	return wk
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func countEntries(t *testing.T, s cache.Storage, name string) int {
	t.Helper()
	has, err := s.Has(name)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		return 0
	}
	c, err := s.Open(name)
	if err != nil {
		t.Fatal(err)
	}
	n, err := c.Count()
	if err != nil {
		t.Fatal(err)
	}
	return n
}
