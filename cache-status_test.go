package offlinecache

import (
	"net/http"
	"reflect"
	"testing"

	"github.com/always-cache/offline-cache/pkg/policy"
)

func TestCacheStatusString(t *testing.T) {
	tests := []struct {
		class   policy.Class
		outcome Outcome
		want    string
	}{
		{policy.StaticAsset, OutcomeHit, "OfflineCache; hit"},
		{policy.StaticAsset, OutcomeStored, "OfflineCache; fwd=uri-miss"},
		{policy.DynamicPage, OutcomeNetwork, "OfflineCache; fwd=request"},
		{policy.DynamicPage, OutcomeFallbackCache, "OfflineCache; hit; detail=fallback"},
		{policy.DynamicPage, OutcomeFallbackOfflinePage, "OfflineCache; hit; detail=offline-page"},
		{policy.DynamicPage, OutcomeUnavailable, "OfflineCache; fwd=miss; detail=offline"},
		{policy.Excluded, OutcomeBypass, "OfflineCache; fwd=bypass"},
		{policy.DynamicPage, OutcomeNotControlled, "OfflineCache; fwd=bypass"},
	}
	for _, test := range tests {
		if got := cacheStatusFor("OfflineCache", test.class, test.outcome).String(); got != test.want {
			t.Errorf("%s/%s: got %q, want %q", test.class, test.outcome, got, test.want)
		}
	}
}

func TestCacheStatusHeader(t *testing.T) {
	mux := site()
	mux.HandleFunc("/layered/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Status", "OriginCache; hit")
		w.Write([]byte("layered"))
	})
	network := newFakeNetwork(mux)
	wk := newActiveWorker(t, network, Config{CacheStatus: "OfflineCache"})

	expect := func(path string, want ...string) {
		t.Helper()
		rr := get(t, wk, path)
		if got := rr.Header().Values("Cache-Status"); !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: got Cache-Status %q, want %q", path, got, want)
		}
	}

	expect("/blog/1/", "OfflineCache; fwd=request")
	expect("/layered/", "OriginCache; hit", "OfflineCache; fwd=request")
	expect("/static/css/responsive.css", "OfflineCache; hit")
	expect("/static/css/new.css", "OfflineCache; fwd=uri-miss")
	expect("/admin/", "OfflineCache; fwd=bypass")

	network.setOffline(true)
	expect("/blog/1/", "OfflineCache; hit; detail=fallback")
	expect("/layered/", "OriginCache; hit", "OfflineCache; hit; detail=fallback")
	expect("/blog/2/", "OfflineCache; hit; detail=offline-page")
	expect("/static/css/other.css", "OfflineCache; fwd=miss; detail=offline")
}

func TestCacheStatusDisabledByDefault(t *testing.T) {
	wk := newActiveWorker(t, newFakeNetwork(site()), Config{})
	rr := get(t, wk, "/blog/1/")
	if values := rr.Header().Values("Cache-Status"); len(values) != 0 {
		t.Fatalf("Unexpected Cache-Status %q", values)
	}
}
