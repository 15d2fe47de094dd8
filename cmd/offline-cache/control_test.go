package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/pkg/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type openedURLs []string

func (o *openedURLs) OpenWindow(ctx context.Context, target string) error {
	*o = append(*o, target)
	return nil
}

func newTestControl(t *testing.T) (http.Handler, *offlinecache.Worker, *[]string, *openedURLs) {
	t.Helper()
	var posted []string
	origin := http.NewServeMux()
	origin.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("page " + r.URL.Path))
	})
	origin.HandleFunc("/contact/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		posted = append(posted, string(b))
	})
	fetcher := offlinecache.FetcherFunc(func(r *http.Request) (*http.Response, error) {
		rr := httptest.NewRecorder()
		origin.ServeHTTP(rr, r)
		return rr.Result(), nil
	})
	logger := zerolog.Nop()
	opener := &openedURLs{}
	reg := prometheus.NewRegistry()
	wk := offlinecache.CreateWorker(offlinecache.Config{
		Fetcher:  fetcher,
		Logger:   &logger,
		Metrics:  offlinecache.NewMetrics(reg),
		Manifest: []string{"/", "/static/app.css"},
		Opener:   opener,
	})
	require.NoError(t, wk.Start(t.Context()))
	return newControlRouter(wk, reg, logger), wk, &posted, opener
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestControlState(t *testing.T) {
	h, _, _, _ := newTestControl(t)

	rr := do(t, h, http.MethodGet, "/state", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var state map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &state))
	require.Equal(t, "activated", state["state"])
	require.Equal(t, "static-v1", state["static"])
}

func TestControlCaches(t *testing.T) {
	h, _, _, _ := newTestControl(t)

	rr := do(t, h, http.MethodGet, "/caches", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var infos []offlinecache.CacheInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &infos))
	require.Equal(t, []offlinecache.CacheInfo{{Name: "static-v1", Entries: 2, Current: true}}, infos)
}

func TestControlQueueAndSync(t *testing.T) {
	h, _, posted, _ := newTestControl(t)

	rr := do(t, h, http.MethodPost, "/queue/contact-form", "application/x-www-form-urlencoded", "name=a")
	require.Equal(t, http.StatusAccepted, rr.Code)
	rr = do(t, h, http.MethodPost, "/queue/newsletter", "", "name=a")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/sync/contact-form", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var report offlinecache.SyncReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Equal(t, offlinecache.SyncReport{Sent: 1}, report)
	require.Equal(t, []string{"name=a"}, *posted)
}

func TestControlPeriodicSync(t *testing.T) {
	h, _, _, _ := newTestControl(t)

	rr := do(t, h, http.MethodPost, "/periodic-sync/cache-update", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var report offlinecache.RefreshReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Equal(t, offlinecache.RefreshReport{Refreshed: 2}, report)
}

func TestControlPushAndClick(t *testing.T) {
	h, _, _, opener := newTestControl(t)

	rr := do(t, h, http.MethodPost, "/push", "application/json", `{"title":"New comment","body":"...","url":"/post/5"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var n notification.Notification
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &n))
	require.Equal(t, "/post/5", n.Data.URL)
	require.Equal(t, []int{200, 100, 200}, n.Vibrate)

	rr = do(t, h, http.MethodPost, "/notification-click?action=close", "application/json", rr.Body.String())
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, *opener)

	body, err := json.Marshal(n)
	require.NoError(t, err)
	rr = do(t, h, http.MethodPost, "/notification-click?action=view", "application/json", string(body))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, openedURLs{"/post/5"}, *opener)

	rr = do(t, h, http.MethodPost, "/push", "", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodPost, "/push", "application/json", "not json")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestControlRequiresJSON(t *testing.T) {
	h, _, _, opener := newTestControl(t)

	rr := do(t, h, http.MethodPost, "/push", "text/plain", `{"title":"New comment","url":"/post/5"}`)
	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)

	rr = do(t, h, http.MethodPost, "/notification-click?action=view", "text/plain", `{"data":{"url":"/post/5"}}`)
	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	require.Empty(t, *opener)

	rr = do(t, h, http.MethodPost, "/notification-click?action=view", "application/json; charset=utf-8", `{"data":{"url":"/post/5"}}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, openedURLs{"/post/5"}, *opener)
}

func TestControlRejectsForeignNotificationURL(t *testing.T) {
	opened := make([]string, 0)
	logger := zerolog.Nop()
	wk := offlinecache.CreateWorker(offlinecache.Config{
		Fetcher: offlinecache.FetcherFunc(func(r *http.Request) (*http.Response, error) {
			return httptest.NewRecorder().Result(), nil
		}),
		Logger:   &logger,
		Manifest: []string{},
		Opener: notification.BrowserOpener{
			BaseURL: "http://localhost:8080",
			Open: func(u string) error {
				opened = append(opened, u)
				return nil
			},
		},
	})
	h := newControlRouter(wk, prometheus.NewRegistry(), logger)

	rr := do(t, h, http.MethodPost, "/notification-click?action=view", "application/json", `{"data":{"url":"file:///etc/passwd"}}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, opened)

	rr = do(t, h, http.MethodPost, "/notification-click?action=view", "application/json", `{"data":{"url":"/post/5"}}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, []string{"http://localhost:8080/post/5"}, opened)
}

func TestControlMetrics(t *testing.T) {
	h, wk, _, _ := newTestControl(t)
	wk.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/static/app.css", nil))

	rr := do(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "offline_cache_installs_total")
	require.Contains(t, rr.Body.String(), `offline_cache_requests_total{class="static-asset",outcome="hit"} 1`)
}

func TestProxyBaseURL(t *testing.T) {
	require.Equal(t, "http://localhost:8080", proxyBaseURL(":8080"))
	require.Equal(t, "http://127.0.0.1:9000", proxyBaseURL("127.0.0.1:9000"))
}
