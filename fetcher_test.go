package offlinecache

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestOriginFetcherDoesNotFollowRedirects(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old/" {
			http.Redirect(w, r, "/new/", http.StatusMovedPermanently)
			return
		}
		w.Write([]byte("new"))
	}))
	defer origin.Close()
	originURL, _ := url.Parse(origin.URL)
	fetcher := NewOriginFetcher(*originURL, "", 0)

	res, err := fetcher.Fetch(httptest.NewRequest(http.MethodGet, "/old/", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusMovedPermanently || res.Header.Get("Location") != "/new/" {
		t.Fatalf("Got %d to %s", res.StatusCode, res.Header.Get("Location"))
	}
}

func TestOriginFetcherForwardsRequest(t *testing.T) {
	var (
		gotHost, gotBody, gotQuery, gotConnection, gotForwarded, gotCustom string
	)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotQuery = r.URL.RawQuery
		gotConnection = r.Header.Get("X-Hop")
		gotForwarded = r.Header.Get("X-Forwarded-For")
		gotCustom = r.Header.Get("X-Custom")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer origin.Close()
	originURL, _ := url.Parse(origin.URL)
	fetcher := NewOriginFetcher(*originURL, "blog.example.com", 0)

	req := httptest.NewRequest(http.MethodPost, "/contact/?lang=ar", strings.NewReader("name=a"))
	req.Header.Set("Connection", "X-Hop")
	req.Header.Set("X-Hop", "1")
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("X-Custom", "kept")
	res, err := fetcher.Fetch(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	if gotHost != "blog.example.com" {
		t.Fatalf("Host is %s", gotHost)
	}
	if gotBody != "name=a" || gotQuery != "lang=ar" {
		t.Fatalf("Body is %s, query is %s", gotBody, gotQuery)
	}
	if gotConnection != "" || gotForwarded != "" {
		t.Fatalf("Hop headers forwarded: %s %s", gotConnection, gotForwarded)
	}
	if gotCustom != "kept" {
		t.Fatalf("Custom header is %s", gotCustom)
	}
}

func TestOriginFetcherUnreachable(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	originURL, _ := url.Parse(origin.URL)
	origin.Close()
	fetcher := NewOriginFetcher(*originURL, "", 0)

	if _, err := fetcher.Fetch(httptest.NewRequest(http.MethodGet, "/", nil)); err == nil {
		t.Fatal("Expected an error from a closed origin")
	}
}
