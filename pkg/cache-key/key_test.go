package cachekey

import (
	"net/http"
	"strings"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	keygen := NewCacheKeyer("this-is-the-origin")
	r, _ := http.NewRequest("GET", "http://dev.localhost/page?q=1", nil)
	key := keygen.GetKey(r)
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "/page?q=1" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
	if req.Method != "GET" {
		t.Fatalf("Created request method for key %s is %s", key, req.Method)
	}
}

func TestRequestFromKeyOtherOrigin(t *testing.T) {
	keygen := NewCacheKeyer("http://a.example")
	other := NewCacheKeyer("http://b.example")
	r, _ := http.NewRequest("GET", "/page", nil)
	if _, err := keygen.GetRequestFromKey(other.GetKey(r)); err == nil {
		t.Fatal("Expected error for key of another origin")
	}
}

func TestOriginPrefixIncludesOrigin(t *testing.T) {
	origin := "this-is-the-origin"
	keygen := NewCacheKeyer(origin)
	if !strings.Contains(keygen.OriginPrefix, origin) {
		t.Fatalf("OriginPrefix is %s", keygen.OriginPrefix)
	}
}

func TestPathKeyEqualsRequestKey(t *testing.T) {
	keygen := NewCacheKeyer("http://localhost:8000")
	r, _ := http.NewRequest("GET", "http://proxy.local/static/css/app.css", nil)
	if keygen.PathKey("/static/css/app.css") != keygen.GetKey(r) {
		t.Fatalf("%s != %s", keygen.PathKey("/static/css/app.css"), keygen.GetKey(r))
	}
}

func TestVaryMatches(t *testing.T) {
	stored, _ := http.NewRequest("GET", "/", nil)
	stored.Header.Set("Accept-Language", "en")
	storedHeader := http.Header{"Vary": []string{"accept-language, Accept-Encoding"}}

	same, _ := http.NewRequest("GET", "/", nil)
	same.Header.Set("Accept-Language", "en")
	if !VaryMatches(stored, storedHeader, same) {
		t.Fatal("Expected match for equal vary headers")
	}

	other, _ := http.NewRequest("GET", "/", nil)
	other.Header.Set("Accept-Language", "fi")
	if VaryMatches(stored, storedHeader, other) {
		t.Fatal("Expected no match for different Accept-Language")
	}

	if !VaryMatches(nil, http.Header{}, other) {
		t.Fatal("Expected match without Vary")
	}
	if VaryMatches(stored, http.Header{"Vary": []string{"*"}}, same) {
		t.Fatal("Vary: * must never match")
	}
}

func TestVaryMatchesWithoutStoredRequest(t *testing.T) {
	storedHeader := http.Header{"Vary": []string{"Accept-Encoding"}}
	req, _ := http.NewRequest("GET", "/static/css/app.css", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if !VaryMatches(nil, storedHeader, req) {
		t.Fatal("Expected a response stored without request to match")
	}
	if VaryMatches(nil, http.Header{"Vary": []string{"*"}}, req) {
		t.Fatal("Vary: * must never match")
	}
}
