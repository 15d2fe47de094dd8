package offlinecache

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher performs requests against the network.
// A returned error means the network could not be reached;
// any response, including a 5xx, is returned as a response.
type Fetcher interface {
	Fetch(r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(r *http.Request) (*http.Response, error) {
	return f(r)
}

// OriginFetcher sends requests to a single origin server.
// Redirects are not followed, they are passed on to the client.
type OriginFetcher struct {
	origin     url.URL
	hostHeader string
	client     *http.Client
}

// NewOriginFetcher returns a fetcher for the given origin.
// originHost, if set, is used as the Host header and TLS server name,
// e.g. when the origin URL is just an IP address.
func NewOriginFetcher(origin url.URL, originHost string, timeout time.Duration) OriginFetcher {
	hostHeader := origin.Host
	var transport http.RoundTripper = http.DefaultTransport
	if originHost != "" {
		hostHeader = originHost
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{
			ServerName: originHost,
		}
		transport = t
	}
	return OriginFetcher{
		origin:     origin,
		hostHeader: hostHeader,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch sends a copy of r to the origin.
// The request context is kept, so a cancelled client request cancels the fetch.
func (o OriginFetcher) Fetch(r *http.Request) (*http.Response, error) {
	target := url.URL{
		Scheme:   o.origin.Scheme,
		Host:     o.origin.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength
	copyHeader(req.Header, r.Header)
	removeHopHeaders(req.Header)
	req.Host = o.hostHeader
	return o.client.Do(req)
}

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// some origins do not like the forwarding headers of an upstream proxy
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
