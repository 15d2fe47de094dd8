package cachekey

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
)

const (
	originSeparator = ":"
	methodSeparator = ":"
)

type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// GetKey returns the cache key for a request.
// The key identifies the request by method and URI only;
// headers named by a stored response's Vary field are checked with VaryMatches.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.OriginPrefix + r.Method + methodSeparator + r.URL.RequestURI()
}

// PathKey returns the key of a GET request for the given path,
// e.g. for install manifest entries and the offline page.
func (c CacheKeyer) PathKey(path string) string {
	return c.OriginPrefix + http.MethodGet + methodSeparator + path
}

// GetRequestFromKey generates a caching-wise equal request than the request that resulted in the
// provided key. It returns an error if the request cannot for some reason be deducted.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.OriginPrefix) {
		return nil, fmt.Errorf("Key and origin do not match")
	}
	keyNoOrigin := strings.TrimPrefix(key, c.OriginPrefix)
	method, uri, found := strings.Cut(keyNoOrigin, methodSeparator)
	if !found || uri == "" {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	return http.NewRequest(method, uri, nil)
}

// VaryMatches reports whether a stored response may be used for req.
// Every header listed in the stored response's Vary field must have the
// same value in req as in the request that produced the stored response.
// A response stored without a request (nil stored) matches any request.
// `Vary: *` never matches.
func VaryMatches(stored *http.Request, storedHeader http.Header, req *http.Request) bool {
	for _, name := range varyNames(storedHeader) {
		if name == "*" {
			return false
		}
		if stored == nil {
			continue
		}
		if normalize(stored.Header.Values(name)) != normalize(req.Header.Values(name)) {
			return false
		}
	}
	return true
}

func varyNames(h http.Header) []string {
	names := make([]string, 0)
	for _, value := range h.Values("Vary") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, textproto.CanonicalMIMEHeaderKey(name))
			}
		}
	}
	return names
}

func normalize(values []string) string {
	return strings.Join(values, ", ")
}
