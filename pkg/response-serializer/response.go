package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

// StoredResponse is a response captured for the cache,
// together with the request that produced it.
type StoredResponse struct {
	// Request that resulted in the stored response.
	// Only method, URL and header are kept.
	Request    *http.Request
	StatusCode int
	Header     http.Header
	Body       []byte
	// The value of the clock at the time the response was stored.
	StoredAt time.Time
}

// WriteTo writes the stored response to the client.
func (s StoredResponse) WriteTo(w http.ResponseWriter) (int64, error) {
	copyHeader(w.Header(), s.Header)
	w.WriteHeader(s.StatusCode)
	n, err := w.Write(s.Body)
	return int64(n), err
}

var delim = []byte("\r\n\r\n----\r\n\r\n")

// StoredResponseToBytes serializes the stored response.
// The result is the HTTP/1.1 representation of the request head, a delimiter,
// and the HTTP/1.1 representation of the response.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	buf := &bytes.Buffer{}

	if req := sRes.Request; req != nil {
		fmt.Fprintf(buf, "%s %s HTTP/1.1\r\n", req.Method, req.URL.RequestURI())
		if err := req.Header.Write(buf); err != nil {
			return nil, err
		}
		buf.WriteString("\r\n")
	}
	buf.Write(delim)

	header := sRes.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	// the body is stored as is, so the framing headers must agree with it
	header.Del("Transfer-Encoding")
	if header.Get("Content-Length") != "" {
		header.Set("Content-Length", strconv.Itoa(len(sRes.Body)))
	}
	header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.UnixNano(), 10))

	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", sRes.StatusCode, http.StatusText(sRes.StatusCode))
	if err := header.Write(buf); err != nil {
		return nil, err
	}
	buf.WriteString("\r\n")
	buf.Write(sRes.Body)

	return buf.Bytes(), nil
}

// BytesToStoredResponse is the inverse of StoredResponseToBytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	reqBytes, resBytes, found := bytes.Cut(b, delim)
	if !found {
		return sRes, fmt.Errorf("malformed stored response: delimiter missing")
	}
	var req *http.Request
	if len(reqBytes) > 0 {
		r, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(reqBytes)))
		if err != nil {
			log.Warn().Err(err).Bytes("bytes", reqBytes).Msg("Could not read request from stored response")
		} else {
			req = r
		}
	}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(resBytes)), req)
	if err != nil {
		return sRes, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return sRes, err
	}
	storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("malformed stored response: %w", err)
	}
	res.Header.Del(storedAtHeaderName)

	sRes.Request = req
	sRes.StatusCode = res.StatusCode
	sRes.Header = res.Header
	sRes.Body = body
	sRes.StoredAt = time.Unix(0, storedAt)
	return sRes, nil
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
