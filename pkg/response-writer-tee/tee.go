package tee

import (
	"bytes"
	"net/http"
)

// ResponseSaver is a wrapper around http.ResponseWriter that saves the response to a buffer.
// It optionally writes the response to the underlying http.ResponseWriter.
// The saved copy is what goes to the cache; the underlying writer gets the original.
type ResponseSaver struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	header       http.Header
	savedHeader  http.Header
	status       int
	wroteHeaders bool
	clientErr    error
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	// remember that we wrote the headers
	t.wroteHeaders = true
	// set the status code so we can return it later
	t.status = statusCode
	// headers may be changed by the caller after this point,
	// the saved response keeps what was sent
	t.savedHeader = t.header.Clone()
	// write to underlying http.ResponseWriter if not nil
	if t.rw != nil {
		// if t.rw is not nil, then t.header is the same as t.rw.Header()
		// so we don't need to write the headers again
		t.rw.WriteHeader(statusCode)
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	// write headers if not already written
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	// write to underlying http.ResponseWriter if not nil
	// a failing client does not stop the saving
	if t.rw != nil && t.clientErr == nil {
		if _, err := t.rw.Write(b); err != nil {
			t.clientErr = err
		}
	}
	// write to buffer and return written bytes
	return t.b.Write(b)
}

// Body returns the recorded response body.
func (t *ResponseSaver) Body() []byte {
	return t.b.Bytes()
}

// SavedHeader returns the header as it was when the status code was written.
func (t *ResponseSaver) SavedHeader() http.Header {
	if t.savedHeader == nil {
		return t.header.Clone()
	}
	return t.savedHeader
}

// StatusCode returns the status code of the response.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// ClientError returns the first error writing to the underlying http.ResponseWriter.
func (t *ResponseSaver) ClientError() error {
	return t.clientErr
}

// NewResponseSaver returns a new ResponseSaver.
// If rw is not nil, the response will be written (tee'd) to it in addition to saving to buffer.
func NewResponseSaver(w http.ResponseWriter) *ResponseSaver {
	rs := &ResponseSaver{
		rw: w,
		b:  &bytes.Buffer{},
	}
	if w == nil {
		rs.header = http.Header{}
	} else {
		rs.header = w.Header()
	}
	return rs
}
