package tee

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSaverWithoutWriter(t *testing.T) {
	rs := NewResponseSaver(nil)
	rs.Header().Set("Content-Type", "text/css")
	rs.Write([]byte("body{}"))

	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rs.StatusCode())
	}
	if string(rs.Body()) != "body{}" {
		t.Fatalf("Body is %s", rs.Body())
	}
	if rs.SavedHeader().Get("Content-Type") != "text/css" {
		t.Fatalf("Header is %+v", rs.SavedHeader())
	}
}

func TestSaverTeesToWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	rs.Header().Set("X-Test", "1")
	rs.WriteHeader(http.StatusCreated)
	rs.Header().Set("X-Late", "1")
	rs.Write([]byte("Hello "))
	rs.Write([]byte("world"))

	if rr.Code != http.StatusCreated || rr.Body.String() != "Hello world" {
		t.Fatalf("Client got %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Test") != "1" {
		t.Fatalf("Client headers %+v", rr.Header())
	}
	if rs.SavedHeader().Get("X-Late") != "" {
		t.Fatalf("Saved header changed after WriteHeader: %+v", rs.SavedHeader())
	}
	if string(rs.Body()) != "Hello world" {
		t.Fatalf("Saved body is %s", rs.Body())
	}
}

type failingWriter struct {
	header http.Header
	writes int
}

func (f *failingWriter) Header() http.Header { return f.header }
func (f *failingWriter) WriteHeader(int)     {}
func (f *failingWriter) Write(b []byte) (int, error) {
	f.writes++
	return 0, errors.New("client gone")
}

func TestSaverKeepsSavingWhenClientFails(t *testing.T) {
	fw := &failingWriter{header: http.Header{}}
	rs := NewResponseSaver(fw)
	rs.Write([]byte("a"))
	rs.Write([]byte("b"))

	if rs.ClientError() == nil {
		t.Fatal("Expected client error")
	}
	if fw.writes != 1 {
		t.Fatalf("Client written %d times after failing", fw.writes)
	}
	if string(rs.Body()) != "ab" {
		t.Fatalf("Saved body is %s", rs.Body())
	}
}
