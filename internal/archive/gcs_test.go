package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

type memWriter struct {
	buf      bytes.Buffer
	closeErr error
	closed   bool
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.closed = true
	return w.closeErr
}

type memOpener struct {
	objects     map[string]*memWriter
	contentType map[string]string
	closeErr    error
}

func newMemOpener() *memOpener {
	return &memOpener{objects: map[string]*memWriter{}, contentType: map[string]string{}}
}

func (m *memOpener) NewWriter(_ context.Context, object, contentType string) io.WriteCloser {
	w := &memWriter{closeErr: m.closeErr}
	m.objects[object] = w
	m.contentType[object] = contentType
	return w
}

func TestGCSArchiver_Archive(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		mimeType string
		wantURI  string
	}{
		{"jpeg under prefix", "documents/", "image/jpeg", "gs://ledger-docs/documents/abc123.jpg"},
		{"pdf", "documents", "application/pdf", "gs://ledger-docs/documents/abc123.pdf"},
		{"no prefix", "", "image/png", "gs://ledger-docs/abc123.png"},
		{"unknown type", "d", "application/x-unknown-thing", "gs://ledger-docs/d/abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMemOpener()
			a := newArchiver(m, "ledger-docs", tt.prefix)
			uri, err := a.Archive(context.Background(), "abc123", []byte("bytes"), tt.mimeType)
			if err != nil {
				t.Fatalf("Archive() error = %v", err)
			}
			if uri != tt.wantURI {
				t.Errorf("Archive() = %q, want %q", uri, tt.wantURI)
			}
			for name, w := range m.objects {
				if w.buf.String() != "bytes" || !w.closed {
					t.Errorf("object %s = %q closed=%v", name, w.buf.String(), w.closed)
				}
				if m.contentType[name] != tt.mimeType {
					t.Errorf("content type = %q, want %q", m.contentType[name], tt.mimeType)
				}
			}
		})
	}
}

func TestGCSArchiver_CloseErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"already stored", &googleapi.Error{Code: http.StatusPreconditionFailed}, false},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, true},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMemOpener()
			m.closeErr = tt.err
			_, err := newArchiver(m, "b", "p").Archive(context.Background(), "h", []byte("x"), "image/jpeg")
			if (err != nil) != tt.wantErr {
				t.Errorf("Archive() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGCSArchiver_EmptyHash(t *testing.T) {
	if _, err := newArchiver(newMemOpener(), "b", "").Archive(context.Background(), "", []byte("x"), ""); err == nil {
		t.Error("Archive() accepted an empty hash")
	}
}
