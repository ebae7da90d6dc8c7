package artifact

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dunamismax/editflow/internal/storage"
)

const onePixelPNG = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func TestPersistDownloadsAndStores(t *testing.T) {
	src := buildTestPNG(t, 32, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(src)
	}))
	defer srv.Close()

	sink := &captureSink{publicBase: "https://cdn.example.com"}
	p := NewPersister(NewHTTPFetcher(0), sink)

	url, err := p.Persist(context.Background(), "job-1", srv.URL+"/out.png")
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if sink.key != "jobs/job-1/result.png" {
		t.Fatalf("expected namespaced key, got %s", sink.key)
	}
	if sink.contentType != "image/png" {
		t.Fatalf("expected image/png, got %s", sink.contentType)
	}
	if !bytes.Equal(sink.data, src) {
		t.Fatal("expected stored bytes to match the download")
	}
	if url != "https://cdn.example.com/jobs/job-1/result.png" {
		t.Fatalf("unexpected url %s", url)
	}
}

func TestPersistReturnsKeyWithoutPublicURL(t *testing.T) {
	sink := &captureSink{}
	url, err := NewPersister(NewHTTPFetcher(0), sink).Persist(context.Background(), "job/../2", onePixelPNG)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if url != "jobs/job____2/result.png" {
		t.Fatalf("expected sanitized storage key, got %s", url)
	}
}

func TestPersistFailures(t *testing.T) {
	notImage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>error page</html>"))
	}))
	defer notImage.Close()

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	tests := []struct {
		name    string
		sink    storage.Sink
		locator string
	}{
		{"non image body", &captureSink{}, notImage.URL},
		{"upstream 404", &captureSink{}, missing.URL},
		{"unsupported scheme", &captureSink{}, "ftp://example.com/out.png"},
		{"no storage", nil, onePixelPNG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPersister(nil, tt.sink).Persist(context.Background(), "job-1", tt.locator); err == nil {
				t.Fatal("expected persist to fail")
			}
		})
	}
}

func TestPersistUnavailableSinkError(t *testing.T) {
	_, err := NewPersister(nil, nil).Persist(context.Background(), "job-1", onePixelPNG)
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	info, err := Inspect(buildTestPNG(t, 10, 20))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Format != "png" || info.Width != 10 || info.Height != 20 {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := Inspect(nil); err == nil {
		t.Fatal("expected error for empty artifact")
	}
}

type captureSink struct {
	publicBase  string
	key         string
	data        []byte
	contentType string
}

func (s *captureSink) Put(_ context.Context, key string, data []byte, contentType string) (storage.Object, error) {
	s.key = key
	s.data = data
	s.contentType = contentType
	return storage.Object{Key: key, PublicURL: storage.PublicURL(s.publicBase, key)}, nil
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
