package artifact

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/editflow/internal/storage"
)

const (
	MaxArtifactBytes = 32 << 20
	keyPrefix        = "jobs"
)

var ErrTooLarge = errors.New("artifact exceeds size limit")

// Fetched is a retrieved artifact before it is persisted.
type Fetched struct {
	Data        []byte
	ContentType string
}

type Fetcher interface {
	Fetch(ctx context.Context, locator string) (Fetched, error)
}

// Persister moves predictor output into the object sink.
type Persister struct {
	fetcher Fetcher
	sink    storage.Sink
}

func NewPersister(fetcher Fetcher, sink storage.Sink) *Persister {
	if fetcher == nil {
		fetcher = NewHTTPFetcher(30 * time.Second)
	}
	if sink == nil {
		sink = storage.Unavailable()
	}
	return &Persister{fetcher: fetcher, sink: sink}
}

// Persist stores the artifact at locator under a key namespaced by jobID and
// returns its public URL, or the key when the sink has no public URL.
func (p *Persister) Persist(ctx context.Context, jobID, locator string) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", errors.New("job id is required")
	}

	fetched, err := p.fetcher.Fetch(ctx, locator)
	if err != nil {
		return "", fmt.Errorf("fetch stage: %w", err)
	}

	info, err := Inspect(fetched.Data)
	if err != nil {
		return "", fmt.Errorf("inspect stage: %w", err)
	}

	contentType := fetched.ContentType
	if !strings.HasPrefix(contentType, "image/") {
		contentType = ContentTypeForFormat(info.Format)
	}

	key := path.Join(keyPrefix, sanitizePathToken(jobID), "result."+info.Format)
	obj, err := p.sink.Put(ctx, key, fetched.Data, contentType)
	if err != nil {
		return "", fmt.Errorf("emit stage: %w", err)
	}

	if obj.PublicURL != "" {
		return obj.PublicURL, nil
	}
	return obj.Key, nil
}

type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: MaxArtifactBytes,
	}
}

// Fetch supports http(s) locators and inline data: URLs.
func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) (Fetched, error) {
	locator = strings.TrimSpace(locator)
	if strings.HasPrefix(locator, "data:") {
		return decodeDataURL(locator, f.maxBytes)
	}

	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Fetched{}, fmt.Errorf("unsupported artifact locator %q", locator)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Fetched{}, fmt.Errorf("build artifact request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Fetched{}, fmt.Errorf("download artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Fetched{}, fmt.Errorf("download artifact: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Fetched{}, fmt.Errorf("read artifact: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return Fetched{}, ErrTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return Fetched{Data: data, ContentType: contentType}, nil
}

func decodeDataURL(locator string, maxBytes int64) (Fetched, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(locator, "data:"), ",")
	if !ok {
		return Fetched{}, errors.New("malformed data URL")
	}

	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	var (
		data []byte
		err  error
	)
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var unescaped string
		unescaped, err = url.PathUnescape(payload)
		data = []byte(unescaped)
	}
	if err != nil {
		return Fetched{}, fmt.Errorf("decode data URL: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return Fetched{}, ErrTooLarge
	}

	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	return Fetched{Data: data, ContentType: mediaType}, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
