package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrUnavailable is returned by the sink used when no storage is configured.
var ErrUnavailable = errors.New("object storage is not configured")

type Config struct {
	Endpoint      string
	Access        string
	Secret        string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
}

// Object is a stored artifact. PublicURL is empty when the bucket is private
// and the object is only reachable by key.
type Object struct {
	Key       string
	PublicURL string
}

// Sink is the durable artifact store the webhook receiver writes into.
type Sink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
}

type Client struct {
	minio         *minio.Client
	bucket        string
	publicBaseURL string
}

func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	return &Client{
		minio:         mc,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, c.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}

	return nil
}

func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	if strings.TrimSpace(key) == "" {
		return Object{}, errors.New("object key is required")
	}

	_, err := c.minio.PutObject(
		ctx,
		c.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType},
	)
	if err != nil {
		return Object{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return Object{Key: key, PublicURL: PublicURL(c.publicBaseURL, key)}, nil
}

// PublicURL joins base and key, or returns "" when base is empty.
func PublicURL(base, key string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return ""
	}
	return base + "/" + strings.TrimLeft(key, "/")
}

type unavailableSink struct{}

// Unavailable returns a Sink whose writes always fail with ErrUnavailable.
func Unavailable() Sink {
	return unavailableSink{}
}

func (unavailableSink) Put(_ context.Context, _ string, _ []byte, _ string) (Object, error) {
	return Object{}, ErrUnavailable
}
