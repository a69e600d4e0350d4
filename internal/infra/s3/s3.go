package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewClient(cfg Config) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return client, nil
}

// Presigner signs time-limited GET links for objects referenced as
// s3://bucket/key.
type Presigner struct {
	client *minio.Client
}

func NewPresigner(client *minio.Client) *Presigner {
	return &Presigner{client: client}
}

func (p *Presigner) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("s3 client is nil")
	}
	bucket = strings.TrimSpace(bucket)
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if bucket == "" || key == "" {
		return "", fmt.Errorf("s3 bucket and key are required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	u, err := p.client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign s3 object %s/%s: %w", bucket, key, err)
	}

	return u.String(), nil
}

// ParseObjectURL splits s3://bucket/key. ok is false for any other scheme.
func ParseObjectURL(raw string) (bucket, key string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "s3" {
		return "", "", false
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
