// Package publish archives signed receipts in an S3-compatible bucket.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultPrefix is the key prefix receipts are stored under.
const DefaultPrefix = "receipts"

const contentType = "application/json"

// Config locates the receipt bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Prefix    string
}

// Validate reports the first missing or malformed setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("publish endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("publish endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("publish bucket is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("publish access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("publish secret key is required")
	}
	return nil
}

// ObjectKey is the bucket key for a run's receipt.
func (c Config) ObjectKey(runID string) string {
	prefix := strings.Trim(c.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return path.Join(prefix, runID+".signed.json")
}

// Location is the s3:// URI for an object key.
func (c Config) Location(key string) string {
	return "s3://" + c.Bucket + "/" + key
}

// Publisher uploads receipts.
type Publisher struct {
	cfg    Config
	client *minio.Client
}

// New validates cfg and builds a MinIO client. No network traffic happens
// until Publish is called.
func New(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("publish client: %w", err)
	}
	return &Publisher{cfg: cfg, client: client}, nil
}

// Publish stores a run's receipt, creating the bucket on first use, and
// returns its location.
func (p *Publisher) Publish(ctx context.Context, runID string, receipt []byte) (string, error) {
	if p == nil || p.client == nil {
		return "", errors.New("publisher not initialized")
	}
	if runID == "" {
		return "", errors.New("publish: run id is required")
	}
	if err := p.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("publish: ensure bucket %s: %w", p.cfg.Bucket, err)
	}

	key := p.cfg.ObjectKey(runID)
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := p.client.PutObject(ctx, p.cfg.Bucket, key, bytes.NewReader(receipt), int64(len(receipt)), opts); err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	return p.cfg.Location(key), nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.cfg.Bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return p.client.MakeBucket(ctx, p.cfg.Bucket, minio.MakeBucketOptions{Region: p.cfg.Region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
