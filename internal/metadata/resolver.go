// Package metadata fetches the off-chain document a unit's content reference
// points at and checks it against the recorded hash.
package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/pkg/platform/sentinel"
)

const DefaultMaxBytes = 1 << 20

var (
	// ErrHashMismatch means the fetched bytes do not hash to the reference.
	ErrHashMismatch = errors.New("metadata hash mismatch")
	// ErrUnverifiable means the reference's hash scheme cannot be checked locally.
	ErrUnverifiable = errors.New("metadata hash is not verifiable")
	ErrUnsupported  = errors.New("metadata url scheme not supported")
	ErrTooLarge     = errors.New("metadata document too large")
)

type Config struct {
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	MaxBytes        int64
}

// S3Resolver reads s3://bucket/key references from an S3-compatible store.
type S3Resolver struct {
	client   *s3.Client
	maxBytes int64
}

func NewS3Resolver(ctx context.Context, cfg Config) (*S3Resolver, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3ResolverFromClient(client, cfg.MaxBytes), nil
}

func NewS3ResolverFromClient(client *s3.Client, maxBytes int64) *S3Resolver {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &S3Resolver{client: client, maxBytes: maxBytes}
}

func (r *S3Resolver) Fetch(ctx context.Context, ref shared.ContentReference) ([]byte, error) {
	bucket, key, err := parseS3URL(ref.URL())
	if err != nil {
		return nil, err
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	body, err := readLimited(out.Body, r.maxBytes)
	if err != nil {
		return nil, err
	}
	if err := Verify(ref, body); err != nil {
		return nil, err
	}
	return body, nil
}

func parseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse metadata url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("%s: %w", u.Scheme, ErrUnsupported)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 url %q needs bucket and key: %w", raw, ErrUnsupported)
	}
	return u.Host, key, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("over %d bytes: %w", limit, ErrTooLarge)
	}
	return body, nil
}

// Verify checks body against a sha256 content reference.
func Verify(ref shared.ContentReference, body []byte) error {
	want, ok := ref.SHA256Hex()
	if !ok {
		return fmt.Errorf("%s: %w", ref.Hash(), ErrUnverifiable)
	}
	sum := sha256.Sum256(body)
	if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, want) {
		return fmt.Errorf("want %s, got %s: %w", want, got, ErrHashMismatch)
	}
	return nil
}

// Memory serves documents registered by URL.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Put(rawURL string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[rawURL] = append([]byte(nil), body...)
}

func (m *Memory) Fetch(_ context.Context, ref shared.ContentReference) ([]byte, error) {
	m.mu.RLock()
	body, ok := m.docs[ref.URL()]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref.URL(), sentinel.ErrNotFound)
	}
	if err := Verify(ref, body); err != nil {
		return nil, err
	}
	return append([]byte(nil), body...), nil
}
