package entry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"github.com/joshp123/deyehome/internal/config"
)

var ErrBlobNotFound = errors.New("entries blob not found")

// BlobStore mirrors the entry store to object storage.
type BlobStore interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
}

// S3Store keeps the entries document in an S3-compatible bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
	sse    encrypt.ServerSide
}

type endpoint struct {
	host   string
	secure bool
}

func NewS3Store(cfg config.StorageConfig) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.BlobBucket)
	if bucket == "" {
		return nil, errors.New("blob bucket is required")
	}
	ep, err := parseEndpoint(strings.TrimSpace(cfg.BlobEndpoint))
	if err != nil {
		return nil, err
	}
	creds, err := staticCredentials(cfg)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(ep.host, &minio.Options{
		Creds:  creds,
		Secure: ep.secure,
		Region: strings.TrimSpace(cfg.BlobRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client for %s: %w", ep.host, err)
	}

	store := &S3Store{client: client, bucket: bucket, prefix: strings.Trim(cfg.BlobPrefix, "/ ")}
	if store.prefix == "" {
		store.prefix = config.DefaultBlobPrefix
	}
	if cfg.BlobSSE {
		store.sse = encrypt.NewSSE()
	}
	return store, nil
}

func staticCredentials(cfg config.StorageConfig) (*credentials.Credentials, error) {
	if cfg.BlobAccessKeyFile == "" || cfg.BlobSecretKeyFile == "" {
		return nil, errors.New("blob access and secret key files are required")
	}
	access, err := config.ReadSecretFile(cfg.BlobAccessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("blob access key: %w", err)
	}
	secret, err := config.ReadSecretFile(cfg.BlobSecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("blob secret key: %w", err)
	}
	return credentials.NewStaticV4(access, secret, ""), nil
}

func (s *S3Store) Load(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, notFound(err)
	}
	return buf.Bytes(), nil
}

func (s *S3Store) Save(ctx context.Context, name string, data []byte) error {
	opts := minio.PutObjectOptions{
		ContentType:          "application/json",
		ServerSideEncryption: s.sse,
	}
	if _, err := s.client.PutObject(ctx, s.bucket, s.objectName(name), bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put %s: %w", s.objectName(name), err)
	}
	return nil
}

func (s *S3Store) objectName(name string) string {
	return path.Join(s.prefix, name)
}

func notFound(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", ErrBlobNotFound, err)
	}
	return err
}

// parseEndpoint accepts a bare "host[:port]", which implies TLS, or an
// http(s) URL.
func parseEndpoint(raw string) (endpoint, error) {
	if raw == "" {
		return endpoint{}, errors.New("blob endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return endpoint{host: raw, secure: true}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("blob endpoint: %w", err)
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return endpoint{}, fmt.Errorf("blob endpoint %q: want host:port or http(s)://host", raw)
	}
	return endpoint{host: u.Host, secure: u.Scheme == "https"}, nil
}
