package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// Store wraps one minio client bound to one bucket.
type Store struct {
	log *logger.Logger
	cfg Settings
	mc  *minio.Client
}

var (
	storeCacheMu sync.Mutex
	storeCache   = map[string]*Store{}
)

// NewStore returns the process-wide cached store for cfg, building it on
// first use. Jobs carrying a storage override must use NewUncachedStore.
func NewStore(log *logger.Logger, cfg Settings) (*Store, error) {
	storeCacheMu.Lock()
	defer storeCacheMu.Unlock()
	key := cfg.cacheKey()
	if s, ok := storeCache[key]; ok {
		return s, nil
	}
	s, err := NewUncachedStore(log, cfg)
	if err != nil {
		return nil, err
	}
	storeCache[key] = s
	return s, nil
}

// NewUncachedStore builds a fresh client that is never placed in, or read
// from, the process-wide cache.
func NewUncachedStore(log *logger.Logger, cfg Settings) (*Store, error) {
	host, secure, err := splitEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{
		log: log.With("service", "ObjectStore", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket),
		cfg: cfg,
		mc:  mc,
	}, nil
}

func splitEndpoint(endpoint string) (host string, secure bool, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", false, fmt.Errorf("object store endpoint required")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse object store endpoint %q: %w", endpoint, err)
	}
	host = u.Host
	if host == "" {
		host = u.Path
	}
	return host, u.Scheme == "https", nil
}

func (s *Store) Bucket() string     { return s.cfg.Bucket }
func (s *Store) Settings() Settings { return s.cfg }

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.mc.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.cfg.Bucket, err)
	}
	s.log.Info("Bucket created", "bucket", s.cfg.Bucket)
	return nil
}

func (s *Store) PutFile(ctx context.Context, objectKey, path string) error {
	if _, err := s.mc.FPutObject(ctx, s.cfg.Bucket, objectKey, path, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

func (s *Store) PutBytes(ctx context.Context, objectKey string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.mc.PutObject(ctx, s.cfg.Bucket, objectKey, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

func (s *Store) GetToFile(ctx context.Context, objectKey, dest string) error {
	if err := s.mc.FGetObject(ctx, s.cfg.Bucket, objectKey, dest, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("get object %s: %w", objectKey, err)
	}
	return nil
}

// DownloadURL returns a presigned GET URL when expiry > 0, otherwise a
// stable direct URL composed from public_endpoint (or endpoint).
func (s *Store) DownloadURL(ctx context.Context, objectKey string) (string, error) {
	expiry := s.cfg.PresignExpirySec
	if expiry > 0 {
		u, err := s.mc.PresignedGetObject(ctx, s.cfg.Bucket, objectKey, time.Duration(expiry)*time.Second, nil)
		if err != nil {
			return "", fmt.Errorf("presign %s: %w", objectKey, err)
		}
		return u.String(), nil
	}
	return StableURL(s.cfg, objectKey), nil
}

// StableURL builds the non-expiring public URL for an object.
func StableURL(cfg Settings, objectKey string) string {
	base := cfg.PublicEndpoint
	if base == "" {
		base = cfg.Endpoint
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), cfg.Bucket, strings.TrimLeft(objectKey, "/"))
}

// Check probes the bucket, for health reporting.
func (s *Store) Check(ctx context.Context) error {
	_, err := s.mc.BucketExists(ctx, s.cfg.Bucket)
	return err
}

// ResetStoreCache clears the client cache. Test hook.
func ResetStoreCache() {
	storeCacheMu.Lock()
	defer storeCacheMu.Unlock()
	storeCache = map[string]*Store{}
}
