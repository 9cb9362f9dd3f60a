// Package blobstore provides the pipeline's blob source: fetching uploaded
// batch files, writing audit logs back, and listing a device's uploads.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/illmade-knight/go-telemetry/pkg/pipeline"
)

// ====================================================================================
// These interfaces abstract the narrow slice of the Google Cloud Storage
// client the store uses, so it can be tested against fakes without a real
// GCS connection.
// ====================================================================================

// Client abstracts the top-level *storage.Client.
type Client interface {
	Bucket(name string) BucketHandle
}

// BucketHandle abstracts a *storage.BucketHandle.
type BucketHandle interface {
	Object(name string) ObjectHandle
	Objects(ctx context.Context, prefix string) ObjectIterator
}

// ObjectHandle abstracts a *storage.ObjectHandle.
type ObjectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
}

// ObjectIterator yields object names until it returns iterator.Done.
type ObjectIterator interface {
	Next() (string, error)
}

// --- Adapters wrapping the concrete client ---

type clientAdapter struct {
	client *storage.Client
}

// NewClientAdapter makes a concrete *storage.Client conform to Client.
func NewClientAdapter(client *storage.Client) Client {
	if client == nil {
		return nil
	}
	return &clientAdapter{client: client}
}

func (a *clientAdapter) Bucket(name string) BucketHandle {
	return &bucketHandleAdapter{handle: a.client.Bucket(name)}
}

type bucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *bucketHandleAdapter) Object(name string) ObjectHandle {
	return &objectHandleAdapter{handle: a.handle.Object(name)}
}

func (a *bucketHandleAdapter) Objects(ctx context.Context, prefix string) ObjectIterator {
	return &objectIteratorAdapter{it: a.handle.Objects(ctx, &storage.Query{Prefix: prefix})}
}

type objectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *objectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

func (a *objectHandleAdapter) NewWriter(ctx context.Context) io.WriteCloser {
	return a.handle.NewWriter(ctx)
}

type objectIteratorAdapter struct {
	it *storage.ObjectIterator
}

func (a *objectIteratorAdapter) Next() (string, error) {
	attrs, err := a.it.Next()
	if err != nil {
		// iterator.Done passes through untouched.
		return "", err
	}
	return attrs.Name, nil
}

// GCSStoreConfig holds configuration for the GCS-backed store.
type GCSStoreConfig struct {
	BucketName string
}

// GCSStore implements the pipeline's BlobSource over a GCS bucket.
type GCSStore struct {
	client Client
	bucket string
	logger zerolog.Logger
}

// NewGCSStore creates a store for the configured bucket.
func NewGCSStore(client Client, cfg GCSStoreConfig, logger zerolog.Logger) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSStore{
		client: client,
		bucket: cfg.BucketName,
		logger: logger.With().Str("component", "GCSStore").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// Fetch reads one object in full. Missing objects map to
// pipeline.ErrObjectNotFound so the caller can apply its own retry rule.
func (s *GCSStore) Fetch(ctx context.Context, objectName string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", objectName, pipeline.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open object %s: %w", objectName, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectName, err)
	}
	s.logger.Debug().Str("object", objectName).Int("bytes", len(data)).Msg("Fetched object.")
	return data, nil
}

// Write stores one object, overwriting any existing content. Object names
// never carry a leading slash in the bucket.
func (s *GCSStore) Write(ctx context.Context, objectName string, data []byte) error {
	objectName = strings.TrimPrefix(objectName, "/")
	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", objectName, err)
	}
	// Close finalizes the upload; errors here mean the object did not land.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %s: %w", objectName, err)
	}
	s.logger.Debug().Str("object", objectName).Int("bytes", len(data)).Msg("Wrote object.")
	return nil
}

// List returns the names of objects under a prefix, typically a device
// folder, for per-device upload history.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, strings.TrimPrefix(prefix, "/"))
	var names []string
	for {
		name, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		names = append(names, name)
	}
}
