// Package gcs implements the Google Cloud Storage backend. It authenticates with
// Application Default Credentials, a service account key, or Workload Identity
// Federation.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/uilm/uilm-service/internal/config"
	appstorage "github.com/uilm/uilm-service/internal/storage"
	"github.com/uilm/uilm-service/pkg/checksum"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage stores objects in one bucket
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// New creates the GCS backend for one bucket.
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{client: client, bucket: cfg.Bucket}, nil
}

// clientOptions maps AuthMethod to client options:
//
//	default            Application Default Credentials
//	service_account    CredentialsJSON, else CredentialsFile
//	workload_identity  ADC backed by the federated token source
//
// An empty AuthMethod means service_account when credentials are configured.
func clientOptions(cfg *appconfig.GCSStorageConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	method := cfg.AuthMethod
	if method == "" && (cfg.CredentialsJSON != "" || cfg.CredentialsFile != "") {
		method = "service_account"
	}
	switch method {
	case "", "default", "workload_identity":
		return opts, nil
	case "service_account":
		if cfg.CredentialsJSON != "" {
			return append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))), nil
		}
		if cfg.CredentialsFile != "" {
			return append(opts, option.WithCredentialsFile(cfg.CredentialsFile)), nil
		}
		return nil, errors.New("credentials_file or credentials_json is required for service_account auth")
	}
	return nil, fmt.Errorf("unsupported auth_method %q (want default, service_account or workload_identity)", method)
}

func (s *GCSStorage) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(key)
}

// Close releases the underlying client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Backend implements storage.Storage
func (s *GCSStorage) Backend() string { return "gcs" }

// Upload writes the object with its SHA256 recorded as metadata
func (s *GCSStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) (*appstorage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	sum := checksum.SumBytes(data)

	writer := s.object(key).NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = map[string]string{"sha256": sum}

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.UploadResult{Key: key, Size: int64(len(data)), Checksum: sum}, nil
}

// Download opens a reader on the object
func (s *GCSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	return reader, nil
}

// Delete removes the object. A missing object is not an error.
func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	if err := s.object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Exists reports whether the object is present
func (s *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object: %w", err)
	}
	return true, nil
}
