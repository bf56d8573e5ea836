package storage_test

import (
	"context"
	"io"
	"slices"
	"testing"

	"github.com/uilm/uilm-service/internal/config"
	"github.com/uilm/uilm-service/internal/storage"
)

type stubStorage struct{}

func (stubStorage) Backend() string { return "stub" }
func (stubStorage) Upload(context.Context, string, io.Reader, string) (*storage.UploadResult, error) {
	return &storage.UploadResult{}, nil
}
func (stubStorage) Download(context.Context, string) (io.ReadCloser, error) { return nil, storage.ErrNotFound }
func (stubStorage) Delete(context.Context, string) error                    { return nil }
func (stubStorage) Exists(context.Context, string) (bool, error)            { return false, nil }

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("stub", func(_ *config.Config) (storage.Storage, error) {
		return stubStorage{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "stub"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s.Backend() != "stub" {
		t.Errorf("Backend() = %q, want stub", s.Backend())
	}
	if !slices.Contains(storage.Registered(), "stub") {
		t.Errorf("Registered() = %v, want it to contain stub", storage.Registered())
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	for _, name := range []string{"completely-unknown-backend", ""} {
		cfg := &config.Config{}
		cfg.Storage.DefaultBackend = name
		if _, err := storage.NewStorage(cfg); err == nil {
			t.Errorf("NewStorage(%q) = nil error, want error", name)
		}
	}
}
