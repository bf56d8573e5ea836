package gcs

import (
	"testing"

	appconfig "github.com/uilm/uilm-service/internal/config"
)

// ---------------------------------------------------------------------------
// New() constructor validation (no GCS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	if _, err := New(&appconfig.GCSStorageConfig{}); err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_ServiceAccountNoCredentials(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:     "uilm-files",
		AuthMethod: "service_account",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for service_account without credentials")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	cfg := &appconfig.GCSStorageConfig{
		Bucket:     "uilm-files",
		AuthMethod: "api_key",
	}
	if _, err := New(cfg); err == nil {
		t.Error("New() = nil error, want error for unsupported auth_method")
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.GCSStorageConfig
		want int
	}{
		{"adc", appconfig.GCSStorageConfig{}, 0},
		{"adc with emulator endpoint", appconfig.GCSStorageConfig{Endpoint: "http://localhost:4443"}, 1},
		{"inferred service account", appconfig.GCSStorageConfig{CredentialsFile: "/etc/gcs.json"}, 1},
		{"json preferred over file", appconfig.GCSStorageConfig{AuthMethod: "service_account", CredentialsJSON: "{}", CredentialsFile: "/etc/gcs.json"}, 1},
		{"workload identity", appconfig.GCSStorageConfig{AuthMethod: "workload_identity", Endpoint: "http://localhost:4443"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := clientOptions(&tt.cfg)
			if err != nil {
				t.Fatalf("clientOptions() error: %v", err)
			}
			if len(opts) != tt.want {
				t.Errorf("len(clientOptions()) = %d, want %d", len(opts), tt.want)
			}
		})
	}
}
