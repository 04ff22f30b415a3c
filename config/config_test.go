package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"STORAGE_TYPE", "SAVE_INTERVAL", "STORE_TIMEOUT", "MAX_HTTP_BUFFER_SIZE", "CORS_ORIGINS", "JWT_SECRET"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.StorageType != "memory" {
		t.Errorf("StorageType = %q", cfg.StorageType)
	}
	if cfg.SaveInterval != 2*time.Second {
		t.Errorf("SaveInterval = %s", cfg.SaveInterval)
	}
	if cfg.StoreTimeout != 10*time.Second {
		t.Errorf("StoreTimeout = %s", cfg.StoreTimeout)
	}
	if cfg.MaxHttpBufferSize != 5000000 {
		t.Errorf("MaxHttpBufferSize = %d", cfg.MaxHttpBufferSize)
	}
	if len(cfg.CORSOrigins) != 0 {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "SQLite")
	t.Setenv("SAVE_INTERVAL", "5")
	t.Setenv("STORE_TIMEOUT", "1500ms")
	t.Setenv("MAX_HTTP_BUFFER_SIZE", "1024")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")

	cfg := Load()
	if cfg.StorageType != "sqlite" {
		t.Errorf("StorageType = %q", cfg.StorageType)
	}
	if cfg.SaveInterval != 5*time.Second {
		t.Errorf("SaveInterval = %s", cfg.SaveInterval)
	}
	if cfg.StoreTimeout != 1500*time.Millisecond {
		t.Errorf("StoreTimeout = %s", cfg.StoreTimeout)
	}
	if cfg.MaxHttpBufferSize != 1024 {
		t.Errorf("MaxHttpBufferSize = %d", cfg.MaxHttpBufferSize)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_InvalidFallsBack(t *testing.T) {
	t.Setenv("SAVE_INTERVAL", "soon")
	t.Setenv("MAX_HTTP_BUFFER_SIZE", "big")

	cfg := Load()
	if cfg.SaveInterval != 2*time.Second {
		t.Errorf("SaveInterval = %s", cfg.SaveInterval)
	}
	if cfg.MaxHttpBufferSize != 5000000 {
		t.Errorf("MaxHttpBufferSize = %d", cfg.MaxHttpBufferSize)
	}
}
