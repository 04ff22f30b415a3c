package stores

import (
	"context"
	"cowrite-server/config"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestGetStore(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"memory", config.Config{StorageType: "memory"}},
		{"default", config.Config{}},
		{"filesystem", config.Config{StorageType: "filesystem", LocalStoragePath: filepath.Join(t.TempDir(), "docs")}},
		{"redis", config.Config{StorageType: "redis", RedisURL: "redis://" + mr.Addr(), RedisKeyPrefix: "t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := GetStore(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("GetStore() failed: %v", err)
			}
			if store == nil {
				t.Fatal("GetStore() returned nil")
			}
		})
	}
}

func TestGetStore_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"unknown", config.Config{StorageType: "tape"}},
		{"s3 without bucket", config.Config{StorageType: "s3"}},
		{"unreachable redis", config.Config{StorageType: "redis", RedisURL: "redis://127.0.0.1:1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := GetStore(context.Background(), tt.cfg); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
