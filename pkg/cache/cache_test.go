package cache

import (
	"context"
	"testing"
	"time"
)

func TestNew_StorageSelection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory default", cfg: Config{Enabled: true}, wantErr: false},
		{name: "memory explicit", cfg: Config{Enabled: true, Storage: StorageMemory}, wantErr: false},
		{name: "redis without client", cfg: Config{Enabled: true, Storage: StorageRedis}, wantErr: true},
		{name: "unknown storage", cfg: Config{Enabled: true, Storage: "etcd"}, wantErr: true},
		{name: "disabled", cfg: Config{Enabled: false}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	store, err := New(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	key := KeyForPath("/user")
	entry := &Entry{Data: []byte("u"), Expires: time.Now().Add(time.Minute)}

	if err := store.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if _, err := store.Get(ctx, key); err != ErrCacheMiss {
		t.Errorf("Get() on disabled cache = %v, want ErrCacheMiss", err)
	}
}
