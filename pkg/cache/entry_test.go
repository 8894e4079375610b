package cache

import (
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name     string
		expires  time.Time
		expected bool
	}{
		{
			name:     "future expiry",
			expires:  time.Now().Add(5 * time.Minute),
			expected: false,
		},
		{
			name:     "past expiry",
			expires:  time.Now().Add(-5 * time.Minute),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{Expires: tt.expires}
			if got := entry.IsExpired(); got != tt.expected {
				t.Errorf("IsExpired() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	entry := &Entry{Expires: time.Now().Add(10 * time.Second)}
	ttl := entry.TTL()
	if ttl <= 0 || ttl > 10*time.Second {
		t.Errorf("TTL() = %v, want (0, 10s]", ttl)
	}

	expired := &Entry{Expires: time.Now().Add(-time.Second)}
	if got := expired.TTL(); got != 0 {
		t.Errorf("TTL() for expired entry = %v, want 0", got)
	}
}

func TestEntry_Size(t *testing.T) {
	entry := &Entry{
		Data: []byte(`{"id": 1}`),
		ETag: `"abc123"`,
	}
	expected := int64(len(entry.Data) + len(entry.ETag))
	if got := entry.Size(); got != expected {
		t.Errorf("Size() = %d, want %d", got, expected)
	}
}
