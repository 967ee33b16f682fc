package redis

import (
	"context"
	"os"
	"testing"
)

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error when address is empty")
	}
}

func TestNewClientPing(t *testing.T) {
	addr := os.Getenv("LENO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LENO_TEST_REDIS_ADDR not set")
	}
	client, err := NewClient(context.Background(), Config{Address: addr})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
}
