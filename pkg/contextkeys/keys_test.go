package contextkeys

import (
	"context"
	"testing"
)

func TestClientIP(t *testing.T) {
	ctx := context.Background()
	if got := GetClientIP(ctx); got != "" {
		t.Errorf("Expected empty IP, got %q", got)
	}

	ctx = With(ctx, ClientIPKey, "203.0.113.7")
	if got := GetClientIP(ctx); got != "203.0.113.7" {
		t.Errorf("Expected 203.0.113.7, got %q", got)
	}
}

func TestKeysDoNotCollideWithStrings(t *testing.T) {
	ctx := context.WithValue(context.Background(), "client_ip", "spoofed")
	if got := GetClientIP(ctx); got != "" {
		t.Errorf("Plain string key must not satisfy typed lookup, got %q", got)
	}
}
