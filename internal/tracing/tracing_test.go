package tracing

import (
	"context"
	"testing"

	"github.com/corelay/corelay/internal/config"
)

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		in           string
		wantEndpoint string
		wantInsecure bool
	}{
		{"http://localhost:4318", "localhost:4318", true},
		{"https://collector.example.com:4318", "collector.example.com:4318", false},
		{"localhost:4318", "localhost:4318", true},
	}
	for _, c := range cases {
		endpoint, insecure := splitEndpoint(c.in)
		if endpoint != c.wantEndpoint || insecure != c.wantInsecure {
			t.Errorf("splitEndpoint(%q) = (%q, %v), want (%q, %v)", c.in, endpoint, insecure, c.wantEndpoint, c.wantInsecure)
		}
	}
}

func TestSetupDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown to succeed, got %v", err)
	}
}

func TestServiceNameOrFallsBack(t *testing.T) {
	if got := serviceNameOr(config.TelemetryConfig{}, "corelay"); got != "corelay" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := serviceNameOr(config.TelemetryConfig{ServiceName: "custom"}, "corelay"); got != "custom" {
		t.Fatalf("expected custom name, got %q", got)
	}
}
