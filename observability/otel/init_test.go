package otel

import (
	"context"
	"testing"
)

func TestInitWithoutExportersIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{Traces: true}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(envEndpoint, "")
	cfg := ConfigFromEnv("vaultd", "dev")
	if cfg.Traces || cfg.Metrics {
		t.Fatalf("exporters enabled without endpoint: %+v", cfg)
	}

	t.Setenv(envEndpoint, " collector:4318 ")
	t.Setenv(envHeaders, "authorization=Bearer abc, x-tenant = vaults")
	t.Setenv(envInsecure, "false")
	cfg = ConfigFromEnv("vaultd", "prod")
	if !cfg.Traces || !cfg.Metrics || cfg.Insecure {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Endpoint != "collector:4318" || cfg.Environment != "prod" {
		t.Fatalf("unexpected endpoint/env %q/%q", cfg.Endpoint, cfg.Environment)
	}
	if cfg.Headers["authorization"] != "Bearer abc" || cfg.Headers["x-tenant"] != "vaults" {
		t.Fatalf("unexpected headers %v", cfg.Headers)
	}
}

func TestParseHeadersSkipsMalformed(t *testing.T) {
	headers := ParseHeaders("a=1,,novalue, =x,b = 2 ")
	if len(headers) != 2 || headers["a"] != "1" || headers["b"] != "2" {
		t.Fatalf("unexpected headers %v", headers)
	}
}
