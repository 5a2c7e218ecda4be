package config

import "testing"

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Defaults.DownloadDir = "/tmp/crelay/downloads"
	cfg.Defaults.StateDir = "/tmp/crelay/state"
	cfg.Source.Manifest = "/tmp/courses.yaml"
	return cfg
}

func TestValidateSuccess(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateFailure(t *testing.T) {
	cfg := validConfig()
	cfg.Version = 2
	cfg.Defaults.StateDir = "relative/state"
	cfg.Defaults.ParallelDownloads = 11
	cfg.Defaults.ContentKinds = []string{"audio"}
	cfg.Source.Manifest = ""
	cfg.Relay.Kind = "carrier-pigeon"
	cfg.Events.AMQPURL = "http://broker"

	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	validationErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(validationErr.Problems) < 7 {
		t.Fatalf("expected multiple problems, got %v", validationErr.Problems)
	}
}

func TestValidateMinioRelayNeedsCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.Kind = RelayKindMinio
	cfg.Relay.Minio.Endpoint = "localhost:9000"

	err := Validate(cfg)
	validationErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(validationErr.Problems) != 2 {
		t.Fatalf("expected bucket and credential problems, got %v", validationErr.Problems)
	}
}

func TestValidateProxyURL(t *testing.T) {
	cfg := validConfig()
	cfg.Backends.Proxy = "socks5://127.0.0.1:1080"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected socks5 proxy to be accepted, got %v", err)
	}
	for _, bad := range []string{"ftp://proxy:21", "http://", "::"} {
		cfg.Backends.Proxy = bad
		if err := Validate(cfg); err == nil {
			t.Fatalf("expected proxy %q to be rejected", bad)
		}
	}
}
