package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid config"
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Problems, "; "))
}

func Validate(cfg Config) error {
	problems := []string{}

	if cfg.Version != 1 {
		problems = append(problems, "version must be 1")
	}

	problems = append(problems, absolutePath("defaults.download_dir", cfg.Defaults.DownloadDir)...)
	problems = append(problems, absolutePath("defaults.state_dir", cfg.Defaults.StateDir)...)

	d := cfg.Defaults
	if d.ParallelDownloads < 1 || d.ParallelDownloads > 10 {
		problems = append(problems, "defaults.parallel_downloads must be between 1 and 10")
	}
	if d.ParallelUploads <= 0 {
		problems = append(problems, "defaults.parallel_uploads must be > 0")
	}
	if d.UploadRetries < 0 {
		problems = append(problems, "defaults.upload_retries must be >= 0")
	}
	if d.ChapterPauseMillis < 0 {
		problems = append(problems, "defaults.chapter_pause_ms must be >= 0")
	}
	if d.ProgressIntervalMillis <= 0 {
		problems = append(problems, "defaults.progress_interval_ms must be > 0")
	}
	if d.PollIntervalMillis <= 0 {
		problems = append(problems, "defaults.poll_interval_ms must be > 0")
	}
	if d.ShutdownTimeoutSeconds <= 0 {
		problems = append(problems, "defaults.shutdown_timeout_seconds must be > 0")
	}
	if len(d.ContentKinds) == 0 {
		problems = append(problems, "defaults.content_kinds must list video, pdf or both")
	}
	for _, kind := range d.ContentKinds {
		if kind != "video" && kind != "pdf" {
			problems = append(problems, fmt.Sprintf("defaults.content_kinds has unsupported kind %q", kind))
		}
	}

	if strings.TrimSpace(cfg.Source.Manifest) == "" {
		problems = append(problems, "source.manifest must be set")
	}

	switch cfg.Relay.Kind {
	case RelayKindLog:
	case RelayKindMinio:
		m := cfg.Relay.Minio
		if m.Endpoint == "" {
			problems = append(problems, "relay.minio.endpoint must be set for the minio relay")
		}
		if m.Bucket == "" {
			problems = append(problems, "relay.minio.bucket must be set for the minio relay")
		}
		if m.AccessKey == "" || m.SecretKey == "" {
			problems = append(problems, "relay.minio access_key and secret_key must be set for the minio relay")
		}
	default:
		problems = append(problems, fmt.Sprintf("relay.kind %q is unsupported (log or minio)", cfg.Relay.Kind))
	}
	if strings.TrimSpace(cfg.Relay.Channel) == "" {
		problems = append(problems, "relay.channel must be set")
	}

	if cfg.Backends.Proxy != "" {
		if err := validateProxyURL(cfg.Backends.Proxy); err != nil {
			problems = append(problems, fmt.Sprintf("backends.proxy is invalid: %v", err))
		}
	}

	a := cfg.Backends.Aria2c
	if a.Bin == "" {
		problems = append(problems, "backends.aria2c.bin must be set")
	}
	if a.Connections <= 0 || a.Split <= 0 {
		problems = append(problems, "backends.aria2c connections and split must be > 0")
	}
	if a.MaxTries < 0 || a.RetryWaitSeconds < 0 {
		problems = append(problems, "backends.aria2c max_tries and retry_wait_seconds must be >= 0")
	}
	if cfg.Backends.YTDLP.Bin == "" {
		problems = append(problems, "backends.ytdlp.bin must be set")
	}
	if cfg.Backends.YTDLP.Fragments <= 0 {
		problems = append(problems, "backends.ytdlp.fragments must be > 0")
	}
	if cfg.Backends.HTTP.TimeoutSeconds <= 0 {
		problems = append(problems, "backends.http.timeout_seconds must be > 0")
	}
	if cfg.Backends.HTTP.ChunkSize <= 0 {
		problems = append(problems, "backends.http.chunk_size must be > 0")
	}
	if cfg.Probe.Bin == "" {
		problems = append(problems, "probe.bin must be set")
	}

	if cfg.Events.AMQPURL != "" {
		if err := validateAMQPURL(cfg.Events.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("events.amqp_url is invalid: %v", err))
		}
		if cfg.Events.Exchange == "" {
			problems = append(problems, "events.exchange must be set when events.amqp_url is set")
		}
	}

	if cfg.Registry.RedisDB < 0 {
		problems = append(problems, "registry.redis_db must be >= 0")
	}
	if cfg.Registry.LockTTLSeconds <= 0 {
		problems = append(problems, "registry.lock_ttl_seconds must be > 0")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func absolutePath(key, raw string) []string {
	expanded, err := ExpandPath(raw)
	if err != nil || strings.TrimSpace(expanded) == "" {
		return []string{key + " must be a valid path"}
	}
	if !filepath.IsAbs(expanded) {
		return []string{key + " must resolve to an absolute path"}
	}
	return nil
}

func validateProxyURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("scheme must be http, https or socks5")
	}
	if parsed.Host == "" {
		return fmt.Errorf("host is missing")
	}
	return nil
}

func validateAMQPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return fmt.Errorf("scheme must be amqp or amqps")
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
