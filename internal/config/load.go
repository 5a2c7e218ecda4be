package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type LoadOptions struct {
	ExplicitPath string
	WorkingDir   string
	Env          map[string]string
}

// file* mirror Config with pointers so a layer only overrides what it sets.
type fileConfig struct {
	Version  *int         `yaml:"version"`
	Defaults fileDefaults `yaml:"defaults"`
	Source   fileSource   `yaml:"source"`
	Relay    fileRelay    `yaml:"relay"`
	Backends fileBackends `yaml:"backends"`
	Probe    fileProbe    `yaml:"probe"`
	Events   fileEvents   `yaml:"events"`
	Registry fileRegistry `yaml:"registry"`
}

type fileDefaults struct {
	DownloadDir            *string   `yaml:"download_dir"`
	StateDir               *string   `yaml:"state_dir"`
	ParallelDownloads      *int      `yaml:"parallel_downloads"`
	ParallelUploads        *int      `yaml:"parallel_uploads"`
	UploadRetries          *int      `yaml:"upload_retries"`
	IncludeArchive         *bool     `yaml:"include_archive"`
	ChapterPauseMillis     *int      `yaml:"chapter_pause_ms"`
	ProgressIntervalMillis *int      `yaml:"progress_interval_ms"`
	PollIntervalMillis     *int      `yaml:"poll_interval_ms"`
	ShutdownTimeoutSeconds *int      `yaml:"shutdown_timeout_seconds"`
	SortChapters           *bool     `yaml:"sort_chapters"`
	ContentKinds           *[]string `yaml:"content_kinds"`
}

type fileSource struct {
	Manifest *string `yaml:"manifest"`
}

type fileRelay struct {
	Kind           *string   `yaml:"kind"`
	Channel        *string   `yaml:"channel"`
	NotifyUser     *string   `yaml:"notify_user"`
	VideoThumbnail *string   `yaml:"video_thumbnail"`
	PDFThumbnail   *string   `yaml:"pdf_thumbnail"`
	Outbox         *string   `yaml:"outbox"`
	Minio          fileMinio `yaml:"minio"`
}

type fileMinio struct {
	Endpoint  *string `yaml:"endpoint"`
	AccessKey *string `yaml:"access_key"`
	SecretKey *string `yaml:"secret_key"`
	Bucket    *string `yaml:"bucket"`
	UseSSL    *bool   `yaml:"use_ssl"`
	Prefix    *string `yaml:"prefix"`
}

type fileBackends struct {
	Proxy  *string `yaml:"proxy"`
	Aria2c struct {
		Bin              *string `yaml:"bin"`
		Connections      *int    `yaml:"connections"`
		Split            *int    `yaml:"split"`
		MaxTries         *int    `yaml:"max_tries"`
		RetryWaitSeconds *int    `yaml:"retry_wait_seconds"`
	} `yaml:"aria2c"`
	YTDLP struct {
		Bin       *string `yaml:"bin"`
		Fragments *int    `yaml:"fragments"`
	} `yaml:"ytdlp"`
	HTTP struct {
		TimeoutSeconds *int `yaml:"timeout_seconds"`
		ChunkSize      *int `yaml:"chunk_size"`
	} `yaml:"http"`
}

type fileProbe struct {
	Bin *string `yaml:"bin"`
}

type fileEvents struct {
	AMQPURL  *string `yaml:"amqp_url"`
	Exchange *string `yaml:"exchange"`
}

type fileRegistry struct {
	RedisAddr      *string `yaml:"redis_addr"`
	RedisPassword  *string `yaml:"redis_password"`
	RedisDB        *int    `yaml:"redis_db"`
	LockTTLSeconds *int    `yaml:"lock_ttl_seconds"`
}

func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	cwd := opts.WorkingDir
	if strings.TrimSpace(cwd) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}

	env := opts.Env
	if env == nil {
		env = osEnvMap()
	}

	if explicit := strings.TrimSpace(opts.ExplicitPath); explicit != "" {
		if err := mergeFile(&cfg, explicit, true); err != nil {
			return Config{}, err
		}
	} else {
		userPath, err := UserConfigPath()
		if err != nil {
			return Config{}, err
		}
		if err := mergeFile(&cfg, userPath, false); err != nil {
			return Config{}, err
		}

		if err := mergeFile(&cfg, ProjectConfigPath(cwd), false); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg, env); err != nil {
		return Config{}, err
	}

	normalize(&cfg)
	return cfg, nil
}

func mergeFile(cfg *Config, path string, required bool) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file does not exist: %s", path)
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(payload, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	set(&cfg.Version, fc.Version)

	d := fc.Defaults
	setString(&cfg.Defaults.DownloadDir, d.DownloadDir)
	setString(&cfg.Defaults.StateDir, d.StateDir)
	set(&cfg.Defaults.ParallelDownloads, d.ParallelDownloads)
	set(&cfg.Defaults.ParallelUploads, d.ParallelUploads)
	set(&cfg.Defaults.UploadRetries, d.UploadRetries)
	set(&cfg.Defaults.IncludeArchive, d.IncludeArchive)
	set(&cfg.Defaults.ChapterPauseMillis, d.ChapterPauseMillis)
	set(&cfg.Defaults.ProgressIntervalMillis, d.ProgressIntervalMillis)
	set(&cfg.Defaults.PollIntervalMillis, d.PollIntervalMillis)
	set(&cfg.Defaults.ShutdownTimeoutSeconds, d.ShutdownTimeoutSeconds)
	set(&cfg.Defaults.SortChapters, d.SortChapters)
	if d.ContentKinds != nil {
		cfg.Defaults.ContentKinds = append([]string{}, (*d.ContentKinds)...)
	}

	setString(&cfg.Source.Manifest, fc.Source.Manifest)

	r := fc.Relay
	if r.Kind != nil {
		cfg.Relay.Kind = RelayKind(strings.ToLower(strings.TrimSpace(*r.Kind)))
	}
	setString(&cfg.Relay.Channel, r.Channel)
	setString(&cfg.Relay.NotifyUser, r.NotifyUser)
	setString(&cfg.Relay.VideoThumbnail, r.VideoThumbnail)
	setString(&cfg.Relay.PDFThumbnail, r.PDFThumbnail)
	setString(&cfg.Relay.Outbox, r.Outbox)
	setString(&cfg.Relay.Minio.Endpoint, r.Minio.Endpoint)
	setString(&cfg.Relay.Minio.AccessKey, r.Minio.AccessKey)
	setString(&cfg.Relay.Minio.SecretKey, r.Minio.SecretKey)
	setString(&cfg.Relay.Minio.Bucket, r.Minio.Bucket)
	set(&cfg.Relay.Minio.UseSSL, r.Minio.UseSSL)
	setString(&cfg.Relay.Minio.Prefix, r.Minio.Prefix)

	b := fc.Backends
	setString(&cfg.Backends.Proxy, b.Proxy)
	setString(&cfg.Backends.Aria2c.Bin, b.Aria2c.Bin)
	set(&cfg.Backends.Aria2c.Connections, b.Aria2c.Connections)
	set(&cfg.Backends.Aria2c.Split, b.Aria2c.Split)
	set(&cfg.Backends.Aria2c.MaxTries, b.Aria2c.MaxTries)
	set(&cfg.Backends.Aria2c.RetryWaitSeconds, b.Aria2c.RetryWaitSeconds)
	setString(&cfg.Backends.YTDLP.Bin, b.YTDLP.Bin)
	set(&cfg.Backends.YTDLP.Fragments, b.YTDLP.Fragments)
	set(&cfg.Backends.HTTP.TimeoutSeconds, b.HTTP.TimeoutSeconds)
	set(&cfg.Backends.HTTP.ChunkSize, b.HTTP.ChunkSize)

	setString(&cfg.Probe.Bin, fc.Probe.Bin)
	setString(&cfg.Events.AMQPURL, fc.Events.AMQPURL)
	setString(&cfg.Events.Exchange, fc.Events.Exchange)

	setString(&cfg.Registry.RedisAddr, fc.Registry.RedisAddr)
	setString(&cfg.Registry.RedisPassword, fc.Registry.RedisPassword)
	set(&cfg.Registry.RedisDB, fc.Registry.RedisDB)
	set(&cfg.Registry.LockTTLSeconds, fc.Registry.LockTTLSeconds)

	return nil
}

func applyEnvOverrides(cfg *Config, env map[string]string) error {
	texts := []struct {
		key string
		dst *string
	}{
		{"CRELAY_DOWNLOAD_DIR", &cfg.Defaults.DownloadDir},
		{"CRELAY_STATE_DIR", &cfg.Defaults.StateDir},
		{"CRELAY_MANIFEST", &cfg.Source.Manifest},
		{"CRELAY_RELAY_CHANNEL", &cfg.Relay.Channel},
		{"CRELAY_NOTIFY_USER", &cfg.Relay.NotifyUser},
		{"CRELAY_MINIO_ENDPOINT", &cfg.Relay.Minio.Endpoint},
		{"CRELAY_MINIO_ACCESS_KEY", &cfg.Relay.Minio.AccessKey},
		{"CRELAY_MINIO_SECRET_KEY", &cfg.Relay.Minio.SecretKey},
		{"CRELAY_MINIO_BUCKET", &cfg.Relay.Minio.Bucket},
		{"CRELAY_AMQP_URL", &cfg.Events.AMQPURL},
		{"CRELAY_REDIS_ADDR", &cfg.Registry.RedisAddr},
		{"CRELAY_REDIS_PASSWORD", &cfg.Registry.RedisPassword},
		{"CRELAY_PROXY", &cfg.Backends.Proxy},
	}
	for _, item := range texts {
		if value := trimmed(env[item.key]); value != "" {
			*item.dst = value
		}
	}

	if value := trimmed(env["CRELAY_RELAY_KIND"]); value != "" {
		cfg.Relay.Kind = RelayKind(value)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CRELAY_PARALLEL_DOWNLOADS", &cfg.Defaults.ParallelDownloads},
		{"CRELAY_PARALLEL_UPLOADS", &cfg.Defaults.ParallelUploads},
		{"CRELAY_UPLOAD_RETRIES", &cfg.Defaults.UploadRetries},
		{"CRELAY_CHAPTER_PAUSE_MS", &cfg.Defaults.ChapterPauseMillis},
		{"CRELAY_REDIS_DB", &cfg.Registry.RedisDB},
	}
	for _, item := range ints {
		value := trimmed(env[item.key])
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", item.key, value, err)
		}
		*item.dst = parsed
	}

	if value := trimmed(env["CRELAY_INCLUDE_ARCHIVE"]); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid CRELAY_INCLUDE_ARCHIVE value %q: %w", value, err)
		}
		cfg.Defaults.IncludeArchive = parsed
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.Relay.Kind == "" {
		cfg.Relay.Kind = RelayKindLog
	}
	kinds := make([]string, 0, len(cfg.Defaults.ContentKinds))
	seen := map[string]struct{}{}
	for _, kind := range cfg.Defaults.ContentKinds {
		kind = strings.ToLower(strings.TrimSpace(kind))
		if _, ok := seen[kind]; ok || kind == "" {
			continue
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	cfg.Defaults.ContentKinds = kinds
}

func osEnvMap() map[string]string {
	result := map[string]string{}
	for _, pair := range os.Environ() {
		pieces := strings.SplitN(pair, "=", 2)
		if len(pieces) == 2 {
			result[pieces[0]] = pieces[1]
		}
	}
	return result
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func trimmed(value string) string {
	return strings.TrimSpace(value)
}
