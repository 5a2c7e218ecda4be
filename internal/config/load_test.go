package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPrecedence(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "xdg"))

	userConfigPath, err := UserConfigPath()
	if err != nil {
		t.Fatalf("user config path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(userConfigPath), 0o755); err != nil {
		t.Fatalf("mkdir user config dir: %v", err)
	}

	userConfig := `version: 1
defaults:
  parallel_downloads: 2
  parallel_uploads: 5
source:
  manifest: "/tmp/user-courses.yaml"
relay:
  channel: "user-channel"
`
	if err := os.WriteFile(userConfigPath, []byte(userConfig), 0o644); err != nil {
		t.Fatalf("write user config: %v", err)
	}

	projectDir := filepath.Join(tmp, "project")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("mkdir project dir: %v", err)
	}
	projectConfig := `version: 1
defaults:
  include_archive: false
  content_kinds: ["PDF", "pdf"]
source:
  manifest: "/tmp/project-courses.yaml"
`
	if err := os.WriteFile(ProjectConfigPath(projectDir), []byte(projectConfig), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	cfg, err := Load(LoadOptions{
		WorkingDir: projectDir,
		Env: map[string]string{
			"CRELAY_PARALLEL_DOWNLOADS": "7",
		},
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Defaults.ParallelDownloads != 7 {
		t.Fatalf("expected env override parallel_downloads=7, got %d", cfg.Defaults.ParallelDownloads)
	}
	if cfg.Defaults.ParallelUploads != 5 {
		t.Fatalf("expected user parallel_uploads to survive, got %d", cfg.Defaults.ParallelUploads)
	}
	if cfg.Source.Manifest != "/tmp/project-courses.yaml" {
		t.Fatalf("expected project manifest, got %q", cfg.Source.Manifest)
	}
	if cfg.Relay.Channel != "user-channel" {
		t.Fatalf("expected user channel, got %q", cfg.Relay.Channel)
	}
	if cfg.Defaults.IncludeArchive {
		t.Fatalf("expected project include_archive=false")
	}
	if len(cfg.Defaults.ContentKinds) != 1 || cfg.Defaults.ContentKinds[0] != "pdf" {
		t.Fatalf("expected normalized content kinds [pdf], got %v", cfg.Defaults.ContentKinds)
	}
	if cfg.Backends.Aria2c.Connections != 16 {
		t.Fatalf("expected default aria2c connections, got %d", cfg.Backends.Aria2c.Connections)
	}
}

func TestLoadExplicitPathRequired(t *testing.T) {
	_, err := Load(LoadOptions{ExplicitPath: "/path/does/not/exist.yaml"})
	if err == nil {
		t.Fatalf("expected error for missing explicit config path")
	}
}

func TestLoadRejectsBadEnvValue(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, err := Load(LoadOptions{
		WorkingDir: t.TempDir(),
		Env:        map[string]string{"CRELAY_PARALLEL_UPLOADS": "lots"},
	})
	if err == nil {
		t.Fatalf("expected error for non-numeric CRELAY_PARALLEL_UPLOADS")
	}
}

func TestDefaultTemplateIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(DefaultTemplate()), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := Load(LoadOptions{ExplicitPath: path, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected template to validate, got %v", err)
	}
}
