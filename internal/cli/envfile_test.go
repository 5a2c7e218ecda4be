package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDotEnvFilesLoadsEnvAndLocalOverrides(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, ".env")
	localPath := filepath.Join(tmp, ".env.local")

	if err := os.WriteFile(envPath, []byte("CRELAY_MANIFEST=/tmp/a/courses.yaml\nCRELAY_PARALLEL_DOWNLOADS=1\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	if err := os.WriteFile(localPath, []byte("CRELAY_MANIFEST=/tmp/b/courses.yaml\n"), 0o644); err != nil {
		t.Fatalf("write .env.local: %v", err)
	}

	values := map[string]string{}
	setenv := func(k, v string) error {
		values[k] = v
		return nil
	}

	if err := loadDotEnvFiles(tmp, nil, setenv); err != nil {
		t.Fatalf("load dotenv files: %v", err)
	}
	if values["CRELAY_MANIFEST"] != "/tmp/b/courses.yaml" {
		t.Fatalf("expected .env.local to override .env, got %q", values["CRELAY_MANIFEST"])
	}
	if values["CRELAY_PARALLEL_DOWNLOADS"] != "1" {
		t.Fatalf("expected CRELAY_PARALLEL_DOWNLOADS from .env, got %q", values["CRELAY_PARALLEL_DOWNLOADS"])
	}
}

func TestLoadDotEnvFilesDoesNotOverrideProcessEnv(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, ".env")
	if err := os.WriteFile(envPath, []byte("CRELAY_MANIFEST=/tmp/courses.yaml\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	values := map[string]string{}
	setenv := func(k, v string) error {
		values[k] = v
		return nil
	}

	if err := loadDotEnvFiles(tmp, []string{"CRELAY_MANIFEST=/already/set"}, setenv); err != nil {
		t.Fatalf("load dotenv files: %v", err)
	}
	if _, exists := values["CRELAY_MANIFEST"]; exists {
		t.Fatalf("expected existing process env to be protected")
	}
}

func TestParseDotEnvLineSupportsExportAndQuotedValues(t *testing.T) {
	key, value, ok, err := parseDotEnvLine("export CRELAY_MANIFEST=\"/Users/test/crelay/courses.yaml\"")
	if err != nil {
		t.Fatalf("parse line: %v", err)
	}
	if !ok || key != "CRELAY_MANIFEST" || value != "/Users/test/crelay/courses.yaml" {
		t.Fatalf("unexpected parse result: ok=%v key=%q value=%q", ok, key, value)
	}

	key, value, ok, err = parseDotEnvLine("CRELAY_PORTAL_TOKEN='abc123'")
	if err != nil {
		t.Fatalf("parse single-quoted line: %v", err)
	}
	if !ok || key != "CRELAY_PORTAL_TOKEN" || value != "abc123" {
		t.Fatalf("unexpected single-quoted parse result: ok=%v key=%q value=%q", ok, key, value)
	}
}

func TestLoadDotEnvFilesAppliesExplicitEnvFileLast(t *testing.T) {
	tmp := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmp, ".env"), []byte("CRELAY_MANIFEST=/tmp/a/courses.yaml\nCRELAY_USER=alice\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "staging.env"), []byte("# staging\nCRELAY_MANIFEST=/srv/courses.yaml # shared\n"), 0o644); err != nil {
		t.Fatalf("write staging.env: %v", err)
	}

	values := map[string]string{}
	setenv := func(k, v string) error {
		values[k] = v
		return nil
	}

	if err := loadDotEnvFiles(tmp, []string{"CRELAY_ENV_FILE=staging.env"}, setenv); err != nil {
		t.Fatalf("load dotenv files: %v", err)
	}
	if values["CRELAY_MANIFEST"] != "/srv/courses.yaml" {
		t.Fatalf("expected explicit env file to win with comment stripped, got %q", values["CRELAY_MANIFEST"])
	}
	if values["CRELAY_USER"] != "alice" {
		t.Fatalf("expected CRELAY_USER from .env, got %q", values["CRELAY_USER"])
	}
}

func TestLoadDotEnvFilesRequiresExplicitEnvFile(t *testing.T) {
	tmp := t.TempDir()
	err := loadDotEnvFiles(tmp, []string{"CRELAY_ENV_FILE=" + filepath.Join(tmp, "missing.env")}, func(string, string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "missing.env") {
		t.Fatalf("expected error naming the missing env file, got %v", err)
	}
}

func TestParseDotEnvLineRejectsInvalidKeys(t *testing.T) {
	for _, line := range []string{"1CRELAY=x", "CRELAY-USER=x", "CRELAY_USER"} {
		if _, _, _, err := parseDotEnvLine(line); err == nil {
			t.Fatalf("expected %q to be rejected", line)
		}
	}
}
