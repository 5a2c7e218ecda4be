package config

import (
	"path/filepath"
	"testing"
)

func TestResolveStatePathRelative(t *testing.T) {
	got, err := ResolveStatePath("/tmp/state", "topic_structure.json")
	if err != nil {
		t.Fatalf("resolve state path: %v", err)
	}
	want := filepath.Clean("/tmp/state/topic_structure.json")
	if got != want {
		t.Fatalf("unexpected state path. got=%q want=%q", got, want)
	}
}

func TestResolveStatePathKeepsAbsolute(t *testing.T) {
	got, err := ResolveStatePath("/tmp/state", "/var/lib/crelay/topics.json")
	if err != nil {
		t.Fatalf("resolve state path: %v", err)
	}
	if got != "/var/lib/crelay/topics.json" {
		t.Fatalf("unexpected state path %q", got)
	}
}
