package ffprobe

import "testing"

func TestParseDuration(t *testing.T) {
	got, err := ParseDuration("1834.567000\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != 1834 {
		t.Fatalf("expected 1834, got %d", got)
	}
}

func TestParseDurationRejectsMissingValue(t *testing.T) {
	if _, err := ParseDuration("N/A\n"); err == nil {
		t.Fatalf("expected error for N/A duration")
	}
	if _, err := ParseDuration("garbage"); err == nil {
		t.Fatalf("expected error for non-numeric duration")
	}
}

func TestBuildExecSpecPutsPathLast(t *testing.T) {
	spec, err := New("").BuildExecSpec("/tmp/a b.mp4")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if spec.Bin != "ffprobe" || spec.Args[len(spec.Args)-1] != "/tmp/a b.mp4" {
		t.Fatalf("unexpected spec %+v", spec)
	}
}
