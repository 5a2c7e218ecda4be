package engine

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestSubprocessRunnerAddsRunnerAndSpecEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is POSIX-specific")
	}

	var stdout bytes.Buffer
	runner := NewSubprocessRunner(&stdout, nil)
	runner.Env = ProxyEnv("http://proxy.local:3128")
	result := runner.Run(context.Background(), ExecSpec{
		Bin:  "sh",
		Args: []string{"-c", `echo "$https_proxy|$ALL_PROXY|$CRELAY_COOKIE"`},
		Env:  []string{"CRELAY_COOKIE=session=abc"},
	})

	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr=%q)", result.ExitCode, result.StderrTail)
	}
	want := "http://proxy.local:3128|http://proxy.local:3128|session=abc"
	if got := strings.TrimSpace(stdout.String()); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if strings.TrimSpace(result.StdoutTail) != want {
		t.Fatalf("expected stdout tail to mirror output, got %q", result.StdoutTail)
	}
}

func TestProxyEnvEmptyWithoutProxy(t *testing.T) {
	if env := ProxyEnv(""); env != nil {
		t.Fatalf("expected no variables, got %v", env)
	}
}

func TestOutputTailKeepsLastBytes(t *testing.T) {
	tail := &outputTail{limit: 8}
	_, _ = tail.Write([]byte("download "))
	_, _ = tail.Write([]byte("failed: 403"))
	if got := tail.String(); got != "led: 403" {
		t.Fatalf("expected last 8 bytes, got %q", got)
	}
}

func TestSubprocessRunnerReportsExitCodeAndStderrTail(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is POSIX-specific")
	}

	runner := NewSubprocessRunner(nil, nil)
	result := runner.Run(context.Background(), ExecSpec{
		Bin:  "sh",
		Args: []string{"-c", "echo 'connection refused' >&2; exit 3"},
	})

	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(result.StderrTail, "connection refused") {
		t.Fatalf("expected stderr tail, got %q", result.StderrTail)
	}
}

func TestSubprocessRunnerMarksCancelledRunAsInterrupted(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is POSIX-specific")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := NewSubprocessRunner(nil, nil).Run(ctx, ExecSpec{Bin: "sh", Args: []string{"-c", "sleep 5"}})
	if !result.Interrupted || result.ExitCode != 130 {
		t.Fatalf("expected interrupted result, got %+v", result)
	}
	if time.Since(start) >= 4*time.Second {
		t.Fatalf("expected cancellation to stop the process early")
	}
}

func TestSubprocessRunnerMissingBinary(t *testing.T) {
	result := NewSubprocessRunner(nil, nil).Run(context.Background(), ExecSpec{})
	if result.Err == nil || result.ExitCode != 1 {
		t.Fatalf("expected missing binary failure, got %+v", result)
	}
}

func TestFormatCommandQuotesArgsWithSpaces(t *testing.T) {
	got := FormatCommand("yt-dlp", []string{"--downloader-args", "ffmpeg:-nostats -loglevel 0"})
	want := `yt-dlp --downloader-args "ffmpeg:-nostats -loglevel 0"`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
