package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaa/course-relay/internal/engine"
	"github.com/jaa/course-relay/internal/fileops"
)

const DefaultPollInterval = 2 * time.Second

// SubprocessBackend runs an external downloader and, when a progress func is
// supplied, polls the growing destination file while the tool runs.
type SubprocessBackend struct {
	Adapter      engine.Adapter
	Runner       engine.ExecRunner
	PollInterval time.Duration
}

func NewSubprocessBackend(adapter engine.Adapter, runner engine.ExecRunner, poll time.Duration) *SubprocessBackend {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &SubprocessBackend{Adapter: adapter, Runner: runner, PollInterval: poll}
}

func (b *SubprocessBackend) Name() string {
	return b.Adapter.Name()
}

func (b *SubprocessBackend) Supports(kind engine.ContentKind) bool {
	return b.Adapter.Supports(kind)
}

func (b *SubprocessBackend) Fetch(ctx context.Context, req engine.FetchRequest, progress ProgressFunc) error {
	spec, err := b.Adapter.BuildExecSpec(req)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	if progress == nil {
		return b.resultError(ctx, b.Runner.Run(ctx, spec))
	}

	done := make(chan engine.ExecResult, 1)
	go func() {
		done <- b.Runner.Run(ctx, spec)
	}()

	ticker := time.NewTicker(b.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case result := <-done:
			return b.resultError(ctx, result)
		case <-ticker.C:
			if size, ok := fileops.NonEmptyFile(req.Dest); ok {
				progress(size, EstimateTotal(size))
			}
		}
	}
}

func (b *SubprocessBackend) resultError(ctx context.Context, result engine.ExecResult) error {
	if result.Interrupted {
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	}
	if result.TimedOut {
		return fmt.Errorf("%s timed out after %s", b.Adapter.Name(), result.Duration.Round(time.Second))
	}
	if result.ExitCode != 0 {
		if detail := lastLine(result.StderrTail); detail != "" {
			return fmt.Errorf("%s exited with code %d: %s", b.Adapter.Name(), result.ExitCode, detail)
		}
		return fmt.Errorf("%s exited with code %d", b.Adapter.Name(), result.ExitCode)
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
