package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jaa/course-relay/internal/engine"
	"github.com/jaa/course-relay/internal/fileops"
	"github.com/jaa/course-relay/internal/output"
)

// Executor tries each backend in order until one produces a non-empty file.
// It holds no per-task state and is safe for concurrent use.
type Executor struct {
	Backends  []Backend
	Emitter   output.EventEmitter
	SessionID string
	Now       func() time.Time
}

func NewExecutor(emitter output.EventEmitter, backends ...Backend) *Executor {
	if emitter == nil {
		emitter = output.NoOpEmitter{}
	}
	return &Executor{
		Backends: backends,
		Emitter:  emitter,
		Now:      time.Now,
	}
}

func (e *Executor) Fetch(ctx context.Context, task Task) (int64, error) {
	if err := removeStale(task.Dest); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(task.Dest), 0o755); err != nil {
		return 0, fmt.Errorf("create download dir: %w", err)
	}

	req := engine.FetchRequest{URL: task.URL, Dest: task.Dest, Kind: task.Kind}
	failure := &DownloadError{URL: task.URL, Dest: task.Dest, Kind: task.Kind}

	for _, backend := range e.Backends {
		if !backend.Supports(task.Kind) {
			continue
		}
		if err := ctx.Err(); err != nil {
			failure.Attempts = append(failure.Attempts, Attempt{Backend: backend.Name(), Err: err})
			break
		}

		e.emit(output.LevelInfo, output.EventBackendAttempt, fmt.Sprintf("%s: %s", backend.Name(), filepath.Base(task.Dest)), map[string]any{
			"backend": backend.Name(),
			"path":    task.Dest,
			"kind":    string(task.Kind),
		})

		err := backend.Fetch(ctx, req, task.Progress)
		if err == nil {
			if size, ok := fileops.NonEmptyFile(task.Dest); ok {
				if task.Progress != nil {
					task.Progress(size, size)
				}
				e.emit(output.LevelInfo, output.EventDownloadFinished, fmt.Sprintf("downloaded %s (%s)", filepath.Base(task.Dest), backend.Name()), map[string]any{
					"backend": backend.Name(),
					"path":    task.Dest,
					"kind":    string(task.Kind),
					"bytes":   size,
				})
				return size, nil
			}
			err = ErrEmptyFile
		}

		_ = os.Remove(task.Dest)
		failure.Attempts = append(failure.Attempts, Attempt{Backend: backend.Name(), Err: err})
		e.emit(output.LevelWarn, output.EventBackendFailed, fmt.Sprintf("%s failed for %s: %v", backend.Name(), filepath.Base(task.Dest), err), map[string]any{
			"backend": backend.Name(),
			"path":    task.Dest,
			"url":     task.URL,
			"kind":    string(task.Kind),
			"error":   err.Error(),
		})
	}

	e.emit(output.LevelError, output.EventDownloadFailed, failure.Error(), map[string]any{
		"path": task.Dest,
		"url":  task.URL,
		"kind": string(task.Kind),
	})
	return 0, failure
}

func (e *Executor) emit(level output.Level, name output.EventName, message string, details map[string]any) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	_ = e.Emitter.Emit(output.Event{
		Timestamp: now(),
		Level:     level,
		Event:     name,
		SessionID: e.SessionID,
		Message:   message,
		Details:   details,
	})
}

func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale %s: %w", path, err)
	}
	return nil
}
