package download

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jaa/course-relay/internal/engine"
)

var ErrEmptyFile = errors.New("download produced an empty file")

type ProgressFunc func(current, total int64)

// Task is one queued download. Progress is optional.
type Task struct {
	URL      string
	Dest     string
	Kind     engine.ContentKind
	Progress ProgressFunc
}

type Downloader interface {
	Fetch(ctx context.Context, task Task) (int64, error)
}

type Backend interface {
	Name() string
	Supports(kind engine.ContentKind) bool
	Fetch(ctx context.Context, req engine.FetchRequest, progress ProgressFunc) error
}

type Attempt struct {
	Backend string
	Err     error
}

// DownloadError is returned once every applicable backend has failed.
type DownloadError struct {
	URL      string
	Dest     string
	Kind     engine.ContentKind
	Attempts []Attempt
}

func (e *DownloadError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("download %s: no backend supports kind %q", e.Dest, e.Kind)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", attempt.Backend, attempt.Err))
	}
	return fmt.Sprintf("download %s: all backends failed (%s)", e.Dest, strings.Join(parts, "; "))
}

func (e *DownloadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		errs = append(errs, attempt.Err)
	}
	return errs
}

type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected http status %d", e.StatusCode)
}

// EstimateTotal guesses a total for a transfer of unknown size. The result is
// always strictly greater than current so the rendered percentage stays below
// 100 until the transfer finishes.
func EstimateTotal(current int64) int64 {
	if current < 0 {
		current = 0
	}
	estimate := current * 3 / 2
	if floor := current + 1<<20; floor > estimate {
		estimate = floor
	}
	return estimate
}
