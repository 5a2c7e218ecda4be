package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/jaa/course-relay/internal/download"
	"github.com/jaa/course-relay/internal/fileops"
	"github.com/jaa/course-relay/internal/output"
	"github.com/jaa/course-relay/internal/session"
	"github.com/jaa/course-relay/internal/source"
	"github.com/jaa/course-relay/internal/upload"
)

var (
	ErrNoSubjects = errors.New("content source returned no subjects")
	ErrNoChapters = errors.New("content source returned no chapters")
)

const DefaultShutdownTimeout = 30 * time.Second

type DownloadQueue interface {
	Submitter
	Wait()
	Stats() download.Stats
}

type UploadQueue interface {
	Enqueuer
	DrainAndWait(ctx context.Context) error
	Stop(timeout time.Duration) error
	Stats() upload.Stats
}

type Result struct {
	State        session.State
	Chapters     int
	Processed    int
	Interrupted  bool
	Items        ProcessorStats
	Downloads    download.Stats
	Uploads      upload.Stats
	CleanupError error
}

// PermanentFailures counts items that will not arrive without another run.
func (r Result) PermanentFailures() int {
	return r.Items.Failed + r.Downloads.Failed + r.Uploads.Dropped
}

type Controller struct {
	Source    source.ContentSource
	Processor *ChapterProcessor
	Downloads DownloadQueue
	Uploads   UploadQueue
	Topics    *Topics
	Layout    Layout
	Emitter   output.EventEmitter

	SortChapters    bool
	Cleanup         bool
	ShutdownTimeout time.Duration
	Pacer           *rate.Limiter
	OnChapterDone   func(s *session.Session, ref ChapterRef)
	Now             func() time.Time
}

// Run drives one session through
// initializing -> resolving -> processing -> completed|cancelled|failed.
// Admitted downloads and queued uploads are always waited for, and the
// scratch directory is removed even when the run fails.
func (c *Controller) Run(ctx context.Context, s *session.Session) (Result, error) {
	result := Result{}
	c.emit(s, output.LevelInfo, output.EventSessionStarted, fmt.Sprintf("session started for %s (range %s)", s.UserID, s.Range), map[string]any{
		"range":           s.Range.String(),
		"include_archive": s.IncludeArchive,
		"parallel":        s.Parallel(),
	})

	runErr := c.run(ctx, s, &result)

	c.Downloads.Wait()
	if c.Uploads != nil {
		if runErr == nil {
			if err := c.Uploads.DrainAndWait(ctx); err != nil && ctx.Err() == nil {
				runErr = err
			}
		}
		timeout := c.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultShutdownTimeout
		}
		if err := c.Uploads.Stop(timeout); err != nil && runErr == nil {
			runErr = fmt.Errorf("stop upload pool: %w", err)
		}
		result.Uploads = c.Uploads.Stats()
	}
	result.Downloads = c.Downloads.Stats()
	if c.Processor != nil {
		result.Items = c.Processor.Stats()
	}

	if c.Topics != nil {
		if err := c.Topics.Save(); err != nil && runErr == nil {
			runErr = fmt.Errorf("save topic structure: %w", err)
		}
	}

	switch {
	case runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		s.SetState(session.StateCancelled)
	case runErr != nil:
		s.Fail(runErr)
	case result.Interrupted:
		s.SetState(session.StateCancelled)
	default:
		s.SetState(session.StateCompleted)
	}
	result.State = s.State()

	c.cleanup(s, &result)
	c.finish(s, result, runErr)
	return result, runErr
}

func (c *Controller) run(ctx context.Context, s *session.Session, result *Result) error {
	chapters, err := c.resolveChapters(ctx, s)
	if err != nil {
		return err
	}
	selected := SelectChapters(chapters, s.Range)
	result.Chapters = len(selected)
	s.SetTotalChapters(len(selected))
	s.SetState(session.StateProcessing)

	for i, chapter := range selected {
		if i > 0 && c.Pacer != nil {
			if err := c.Pacer.Wait(ctx); err != nil {
				return err
			}
		}
		if !s.Running() {
			result.Interrupted = true
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ref := ChapterRef{Chapter: chapter, Index: i + 1, Total: len(selected)}
		s.StartChapter(chapter.Name)
		c.emit(s, output.LevelInfo, output.EventChapterStarted, fmt.Sprintf("chapter %d/%d: %s", ref.Index, ref.Total, chapter.Name), map[string]any{
			"subject": chapter.Subject.Name,
			"chapter": chapter.Name,
		})

		if err := c.Processor.Process(ctx, s, ref); err != nil {
			if errors.Is(err, ErrChapterInterrupted) {
				result.Interrupted = true
				return nil
			}
			return err
		}

		s.ChapterDone()
		result.Processed++
		c.emit(s, output.LevelInfo, output.EventChapterFinished, fmt.Sprintf("chapter %d/%d done: %s", ref.Index, ref.Total, chapter.Name), map[string]any{
			"subject": chapter.Subject.Name,
			"chapter": chapter.Name,
		})
		if c.OnChapterDone != nil {
			c.OnChapterDone(s, ref)
		}
	}
	return nil
}

func (c *Controller) resolveChapters(ctx context.Context, s *session.Session) ([]source.Chapter, error) {
	s.SetState(session.StateResolvingSubjects)
	subjects, err := c.Source.ListSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	if len(subjects) == 0 {
		return nil, ErrNoSubjects
	}

	s.SetState(session.StateResolvingChapters)
	var chapters []source.Chapter
	for _, subject := range subjects {
		if c.Pacer != nil {
			if err := c.Pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}
		found, err := c.Source.ListChapters(ctx, subject)
		if err != nil {
			return nil, fmt.Errorf("list chapters for %s: %w", subject.Name, err)
		}
		chapters = append(chapters, found...)
	}
	if len(chapters) == 0 {
		return nil, ErrNoChapters
	}

	if c.SortChapters {
		sort.SliceStable(chapters, func(i, j int) bool {
			a, b := chapters[i], chapters[j]
			if a.Subject.Ordinal != b.Subject.Ordinal {
				return a.Subject.Ordinal < b.Subject.Ordinal
			}
			return a.Ordinal < b.Ordinal
		})
	}
	return chapters, nil
}

// SelectChapters applies an inclusive 1-based range. A range that does not
// fit the list selects every chapter instead of failing.
func SelectChapters(chapters []source.Chapter, r session.Range) []source.Chapter {
	if r.IsZero() {
		return chapters
	}
	if r.Start >= 1 && r.Start <= r.End && r.End <= len(chapters) {
		return chapters[r.Start-1 : r.End]
	}
	return chapters
}

func (c *Controller) cleanup(s *session.Session, result *Result) {
	if c.Source != nil {
		_ = c.Source.Close()
	}
	if !c.Cleanup {
		return
	}
	dir := c.Layout.SessionDir(s.UserID)
	if err := fileops.RemoveTree(dir); err != nil {
		result.CleanupError = err
		c.emit(s, output.LevelWarn, output.EventCleanup, fmt.Sprintf("cleanup failed: %v", err), map[string]any{"path": dir})
		return
	}
	c.emit(s, output.LevelInfo, output.EventCleanup, "removed session directory", map[string]any{"path": dir})
}

func (c *Controller) finish(s *session.Session, result Result, runErr error) {
	details := map[string]any{
		"state":              string(result.State),
		"chapters":           result.Chapters,
		"processed":          result.Processed,
		"submitted":          result.Items.Submitted,
		"skipped":            result.Items.Skipped,
		"item_failures":      result.Items.Failed,
		"downloads_ok":       result.Downloads.Succeeded,
		"downloads_failed":   result.Downloads.Failed,
		"uploads_ok":         result.Uploads.Succeeded,
		"uploads_dropped":    result.Uploads.Dropped,
		"permanent_failures": result.PermanentFailures(),
	}
	switch result.State {
	case session.StateFailed:
		details["error"] = runErr.Error()
		c.emit(s, output.LevelError, output.EventSessionFailed, fmt.Sprintf("session failed: %v", runErr), details)
	case session.StateCancelled:
		c.emit(s, output.LevelWarn, output.EventSessionCancelled, fmt.Sprintf("session cancelled after %d/%d chapters", result.Processed, result.Chapters), details)
	default:
		c.emit(s, output.LevelInfo, output.EventSessionFinished, fmt.Sprintf("session finished: %d/%d chapters", result.Processed, result.Chapters), details)
	}
}

func (c *Controller) emit(s *session.Session, level output.Level, name output.EventName, message string, details map[string]any) {
	if c.Emitter == nil {
		return
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	_ = c.Emitter.Emit(output.Event{
		Timestamp: now(),
		Level:     level,
		Event:     name,
		SessionID: s.ID,
		Message:   message,
		Details:   details,
	})
}
