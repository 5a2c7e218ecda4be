package upload

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jaa/course-relay/internal/engine"
	"github.com/jaa/course-relay/internal/progress"
)

const DefaultRetries = 3

type Task struct {
	Path     string
	Chapter  string
	Topic    string
	Kind     engine.ContentKind
	Retries  int
	Position progress.ChapterContext
}

func (t Task) Name() string {
	return filepath.Base(t.Path)
}

// Sender performs one relay attempt for a task.
type Sender interface {
	Send(ctx context.Context, task Task) error
}

type SenderFunc func(ctx context.Context, task Task) error

func (f SenderFunc) Send(ctx context.Context, task Task) error {
	return f(ctx, task)
}

type MediaProbe interface {
	Duration(ctx context.Context, path string) (int, error)
}

func Caption(task Task) string {
	return fmt.Sprintf("📚 %s\n📖 %s\n📁 %s", task.Chapter, task.Topic, task.Name())
}
