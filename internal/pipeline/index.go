package pipeline

import (
	"context"
	"sync"

	"github.com/jaa/course-relay/internal/download"
	"github.com/jaa/course-relay/internal/progress"
	"github.com/jaa/course-relay/internal/upload"
)

type ItemMeta struct {
	Chapter  string
	Topic    string
	Position progress.ChapterContext
}

// MetadataIndex maps a destination path to what the upload caption needs.
// Download completions read it from scheduler goroutines while the chapter
// traversal keeps writing.
type MetadataIndex struct {
	mu    sync.Mutex
	items map[string]ItemMeta
}

func NewMetadataIndex() *MetadataIndex {
	return &MetadataIndex{items: map[string]ItemMeta{}}
}

func (i *MetadataIndex) Put(path string, meta ItemMeta) {
	i.mu.Lock()
	i.items[path] = meta
	i.mu.Unlock()
}

func (i *MetadataIndex) Take(path string) (ItemMeta, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	meta, ok := i.items[path]
	delete(i.items, path)
	return meta, ok
}

type Enqueuer interface {
	Enqueue(task upload.Task)
}

// UploadHook hands every finished download to the upload pool.
func UploadHook(index *MetadataIndex, pool Enqueuer, retries int) download.CompletionHook {
	return func(_ context.Context, task download.Task, _ int64) {
		meta, _ := index.Take(task.Dest)
		pool.Enqueue(upload.Task{
			Path:     task.Dest,
			Chapter:  meta.Chapter,
			Topic:    meta.Topic,
			Kind:     task.Kind,
			Retries:  retries,
			Position: meta.Position,
		})
	}
}
