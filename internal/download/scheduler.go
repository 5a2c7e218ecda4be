package download

import (
	"context"
	"sync"
)

const (
	MinParallel     = 1
	MaxParallel     = 10
	DefaultParallel = 3
)

// CompletionHook runs after a task finished successfully, while its slot is
// still held.
type CompletionHook func(ctx context.Context, task Task, bytes int64)

type Stats struct {
	Submitted int
	Succeeded int
	Failed    int
}

type queuedTask struct {
	ctx  context.Context
	task Task
}

// Scheduler admits at most limit concurrent downloads and starts queued ones
// in submission order as slots free up.
type Scheduler struct {
	downloader Downloader
	hook       CompletionHook

	mu      sync.Mutex
	idle    *sync.Cond
	limit   int
	active  int
	backlog []queuedTask
	stats   Stats
}

func NewScheduler(downloader Downloader, limit int, hook CompletionHook) *Scheduler {
	s := &Scheduler{
		downloader: downloader,
		hook:       hook,
		limit:      ClampParallel(limit),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

func ClampParallel(n int) int {
	if n < MinParallel {
		return MinParallel
	}
	if n > MaxParallel {
		return MaxParallel
	}
	return n
}

func (s *Scheduler) Submit(ctx context.Context, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Submitted++
	if s.active < s.limit {
		s.active++
		go s.run(ctx, task)
		return
	}
	s.backlog = append(s.backlog, queuedTask{ctx: ctx, task: task})
}

// SetLimit changes the bound for future admissions. Running tasks are left
// alone; a larger bound starts queued tasks immediately.
func (s *Scheduler) SetLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = ClampParallel(n)
	s.admitLocked()
}

func (s *Scheduler) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Wait blocks until nothing is running or queued.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.active > 0 || len(s.backlog) > 0 {
		s.idle.Wait()
	}
}

func (s *Scheduler) run(ctx context.Context, task Task) {
	succeeded := false
	defer func() {
		s.mu.Lock()
		s.active--
		if succeeded {
			s.stats.Succeeded++
		} else {
			s.stats.Failed++
		}
		s.admitLocked()
		if s.active == 0 && len(s.backlog) == 0 {
			s.idle.Broadcast()
		}
		s.mu.Unlock()
	}()

	bytes, err := s.downloader.Fetch(ctx, task)
	if err != nil {
		return
	}
	succeeded = true
	if s.hook != nil {
		s.hook(ctx, task, bytes)
	}
}

func (s *Scheduler) admitLocked() {
	for s.active < s.limit && len(s.backlog) > 0 {
		next := s.backlog[0]
		s.backlog[0] = queuedTask{}
		s.backlog = s.backlog[1:]
		s.active++
		go s.run(next.ctx, next.task)
	}
}
