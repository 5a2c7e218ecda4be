package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jaa/course-relay/internal/output"
	"github.com/jaa/course-relay/internal/relay"
)

const (
	DefaultWorkers     = 3
	DefaultPollTimeout = time.Second
	drainPollInterval  = 100 * time.Millisecond
)

type Stats struct {
	Succeeded  int
	Dropped    int
	Retried    int
	FloodWaits int
}

// Pool runs a fixed number of workers over a shared FIFO queue. Failed tasks
// go back to the tail while they have budget left; flood waits are slept off
// and retried without touching the budget. Files are removed only after a
// successful send.
type Pool struct {
	Emitter     output.EventEmitter
	SessionID   string
	PollTimeout time.Duration
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error

	sender  Sender
	workers int

	mu      sync.Mutex
	idle    *sync.Cond
	queue   []Task
	pending int
	stats   Stats
	notify  chan struct{}

	stopping atomic.Bool
	started  atomic.Bool
	cancel   context.CancelFunc
	group    *errgroup.Group
}

func NewPool(sender Sender, workers int, emitter output.EventEmitter) *Pool {
	if workers < 1 {
		workers = DefaultWorkers
	}
	if emitter == nil {
		emitter = output.NoOpEmitter{}
	}
	p := &Pool{
		Emitter:     emitter,
		PollTimeout: DefaultPollTimeout,
		Now:         time.Now,
		Sleep:       sleepContext,
		sender:      sender,
		workers:     workers,
		notify:      make(chan struct{}, 1),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.group = &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			return p.work(ctx)
		})
	}
}

func (p *Pool) Enqueue(task Task) {
	p.mu.Lock()
	p.queue = append(p.queue, task)
	p.pending++
	p.mu.Unlock()
	p.signal()
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// DrainAndWait blocks until every enqueued task has either been sent or
// dropped.
func (p *Pool) DrainAndWait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.pending > 0 && ctx.Err() == nil {
			p.idle.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		p.idle.Broadcast()
		p.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// Stop lets the workers finish the queue for up to timeout, then cancels
// them. It returns the first panic recovered by any worker.
func (p *Pool) Stop(timeout time.Duration) error {
	p.stopping.Store(true)
	if !p.started.Load() {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		pending := p.pending
		p.mu.Unlock()
		if pending == 0 {
			break
		}
		time.Sleep(drainPollInterval)
	}
	p.cancel()
	return p.group.Wait()
}

// work keeps serving the queue after a sender panic and reports the first
// one when it exits.
func (p *Pool) work(ctx context.Context) error {
	var panicked error
	for {
		task, ok := p.next(ctx)
		if !ok {
			if ctx.Err() != nil {
				return panicked
			}
			if p.stopping.Load() && p.queueEmpty() {
				return panicked
			}
			continue
		}
		if err := p.process(ctx, task); err != nil && panicked == nil {
			panicked = err
		}
	}
}

func (p *Pool) next(ctx context.Context) (Task, bool) {
	if task, ok := p.pop(); ok {
		return task, true
	}
	timer := time.NewTimer(p.PollTimeout)
	defer timer.Stop()
	select {
	case <-p.notify:
	case <-timer.C:
	case <-ctx.Done():
		return Task{}, false
	}
	return p.pop()
}

func (p *Pool) pop() (Task, bool) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return Task{}, false
	}
	task := p.queue[0]
	p.queue[0] = Task{}
	p.queue = p.queue[1:]
	more := len(p.queue) > 0
	p.mu.Unlock()
	if more {
		p.signal()
	}
	return task, true
}

func (p *Pool) queueEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) == 0
}

func (p *Pool) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) requeue(task Task) {
	p.mu.Lock()
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	p.signal()
}

func (p *Pool) finish(update func(*Stats)) {
	p.mu.Lock()
	p.pending--
	if update != nil {
		update(&p.stats)
	}
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

// process sends one task and settles it. The returned error is non-nil only
// when the sender panicked.
func (p *Pool) process(ctx context.Context, task Task) error {
	p.emit(output.LevelInfo, output.EventUploadStarted, fmt.Sprintf("uploading %s", task.Name()), task, nil)

	err := p.send(ctx, task)
	var panicked error
	var pe *panicError
	if errors.As(err, &pe) {
		panicked = err
	}
	if err == nil {
		if removeErr := os.Remove(task.Path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			p.emit(output.LevelWarn, output.EventUploadFinished, fmt.Sprintf("uploaded %s but could not remove it: %v", task.Name(), removeErr), task, nil)
		} else {
			p.emit(output.LevelInfo, output.EventUploadFinished, fmt.Sprintf("uploaded %s", task.Name()), task, nil)
		}
		p.finish(func(s *Stats) { s.Succeeded++ })
		return nil
	}

	if ctx.Err() != nil {
		p.emit(output.LevelError, output.EventUploadDropped, fmt.Sprintf("upload of %s abandoned at shutdown: %v", task.Name(), err), task, err)
		p.finish(func(s *Stats) { s.Dropped++ })
		return panicked
	}

	if wait, ok := relay.FloodWait(err); ok {
		p.emit(output.LevelWarn, output.EventUploadFloodWait, fmt.Sprintf("flood wait %s before retrying %s", wait, task.Name()), task, err)
		p.mu.Lock()
		p.stats.FloodWaits++
		p.mu.Unlock()
		_ = p.Sleep(ctx, wait)
		p.requeue(task)
		return panicked
	}

	if task.Retries > 0 {
		task.Retries--
		p.emit(output.LevelWarn, output.EventUploadRetry, fmt.Sprintf("upload of %s failed, %d retries left: %v", task.Name(), task.Retries, err), task, err)
		p.mu.Lock()
		p.stats.Retried++
		p.mu.Unlock()
		p.requeue(task)
		return panicked
	}

	p.emit(output.LevelError, output.EventUploadDropped, fmt.Sprintf("giving up on %s: %v", task.Name(), err), task, err)
	p.finish(func(s *Stats) { s.Dropped++ })
	return panicked
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("upload worker panic: %v", e.value)
}

func (p *Pool) send(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return p.sender.Send(ctx, task)
}

func (p *Pool) emit(level output.Level, name output.EventName, message string, task Task, err error) {
	details := map[string]any{
		"path":    task.Path,
		"kind":    string(task.Kind),
		"chapter": task.Chapter,
		"topic":   task.Topic,
		"retries": task.Retries,
	}
	if err != nil {
		details["error"] = err.Error()
	}
	_ = p.Emitter.Emit(output.Event{
		Timestamp: p.Now(),
		Level:     level,
		Event:     name,
		SessionID: p.SessionID,
		Message:   message,
		Details:   details,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
