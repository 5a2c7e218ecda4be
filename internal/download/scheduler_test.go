package download

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingDownloader struct {
	mu      sync.Mutex
	started []string
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	fail    map[string]bool
}

func (d *recordingDownloader) Fetch(ctx context.Context, task Task) (int64, error) {
	d.mu.Lock()
	d.started = append(d.started, task.Dest)
	d.mu.Unlock()

	now := d.active.Add(1)
	for {
		peak := d.peak.Load()
		if now <= peak || d.peak.CompareAndSwap(peak, now) {
			break
		}
	}
	time.Sleep(d.delay)
	d.active.Add(-1)

	if d.fail[task.Dest] {
		return 0, errors.New("failed")
	}
	return 1, nil
}

func TestSchedulerStartsInSubmissionOrderWithLimitOne(t *testing.T) {
	d := &recordingDownloader{delay: 5 * time.Millisecond}
	s := NewScheduler(d, 1, nil)

	want := []string{"a", "b", "c", "d", "e"}
	for _, dest := range want {
		s.Submit(context.Background(), Task{Dest: dest})
	}
	s.Wait()

	if len(d.started) != len(want) {
		t.Fatalf("expected %d starts, got %v", len(want), d.started)
	}
	for i := range want {
		if d.started[i] != want[i] {
			t.Fatalf("expected FIFO start order %v, got %v", want, d.started)
		}
	}
}

func TestSchedulerNeverExceedsLimit(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 10} {
		d := &recordingDownloader{delay: 10 * time.Millisecond}
		s := NewScheduler(d, limit, nil)
		for i := 0; i < limit*4; i++ {
			s.Submit(context.Background(), Task{Dest: string(rune('a' + i))})
		}
		s.Wait()
		if peak := int(d.peak.Load()); peak > limit {
			t.Fatalf("limit %d: observed %d concurrent downloads", limit, peak)
		}
		if stats := s.Stats(); stats.Succeeded != limit*4 {
			t.Fatalf("limit %d: expected all tasks to succeed, got %+v", limit, stats)
		}
	}
}

func TestSchedulerRunsHookOnlyOnSuccess(t *testing.T) {
	d := &recordingDownloader{fail: map[string]bool{"bad": true}}
	var mu sync.Mutex
	var hooked []string
	s := NewScheduler(d, 2, func(ctx context.Context, task Task, bytes int64) {
		mu.Lock()
		hooked = append(hooked, task.Dest)
		mu.Unlock()
	})

	s.Submit(context.Background(), Task{Dest: "good"})
	s.Submit(context.Background(), Task{Dest: "bad"})
	s.Wait()

	if len(hooked) != 1 || hooked[0] != "good" {
		t.Fatalf("expected hook for good task only, got %v", hooked)
	}
	if stats := s.Stats(); stats.Failed != 1 || stats.Succeeded != 1 || stats.Submitted != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSchedulerSetLimitClampsAndAdmitsBacklog(t *testing.T) {
	s := NewScheduler(&recordingDownloader{}, 0, nil)
	if s.Limit() != 1 {
		t.Fatalf("expected limit clamped to 1, got %d", s.Limit())
	}
	s.SetLimit(42)
	if s.Limit() != MaxParallel {
		t.Fatalf("expected limit clamped to %d, got %d", MaxParallel, s.Limit())
	}

	d := &recordingDownloader{delay: 20 * time.Millisecond}
	s = NewScheduler(d, 1, nil)
	for i := 0; i < 6; i++ {
		s.Submit(context.Background(), Task{Dest: string(rune('a' + i))})
	}
	s.SetLimit(3)
	s.Wait()
	if peak := d.peak.Load(); peak < 2 || peak > 3 {
		t.Fatalf("expected raised limit to admit more tasks (peak 2..3), got %d", peak)
	}
}

func TestSchedulerWaitReturnsImmediatelyWhenIdle(t *testing.T) {
	s := NewScheduler(&recordingDownloader{}, 3, nil)
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Wait to return on idle scheduler")
	}
}
