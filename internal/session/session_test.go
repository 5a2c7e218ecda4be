package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestParseRange(t *testing.T) {
	got, err := ParseRange(" 2-3 ")
	if err != nil || got != (Range{Start: 2, End: 3}) {
		t.Fatalf("expected 2-3, got %+v %v", got, err)
	}
	if got, err := ParseRange(""); err != nil || !got.IsZero() {
		t.Fatalf("expected empty range to select all, got %+v %v", got, err)
	}
	for _, bad := range []string{"3", "a-b", "0-2", "5-2", "1-x"} {
		if _, err := ParseRange(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestSessionParallelHooks(t *testing.T) {
	s := New(Options{UserID: "u", Parallel: 3})
	var seen []int
	s.OnParallelChange(func(n int) { seen = append(seen, n) })
	s.SetParallel(5)
	if s.Parallel() != 5 || len(seen) != 1 || seen[0] != 5 {
		t.Fatalf("expected hook with 5, got parallel=%d seen=%v", s.Parallel(), seen)
	}
}

func TestSessionTerminalStateClearsRunning(t *testing.T) {
	s := New(Options{UserID: "u"})
	if !s.Running() {
		t.Fatalf("expected new session to be running")
	}
	s.Fail(errors.New("no chapters"))
	snap := s.Snapshot()
	if snap.Running || snap.State != StateFailed || snap.Error != "no chapters" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestRegistryRejectsSecondRunForUser(t *testing.T) {
	registry := NewRegistry(nil, 0)
	ctx := context.Background()

	first, err := registry.Start(ctx, Options{UserID: "u1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := registry.Start(ctx, Options{UserID: "u1"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if _, err := registry.Start(ctx, Options{UserID: "u2"}); err != nil {
		t.Fatalf("expected other users to start independently: %v", err)
	}

	registry.Finish(ctx, first)
	if _, ok := registry.Get("u1"); ok {
		t.Fatalf("expected session removed after finish")
	}
	if _, err := registry.Start(ctx, Options{UserID: "u1"}); err != nil {
		t.Fatalf("expected restart after finish: %v", err)
	}
}

func TestRegistryCancelLocalSession(t *testing.T) {
	registry := NewRegistry(nil, 0)
	s, _ := registry.Start(context.Background(), Options{UserID: "u"})

	ok, err := registry.Cancel(context.Background(), "u")
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, got %v %v", ok, err)
	}
	if s.Running() {
		t.Fatalf("expected running flag cleared")
	}
	if ok, _ := registry.Cancel(context.Background(), "nobody"); ok {
		t.Fatalf("expected cancel of unknown user to report false")
	}
}

func TestFileMirrorSharesLockStatusAndCancel(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	owner := NewRegistry(NewFileMirror(dir), time.Minute)
	other := NewRegistry(NewFileMirror(dir), time.Minute)

	s, err := owner.Start(ctx, Options{UserID: "student/1", Parallel: 4})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := other.Start(ctx, Options{UserID: "student/1"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected lock held across registries, got %v", err)
	}

	snap, ok, err := other.Status(ctx, "student/1")
	if err != nil || !ok || snap.Parallel != 4 || !snap.Running {
		t.Fatalf("expected mirrored status, got %+v %v %v", snap, ok, err)
	}

	if ok, err := other.Cancel(ctx, "student/1"); err != nil || !ok {
		t.Fatalf("expected remote cancel request, got %v %v", ok, err)
	}

	watchCtx, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	go owner.Watch(watchCtx, s, 10*time.Millisecond)
	for s.Running() && watchCtx.Err() == nil {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Running() {
		t.Fatalf("expected watch to pick up the cancel request")
	}

	s.SetState(StateCancelled)
	owner.Finish(ctx, s)
	if _, err := other.Start(ctx, Options{UserID: "student/1"}); err != nil {
		t.Fatalf("expected lock released after finish: %v", err)
	}
}

func TestFileMirrorCarriesParallelChange(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	owner := NewRegistry(NewFileMirror(dir), time.Minute)
	other := NewRegistry(NewFileMirror(dir), time.Minute)

	if ok, err := other.SetParallel(ctx, "u", 4); err != nil || ok {
		t.Fatalf("expected no session to resize, got %v %v", ok, err)
	}

	s, err := owner.Start(ctx, Options{UserID: "u", Parallel: 3})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	limits := make(chan int, 1)
	s.OnParallelChange(func(n int) { limits <- n })

	for _, bad := range []int{0, 11} {
		if _, err := other.SetParallel(ctx, "u", bad); err == nil {
			t.Fatalf("expected %d to be rejected", bad)
		}
	}
	if ok, err := other.SetParallel(ctx, "u", 6); err != nil || !ok {
		t.Fatalf("expected remote parallel request, got %v %v", ok, err)
	}

	watchCtx, stop := context.WithTimeout(ctx, 2*time.Second)
	defer stop()
	go owner.Watch(watchCtx, s, 10*time.Millisecond)
	select {
	case n := <-limits:
		if n != 6 {
			t.Fatalf("expected new bound 6, got %d", n)
		}
	case <-watchCtx.Done():
		t.Fatalf("expected watch to apply the parallel request")
	}
	if s.Parallel() != 6 {
		t.Fatalf("expected session parallelism 6, got %d", s.Parallel())
	}
	if _, pending, _ := NewFileMirror(dir).TakeParallel(ctx, "u"); pending {
		t.Fatalf("expected the request to be consumed")
	}

	stop()
	s.SetState(StateCompleted)
	owner.Finish(ctx, s)
}

func TestRegistrySetParallelLocalSession(t *testing.T) {
	registry := NewRegistry(nil, 0)
	s, _ := registry.Start(context.Background(), Options{UserID: "u", Parallel: 2})
	if ok, err := registry.SetParallel(context.Background(), "u", 8); err != nil || !ok {
		t.Fatalf("expected local resize, got %v %v", ok, err)
	}
	if s.Parallel() != 8 {
		t.Fatalf("expected parallel 8, got %d", s.Parallel())
	}
}

func TestFileMirrorStealsExpiredLock(t *testing.T) {
	mirror := NewFileMirror(t.TempDir())
	ctx := context.Background()
	now := time.Now()
	mirror.Now = func() time.Time { return now }

	if ok, err := mirror.Acquire(ctx, "u", "a", time.Second); err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	if ok, _ := mirror.Acquire(ctx, "u", "b", time.Second); ok {
		t.Fatalf("expected live lock to block")
	}
	now = now.Add(2 * time.Second)
	if ok, err := mirror.Acquire(ctx, "u", "b", time.Second); err != nil || !ok {
		t.Fatalf("expected expired lock to be taken over: %v %v", ok, err)
	}
	if err := mirror.Release(ctx, "u", "a"); err != nil {
		t.Fatalf("release with stale token: %v", err)
	}
	if ok, _ := mirror.Acquire(ctx, "u", "c", time.Second); ok {
		t.Fatalf("expected stale token release to leave the new lock alone")
	}
}

func TestRedisMirrorLockRoundTrip(t *testing.T) {
	addr := os.Getenv("CRELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRELAY_TEST_REDIS_ADDR not set")
	}
	mirror := NewRedisMirror(addr, "", 0)
	defer mirror.Close()
	ctx := context.Background()
	if err := mirror.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	user := "test-" + time.Now().Format("150405.000000")
	ok, err := mirror.Acquire(ctx, user, "t1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: %v %v", ok, err)
	}
	defer mirror.Release(ctx, user, "t1")
	if ok, _ := mirror.Acquire(ctx, user, "t2", time.Minute); ok {
		t.Fatalf("expected second acquire to fail")
	}

	if err := mirror.PublishStatus(ctx, Snapshot{UserID: user, State: StateProcessing, Running: true}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	snap, ok, err := mirror.Status(ctx, user)
	if err != nil || !ok || snap.State != StateProcessing {
		t.Fatalf("unexpected status %+v %v %v", snap, ok, err)
	}

	if err := mirror.RequestCancel(ctx, user); err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if requested, _ := mirror.CancelRequested(ctx, user); !requested {
		t.Fatalf("expected cancel flag")
	}
	_ = mirror.ClearCancel(ctx, user)
}
