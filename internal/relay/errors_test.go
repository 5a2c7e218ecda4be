package relay

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyKeepsTypedErrors(t *testing.T) {
	flood := &FloodWaitError{Wait: 3 * time.Second}
	wrapped := fmt.Errorf("send video: %w", flood)
	if got, ok := FloodWait(wrapped); !ok || got != 3*time.Second {
		t.Fatalf("expected 3s flood wait, got %s %v", got, ok)
	}
	if !errors.Is(Classify(fmt.Errorf("edit: %w", ErrNotModified)), ErrNotModified) {
		t.Fatalf("expected not modified to pass through")
	}
}

func TestClassifyFallsBackToErrorText(t *testing.T) {
	if got, ok := FloodWait(errors.New("rpc error 420: FLOOD_WAIT_17")); !ok || got != 17*time.Second {
		t.Fatalf("expected 17s flood wait from code, got %s %v", got, ok)
	}
	if got, ok := FloodWait(errors.New("Telegram says: A wait of 9 seconds is required")); !ok || got != 9*time.Second {
		t.Fatalf("expected 9s flood wait from prose, got %s %v", got, ok)
	}
	if !errors.Is(Classify(errors.New("400 MESSAGE_NOT_MODIFIED")), ErrNotModified) {
		t.Fatalf("expected MESSAGE_NOT_MODIFIED to classify as ErrNotModified")
	}
	plain := errors.New("connection reset")
	if Classify(plain) != plain {
		t.Fatalf("expected unrelated error to be returned as-is")
	}
}
