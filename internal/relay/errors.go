package relay

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrNotModified = errors.New("message not modified")

type FloodWaitError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodWaitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flood wait %s: %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("flood wait %s", e.Wait)
}

func (e *FloodWaitError) Unwrap() error {
	return e.Err
}

var (
	floodWaitCodePattern = regexp.MustCompile(`FLOOD_WAIT_(\d+)`)
	floodWaitTextPattern = regexp.MustCompile(`(?i)a wait of (\d+) seconds? is required`)
)

// Classify normalizes transport errors into FloodWaitError or ErrNotModified.
// Typed errors pass through untouched; text matching is only used for
// clients that expose nothing but an error string.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var flood *FloodWaitError
	if errors.As(err, &flood) || errors.Is(err, ErrNotModified) {
		return err
	}

	text := err.Error()
	if match := floodWaitCodePattern.FindStringSubmatch(text); match != nil {
		return &FloodWaitError{Wait: parseSeconds(match[1]), Err: err}
	}
	if match := floodWaitTextPattern.FindStringSubmatch(text); match != nil {
		return &FloodWaitError{Wait: parseSeconds(match[1]), Err: err}
	}
	if strings.Contains(text, "MESSAGE_NOT_MODIFIED") {
		return fmt.Errorf("%w: %v", ErrNotModified, err)
	}
	return err
}

// FloodWait reports the mandated wait carried by err, if any.
func FloodWait(err error) (time.Duration, bool) {
	var flood *FloodWaitError
	if errors.As(Classify(err), &flood) {
		return flood.Wait, true
	}
	return 0, false
}

func parseSeconds(raw string) time.Duration {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
