package output

import "time"

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type EventName string

const (
	EventSessionStarted   EventName = "session_started"
	EventSessionFinished  EventName = "session_finished"
	EventSessionCancelled EventName = "session_cancelled"
	EventSessionFailed    EventName = "session_failed"
	EventChapterStarted   EventName = "chapter_started"
	EventChapterFinished  EventName = "chapter_finished"
	EventItemSkipped      EventName = "item_skipped"
	EventItemFailed       EventName = "item_failed"
	EventURLResolved      EventName = "url_resolved"
	EventBackendAttempt   EventName = "backend_attempt"
	EventBackendFailed    EventName = "backend_failed"
	EventDownloadFinished EventName = "download_finished"
	EventDownloadFailed   EventName = "download_failed"
	EventUploadStarted    EventName = "upload_started"
	EventUploadFinished   EventName = "upload_finished"
	EventUploadRetry      EventName = "upload_retry"
	EventUploadFloodWait  EventName = "upload_flood_wait"
	EventUploadDropped    EventName = "upload_dropped"
	EventProgressError    EventName = "progress_error"
	EventTopicsSaved      EventName = "topics_saved"
	EventCleanup          EventName = "cleanup"
	EventRelayMessage     EventName = "relay_message"
	EventProbeFailed      EventName = "probe_failed"
	EventForwardFailed    EventName = "forward_failed"
	EventBrokerDown       EventName = "event_broker_unavailable"
)

type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Event     EventName      `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// IsFailure reports whether the event describes a terminal failure of a
// session or item.
func (e Event) IsFailure() bool {
	switch e.Event {
	case EventSessionFailed, EventItemFailed, EventDownloadFailed, EventUploadDropped:
		return true
	}
	return false
}
