// Package event defines the lifecycle events published while spotbridge
// runs a detector.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier, e.g. "run.started".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeRunStarted       = "run.started"
	TypeEnvironmentReady = "env.ready"
	TypeTaskProgress     = "task.progress"
	TypeRunFinished      = "run.finished"
	TypeRunFailed        = "run.failed"
	TypeSettingsChanged  = "settings.changed"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// RunStartedEvent is emitted when a detection run begins.
type RunStartedEvent struct {
	baseEvent
	RunID    string
	Tool     string
	Image    string
	Interval string
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID, tool, image, interval string) RunStartedEvent {
	return RunStartedEvent{
		baseEvent: newBaseEvent(TypeRunStarted),
		RunID:     runID,
		Tool:      tool,
		Image:     image,
		Interval:  interval,
	}
}

// EnvironmentReadyEvent is emitted once the tool's environment is usable.
type EnvironmentReadyEvent struct {
	baseEvent
	RunID string
	Name  string
	Dir   string
}

// NewEnvironmentReadyEvent creates an EnvironmentReadyEvent.
func NewEnvironmentReadyEvent(runID, name, dir string) EnvironmentReadyEvent {
	return EnvironmentReadyEvent{
		baseEvent: newBaseEvent(TypeEnvironmentReady),
		RunID:     runID,
		Name:      name,
		Dir:       dir,
	}
}

// TaskProgressEvent carries a progress update from the remote task. Either
// Message is set, or Current and Maximum are.
type TaskProgressEvent struct {
	baseEvent
	RunID   string
	TaskID  string
	Message string
	Current int64
	Maximum int64
}

// NewTaskMessageEvent creates a TaskProgressEvent carrying a message.
func NewTaskMessageEvent(runID, taskID, message string) TaskProgressEvent {
	return TaskProgressEvent{
		baseEvent: newBaseEvent(TypeTaskProgress),
		RunID:     runID,
		TaskID:    taskID,
		Message:   message,
	}
}

// NewTaskProgressEvent creates a TaskProgressEvent carrying a fraction.
func NewTaskProgressEvent(runID, taskID string, current, maximum int64) TaskProgressEvent {
	return TaskProgressEvent{
		baseEvent: newBaseEvent(TypeTaskProgress),
		RunID:     runID,
		TaskID:    taskID,
		Current:   current,
		Maximum:   maximum,
	}
}

// Fraction returns Current/Maximum clamped to [0, 1], or -1 when the event
// carries a message.
func (e TaskProgressEvent) Fraction() float64 {
	if e.Maximum <= 0 {
		return -1
	}
	return min(1, max(0, float64(e.Current)/float64(e.Maximum)))
}

// RunFinishedEvent is emitted when a run produced spots.
type RunFinishedEvent struct {
	baseEvent
	RunID    string
	Tool     string
	Spots    int
	Frames   int
	Duration time.Duration
}

// NewRunFinishedEvent creates a RunFinishedEvent.
func NewRunFinishedEvent(runID, tool string, spots, frames int, d time.Duration) RunFinishedEvent {
	return RunFinishedEvent{
		baseEvent: newBaseEvent(TypeRunFinished),
		RunID:     runID,
		Tool:      tool,
		Spots:     spots,
		Frames:    frames,
		Duration:  d,
	}
}

// RunFailedEvent is emitted when a run stops with an error.
type RunFailedEvent struct {
	baseEvent
	RunID string
	Tool  string
	Stage string // input, configure, environment, task, convert
	Error string
}

// NewRunFailedEvent creates a RunFailedEvent.
func NewRunFailedEvent(runID, tool, stage, errMsg string) RunFailedEvent {
	return RunFailedEvent{
		baseEvent: newBaseEvent(TypeRunFailed),
		RunID:     runID,
		Tool:      tool,
		Stage:     stage,
		Error:     errMsg,
	}
}

// SettingsChangedEvent is emitted when a watched settings file changes.
type SettingsChangedEvent struct {
	baseEvent
	Path string
}

// NewSettingsChangedEvent creates a SettingsChangedEvent.
func NewSettingsChangedEvent(path string) SettingsChangedEvent {
	return SettingsChangedEvent{
		baseEvent: newBaseEvent(TypeSettingsChanged),
		Path:      path,
	}
}
