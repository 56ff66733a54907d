package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/spotbridge/internal/errors"
)

// State is the lifecycle state of a Task.
type State int

// Task states.
const (
	StateCreated State = iota
	StateQueued
	StateRunning
	StateComplete
	StateCanceled
	StateFailed
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s >= StateComplete
}

var validTransitions = map[State][]State{
	StateCreated: {StateQueued, StateCanceled},
	StateQueued:  {StateRunning, StateCanceled, StateFailed, StateCrashed},
	StateRunning: {StateComplete, StateCanceled, StateFailed, StateCrashed},
}

// CanTransition reports whether a task may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrNotComplete is returned by Outputs before the task completed.
var ErrNotComplete = errors.New("task not complete")

// Event is one entry of a task's event stream.
type Event struct {
	Type    ResponseType
	State   State
	Message string
	Current int64
	Maximum int64
}

// RemoteError carries the error text of a task that did not complete,
// verbatim. It unwraps to ErrTaskFailed, ErrTaskCanceled or
// ErrWorkerCrashed.
type RemoteError struct {
	TaskID  string
	State   State
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error {
	switch e.State {
	case StateCanceled:
		return errors.ErrTaskCanceled
	case StateCrashed:
		return errors.ErrWorkerCrashed
	default:
		return errors.ErrTaskFailed
	}
}

// Task is one script execution inside a Service's worker.
type Task struct {
	ID     string
	Script string
	Inputs map[string]any

	service *Service

	mu      sync.Mutex
	state   State
	outputs map[string]any
	errText string

	// queue holds events not yet handed to the Events reader. closed is
	// set once the terminal event is queued.
	queue   []Event
	pending *sync.Cond
	pumping sync.Once
	events  chan Event
	done    chan struct{}
	closed  bool
}

func newTask(s *Service, id, script string, inputs map[string]any) *Task {
	t := &Task{
		ID:      id,
		Script:  script,
		Inputs:  inputs,
		service: s,
		events:  make(chan Event),
		done:    make(chan struct{}),
	}
	t.pending = sync.NewCond(&t.mu)
	return t
}

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Events returns the task's ordered event stream. Every event is delivered,
// however far the reader falls behind, and the stream ends with the
// terminal event before it is closed. Events are queued until the first
// call to Events.
func (t *Task) Events() <-chan Event {
	t.pumping.Do(func() { go t.pump() })
	return t.events
}

// pump hands queued events to the Events channel in order.
func (t *Task) pump() {
	defer close(t.events)
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.closed {
			t.pending.Wait()
		}
		batch := t.queue
		t.queue = nil
		t.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			t.events <- ev
		}
	}
}

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Start submits the task to the worker.
func (t *Task) Start() error {
	if err := t.transition(StateQueued); err != nil {
		return err
	}
	if err := t.service.submit(t); err != nil {
		t.finish(StateCrashed, fmt.Sprintf("failed to submit task: %v", err), nil)
		return fmt.Errorf("%w: %w", errors.ErrWorkerCrashed, err)
	}
	return nil
}

// Cancel asks the worker to cancel the task. A task that was never started
// is canceled locally.
func (t *Task) Cancel() error {
	switch st := t.State(); {
	case st == StateCreated:
		t.finish(StateCanceled, "canceled before start", nil)
		return nil
	case st.IsTerminal():
		return nil
	}
	return t.service.send(Request{Task: t.ID, RequestType: RequestCancel})
}

// Wait blocks until the task ends and returns nil if it completed. If ctx
// ends first, the task is canceled; if the worker does not acknowledge
// within the service's cancel grace period, the worker is killed.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err()
	case <-ctx.Done():
	}

	if err := t.Cancel(); err != nil {
		t.service.logger.Warn("failed to send cancel request", "task", t.ID, "error", err.Error())
	}

	timer := time.NewTimer(t.service.cancelGrace)
	defer timer.Stop()
	select {
	case <-t.done:
	case <-timer.C:
		t.service.logger.Warn("task ignored cancel request, killing worker", "task", t.ID)
		_ = t.service.Kill()
		<-t.done
	}
	return fmt.Errorf("%w: %w", errors.ErrTaskCanceled, ctx.Err())
}

// Outputs returns the outputs of a completed task.
func (t *Task) Outputs() (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateComplete {
		return nil, fmt.Errorf("%w: task is %s", ErrNotComplete, t.state)
	}
	return t.outputs, nil
}

// ErrorMessage returns the remote error text of a failed task.
func (t *Task) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errText
}

func (t *Task) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateComplete {
		return nil
	}
	return &RemoteError{TaskID: t.ID, State: t.state, Message: t.errText}
}

func (t *Task) transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !CanTransition(t.state, to) {
		return errors.NewValidationError(fmt.Sprintf("invalid task transition %s -> %s", t.state, to)).
			WithField("state")
	}
	t.state = to
	return nil
}

// handle applies one worker response. It runs on the service's reader
// goroutine only.
func (t *Task) handle(resp Response) {
	switch resp.ResponseType {
	case ResponseLaunch:
		if err := t.transition(StateRunning); err != nil {
			t.service.logger.Warn("unexpected launch", "task", t.ID, "error", err.Error())
			return
		}
		t.emit(Event{Type: ResponseLaunch})
	case ResponseUpdate:
		t.emit(Event{
			Type:    ResponseUpdate,
			Message: resp.Message,
			Current: resp.Current,
			Maximum: resp.Maximum,
		})
	case ResponseCompletion:
		t.finish(StateComplete, "", resp.Outputs)
	case ResponseCancelation:
		t.finish(StateCanceled, "Task canceled", nil)
	case ResponseFailure:
		t.finish(StateFailed, resp.Error, nil)
	case ResponseCrash:
		t.finish(StateCrashed, resp.Error, nil)
	default:
		t.service.logger.Warn("unknown response type", "task", t.ID, "type", string(resp.ResponseType))
	}
}

func (t *Task) emit(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitLocked(ev)
}

func (t *Task) emitLocked(ev Event) {
	if t.closed {
		return
	}
	ev.State = t.state
	t.queue = append(t.queue, ev)
	t.pending.Signal()
}

// finish moves the task to a terminal state once.
func (t *Task) finish(to State, errText string, outputs map[string]any) {
	t.mu.Lock()
	if t.closed || !CanTransition(t.state, to) {
		from, closed := t.state, t.closed
		t.mu.Unlock()
		if !closed {
			t.service.logger.Warn("invalid task transition", "task", t.ID, "from", from.String(), "to", to.String())
		}
		return
	}
	t.state = to
	t.errText = errText
	t.outputs = outputs
	t.emitLocked(Event{Type: terminalType(to), Message: errText})
	t.closed = true
	t.pending.Signal()
	close(t.done)
	t.mu.Unlock()

	t.service.forget(t.ID)
}

func terminalType(s State) ResponseType {
	switch s {
	case StateComplete:
		return ResponseCompletion
	case StateCanceled:
		return ResponseCancelation
	case StateCrashed:
		return ResponseCrash
	default:
		return ResponseFailure
	}
}
