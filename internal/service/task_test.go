package service

import (
	"fmt"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateQueued, true},
		{StateCreated, StateRunning, false},
		{StateCreated, StateCanceled, true},
		{StateQueued, StateRunning, true},
		{StateQueued, StateFailed, true},
		{StateQueued, StateComplete, false},
		{StateRunning, StateComplete, true},
		{StateRunning, StateCrashed, true},
		{StateRunning, StateQueued, false},
		{StateComplete, StateFailed, false},
		{StateCanceled, StateRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	for s, want := range map[State]bool{
		StateCreated:  false,
		StateQueued:   false,
		StateRunning:  false,
		StateComplete: true,
		StateCanceled: true,
		StateFailed:   true,
		StateCrashed:  true,
	} {
		if s.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, s.IsTerminal(), want)
		}
	}
}

func TestTask_HandleIgnoresLateResponses(t *testing.T) {
	s := New([]string{"unused"})
	task := s.Task("x", nil)
	task.state = StateRunning

	task.handle(Response{Task: task.ID, ResponseType: ResponseFailure, Error: "first"})
	task.handle(Response{Task: task.ID, ResponseType: ResponseCompletion})
	task.handle(Response{Task: task.ID, ResponseType: ResponseUpdate, Message: "late"})

	if task.State() != StateFailed || task.ErrorMessage() != "first" {
		t.Errorf("state = %v, message = %q", task.State(), task.ErrorMessage())
	}
	var n int
	for range task.Events() {
		n++
	}
	if n != 1 {
		t.Errorf("got %d events, want only the terminal one", n)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		line    string
		wantErr bool
		want    ResponseType
	}{
		{`{"task":"a","responseType":"LAUNCH"}`, false, ResponseLaunch},
		{`  {"task":"a","responseType":"UPDATE","current":1,"maximum":4}  `, false, ResponseUpdate},
		{`hello from print()`, true, ""},
		{`{"task":"a"}`, true, ""},
		{`{broken`, true, ""},
		{``, true, ""},
	}
	for _, tt := range tests {
		resp, err := ParseResponse([]byte(tt.line))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseResponse(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && resp.ResponseType != tt.want {
			t.Errorf("ParseResponse(%q) type = %s, want %s", tt.line, resp.ResponseType, tt.want)
		}
	}
}

func TestTask_EventsKeepEveryUpdateInOrder(t *testing.T) {
	const updates = 1000
	s := New([]string{"unused"})
	task := s.Task("x", nil)
	task.state = StateQueued

	task.handle(Response{Task: task.ID, ResponseType: ResponseLaunch})
	for i := range updates {
		if i%2 == 0 {
			task.handle(Response{Task: task.ID, ResponseType: ResponseUpdate, Message: fmt.Sprintf("step %d", i)})
		} else {
			task.handle(Response{Task: task.ID, ResponseType: ResponseUpdate, Current: int64(i), Maximum: updates})
		}
	}
	task.handle(Response{Task: task.ID, ResponseType: ResponseFailure, Error: "boom"})

	var got []Event
	for ev := range task.Events() {
		got = append(got, ev)
	}
	if len(got) != updates+2 {
		t.Fatalf("got %d events, want %d", len(got), updates+2)
	}
	if got[0].Type != ResponseLaunch {
		t.Errorf("first event = %s, want LAUNCH", got[0].Type)
	}
	for i, ev := range got[1 : updates+1] {
		want := Event{Type: ResponseUpdate, State: StateRunning, Current: int64(i), Maximum: updates}
		if i%2 == 0 {
			want = Event{Type: ResponseUpdate, State: StateRunning, Message: fmt.Sprintf("step %d", i)}
		}
		if ev != want {
			t.Fatalf("event %d = %+v, want %+v", i+1, ev, want)
		}
	}
	last := got[len(got)-1]
	if last.Type != ResponseFailure || last.Message != "boom" || last.State != StateFailed {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestTask_SlowReaderDoesNotBlockHandle(t *testing.T) {
	s := New([]string{"unused"})
	task := s.Task("x", nil)
	task.state = StateQueued
	events := task.Events()

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		task.handle(Response{Task: task.ID, ResponseType: ResponseLaunch})
		for i := range 500 {
			task.handle(Response{Task: task.ID, ResponseType: ResponseUpdate, Current: int64(i), Maximum: 500})
		}
		task.handle(Response{Task: task.ID, ResponseType: ResponseCompletion})
	}()
	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("handle blocked on an unread event stream")
	}

	var n int
	for range events {
		n++
		if n%100 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	if n != 502 {
		t.Errorf("got %d events, want 502", n)
	}
}
