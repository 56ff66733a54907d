// Package event provides a pub-sub event bus carrying the lifecycle of
// detection runs.
//
// The engine publishes events without knowing who listens; the CLI
// subscribes to draw progress and summaries.
//
// # Events
//
//   - [RunStartedEvent] (run.started)
//   - [EnvironmentReadyEvent] (env.ready)
//   - [TaskProgressEvent] (task.progress)
//   - [RunFinishedEvent] (run.finished)
//   - [RunFailedEvent] (run.failed)
//   - [SettingsChangedEvent] (settings.changed)
//
// # Usage
//
//	bus := event.NewBus()
//	bus.Subscribe(event.TypeTaskProgress, func(e event.Event) {
//	    p := e.(event.TaskProgressEvent)
//	    fmt.Println(p.Message)
//	})
//	bus.Publish(event.NewTaskMessageEvent(runID, taskID, "Loading model"))
//
// Handlers run synchronously on the publishing goroutine. A panicking
// handler is recovered and logged; the remaining handlers still run.
package event
