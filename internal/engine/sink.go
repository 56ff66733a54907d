package engine

// Sink receives the human-facing output of a run: log lines, a status
// line and a progress fraction in [0, 1].
type Sink interface {
	Log(msg string)
	SetStatus(status string)
	SetProgress(fraction float64)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Log(string)          {}
func (NopSink) SetStatus(string)    {}
func (NopSink) SetProgress(float64) {}
