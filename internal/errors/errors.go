// Package errors defines the failure taxonomy of a spotbridge detection run
// and the helpers used to classify failures at the command boundary.
//
// Four domain types cover a run:
//   - ConfigurationError: a required argument is unset or a value violates its constraints
//   - EnvironmentError: the isolated runtime could not be built or located
//   - TaskFailure: the remote computation ended with a non-success status
//   - InputError: the source image or another required input is absent or invalid
//
// NotFoundError, ValidationError and TimeoutError describe narrower
// conditions raised by lookups, argument checks and lock waits.
//
//	err := errors.NewEnvironmentError("pixi install failed", cause).WithEnvName("cellpose3")
//
//	var envErr *errors.EnvironmentError
//	if errors.As(err, &envErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Standard library helpers, so callers need a single errors import.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity ranks how serious a failure is.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"debug", "info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "unknown"
	}
	return severityNames[s]
}

// Argument checks.
var (
	ErrRequiredArgument = New("required argument not set")
	ErrOutOfBounds      = New("value out of bounds")
	ErrUnknownChoice    = New("unknown choice")
	ErrWrongType        = New("wrong value type")
)

// Environment provisioning.
var (
	ErrUnknownManifest = New("unknown environment manifest format")
	ErrBuildFailed     = New("environment build failed")
	ErrEnvLocked       = New("environment is locked")
)

// Remote tasks.
var (
	ErrTaskFailed    = New("task failed")
	ErrTaskCanceled  = New("task canceled")
	ErrWorkerCrashed = New("worker process exited unexpectedly")
	ErrMissingOutput = New("missing task output")
)

var (
	ErrTimeout      = New("operation timed out")
	ErrCanceled     = New("operation canceled")
	ErrInvalidInput = New("invalid input")
)

// Classified is implemented by every error type of this package.
type Classified interface {
	error
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

// attr is one key=value pair shown in an error's bracketed context.
type attr struct{ key, val string }

// detail holds the state shared by all error types here. Its Error renders
// "<kind> [k=v, ...]: message: cause".
type detail struct {
	kind      string
	msg       string
	cause     error
	attrs     []attr
	severity  Severity
	retryable bool
}

// note sets a context attribute, replacing an earlier value for the key.
func (d *detail) note(key string, val any) {
	s := fmt.Sprint(val)
	for i := range d.attrs {
		if d.attrs[i].key == key {
			d.attrs[i].val = s
			return
		}
	}
	d.attrs = append(d.attrs, attr{key, s})
}

func (d *detail) Error() string {
	var b strings.Builder
	b.WriteString(d.kind)
	if len(d.attrs) > 0 {
		b.WriteString(" [")
		for i, a := range d.attrs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.key + "=" + a.val)
		}
		b.WriteByte(']')
	}
	b.WriteString(": " + d.msg)
	if d.cause != nil {
		b.WriteString(": " + d.cause.Error())
	}
	return b.String()
}

func (d *detail) Unwrap() error      { return d.cause }
func (d *detail) Severity() Severity { return d.severity }
func (d *detail) IsRetryable() bool  { return d.retryable }
func (d *detail) IsUserFacing() bool { return true }

// Message returns the message without context or cause.
func (d *detail) Message() string { return d.msg }

// ConfigurationError reports a tool configuration that cannot be turned into
// a script. It is raised before any process is spawned.
type ConfigurationError struct {
	detail
	Tool      string
	Arguments []string
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{detail: detail{kind: "configuration error", msg: message, cause: cause, severity: SeverityError}}
}

// WithTool records the tool being configured.
func (e *ConfigurationError) WithTool(tool string) *ConfigurationError {
	e.Tool = tool
	e.note("tool", tool)
	return e
}

// WithArgument records an offending argument key. It may be called repeatedly.
func (e *ConfigurationError) WithArgument(key string) *ConfigurationError {
	e.Arguments = append(e.Arguments, key)
	e.note("args", strings.Join(e.Arguments, "|"))
	return e
}

func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}

// EnvironmentError reports that the isolated runtime could not be built or
// located. It is terminal for the run that hit it.
type EnvironmentError struct {
	detail
	EnvName     string
	Dir         string
	BuildOutput string
}

// NewEnvironmentError creates an EnvironmentError. It is retryable when
// its cause is, e.g. a timed out wait for another build.
func NewEnvironmentError(message string, cause error) *EnvironmentError {
	return &EnvironmentError{detail: detail{
		kind:      "environment error",
		msg:       message,
		cause:     cause,
		severity:  SeverityError,
		retryable: IsRetryable(cause),
	}}
}

func (e *EnvironmentError) WithEnvName(name string) *EnvironmentError {
	e.EnvName = name
	e.note("env", name)
	return e
}

func (e *EnvironmentError) WithDir(dir string) *EnvironmentError {
	e.Dir = dir
	e.note("dir", dir)
	return e
}

// WithBuildOutput attaches the builder's captured output.
func (e *EnvironmentError) WithBuildOutput(output string) *EnvironmentError {
	e.BuildOutput = output
	return e
}

func (e *EnvironmentError) WithSeverity(s Severity) *EnvironmentError {
	e.severity = s
	return e
}

func (e *EnvironmentError) Error() string {
	if e.BuildOutput == "" {
		return e.detail.Error()
	}
	return e.detail.Error() + "\nbuild output: " + e.BuildOutput
}

func (e *EnvironmentError) Is(target error) bool {
	_, ok := target.(*EnvironmentError)
	return ok
}

// TaskFailure reports a remote task that ended without completing. The
// remote error text is kept verbatim in RemoteError, and the message is
// prefixed with the detector name:
//
//	[DetectorCellpose] Python script failed with error: Traceback ...
type TaskFailure struct {
	detail
	Tool        string
	TaskID      string
	RemoteError string
}

// NewTaskFailure creates a TaskFailure for the given tool. Its cause is
// ErrTaskFailed until replaced with WithCause.
func NewTaskFailure(tool, remoteError string) *TaskFailure {
	return &TaskFailure{
		detail:      detail{msg: "Python script failed with error: " + remoteError, cause: ErrTaskFailed, severity: SeverityError},
		Tool:        tool,
		RemoteError: remoteError,
	}
}

func (e *TaskFailure) WithTaskID(id string) *TaskFailure {
	e.TaskID = id
	return e
}

// WithCause replaces the cause, e.g. with ErrTaskCanceled or ErrWorkerCrashed.
func (e *TaskFailure) WithCause(cause error) *TaskFailure {
	e.cause = cause
	return e
}

// WithMessage replaces the local message. RemoteError is kept.
func (e *TaskFailure) WithMessage(message string) *TaskFailure {
	e.msg = message
	return e
}

func (e *TaskFailure) Error() string {
	return "[Detector" + e.Tool + "] " + e.msg
}

func (e *TaskFailure) Is(target error) bool {
	_, ok := target.(*TaskFailure)
	return ok
}

// InputError reports a missing or invalid input, checked before any IPC.
// It matches ErrInvalidInput.
type InputError struct {
	detail
	Input string
}

// NewInputError creates an InputError.
func NewInputError(message string) *InputError {
	return &InputError{detail: detail{kind: "input error", msg: message, severity: SeverityError}}
}

// WithInput names the offending input.
func (e *InputError) WithInput(input string) *InputError {
	e.Input = input
	e.note("input", input)
	return e
}

func (e *InputError) Is(target error) bool {
	if _, ok := target.(*InputError); ok {
		return true
	}
	return target == ErrInvalidInput
}

// NotFoundError reports a lookup that found nothing, such as an unknown tool.
type NotFoundError struct {
	detail
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a NotFoundError, e.g. NewNotFoundError("tool", "cellpose4").
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		detail:       detail{msg: resourceType + " not found", severity: SeverityWarning},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) Error() string {
	if e.ResourceID == "" {
		return e.msg
	}
	return e.msg + ": " + e.ResourceID
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// ValidationError reports a value rejected by an argument. It matches
// ErrInvalidInput as well as its cause.
//
//	errors.NewValidationError("smaller than the min 0").WithField("CELL_DIAMETER").WithValue(-1.0)
type ValidationError struct {
	detail
	Field string
	Value any
}

// NewValidationError creates a ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{detail: detail{kind: "validation error", msg: message, severity: SeverityWarning}}
}

func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	e.note("field", field)
	return e
}

func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	if value != nil {
		e.note("value", value)
	}
	return e
}

func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return target == ErrInvalidInput
}

// TimeoutError reports an operation that gave up after Duration. It is
// retryable and matches ErrTimeout.
type TimeoutError struct {
	detail
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		detail:    detail{msg: operation, severity: SeverityWarning, retryable: true},
		Operation: operation,
		Duration:  duration,
	}
}

func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

func (e *TimeoutError) Error() string {
	s := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return target == ErrTimeout
}

// IsRetryable reports whether err is transient. Runs are never retried
// automatically; the CLI uses this to suggest a manual retry.
func IsRetryable(err error) bool {
	var c Classified
	if As(err, &c) {
		return c.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing reports whether err's message is meant for end users.
func IsUserFacing(err error) bool {
	var c Classified
	return As(err, &c) && c.IsUserFacing()
}

// GetSeverity returns err's severity, SeverityError for foreign errors and
// SeverityDebug for nil.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var c Classified
	if As(err, &c) {
		return c.Severity()
	}
	return SeverityError
}

// IsDomainError reports whether err belongs to the run taxonomy: a
// ConfigurationError, EnvironmentError, TaskFailure or InputError.
func IsDomainError(err error) bool {
	var (
		cfg   *ConfigurationError
		env   *EnvironmentError
		task  *TaskFailure
		input *InputError
	)
	return As(err, &cfg) || As(err, &env) || As(err, &task) || As(err, &input)
}

// Wrap annotates err with message. It returns nil for a nil err.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}
