package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	remote := "Traceback (most recent call last):\n  ValueError: bad shape"
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"configuration bare", NewConfigurationError("bad config", nil), "configuration error: bad config"},
		{
			"configuration with context",
			NewConfigurationError("required argument not set", nil).
				WithTool("cellpose").WithArgument("CELL_DIAMETER").WithArgument("CHANNEL_1"),
			"configuration error [tool=cellpose, args=CELL_DIAMETER|CHANNEL_1]: required argument not set",
		},
		{
			"configuration with cause",
			NewConfigurationError("bounds", ErrOutOfBounds).WithTool("stardist"),
			"configuration error [tool=stardist]: bounds: value out of bounds",
		},
		{
			"environment",
			NewEnvironmentError("Failed to create Appose environment", ErrBuildFailed).
				WithEnvName("cellpose3").WithDir("/tmp/envs/cellpose3-abc"),
			"environment error [env=cellpose3, dir=/tmp/envs/cellpose3-abc]: Failed to create Appose environment: environment build failed",
		},
		{
			"environment build output",
			NewEnvironmentError("install", nil).WithBuildOutput("solver error"),
			"environment error: install\nbuild output: solver error",
		},
		{"task failure", NewTaskFailure("Cellpose", remote), "[DetectorCellpose] Python script failed with error: " + remote},
		{
			"task canceled",
			NewTaskFailure("StarDist", "").WithCause(ErrTaskCanceled).WithMessage("Task canceled"),
			"[DetectorStarDist] Task canceled",
		},
		{"input", NewInputError("source image is nil").WithInput("image"), "input error [input=image]: source image is nil"},
		{"input bare", NewInputError("missing"), "input error: missing"},
		{"not found", NewNotFoundError("tool", "cellpose4"), "tool not found: cellpose4"},
		{"not found no id", NewNotFoundError("environment", ""), "environment not found"},
		{
			"validation",
			NewValidationError("smaller than the min 0").WithField("CELL_DIAMETER").WithValue(-1.5).WithCause(ErrOutOfBounds),
			"validation error [field=CELL_DIAMETER, value=-1.5]: smaller than the min 0: value out of bounds",
		},
		{
			"validation field set twice",
			NewValidationError("bad").WithField("a").WithField("b").WithValue(nil),
			"validation error [field=b]: bad",
		},
		{"timeout", NewTimeoutError("acquiring environment lock", 10*time.Minute), "timeout error: acquiring environment lock (timeout: 10m0s)"},
		{
			"timeout with cause",
			NewTimeoutError("lock", time.Second).WithCause(ErrEnvLocked),
			"timeout error: lock (timeout: 1s): environment is locked",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestMatching(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"configuration kind", NewConfigurationError("x", ErrRequiredArgument), &ConfigurationError{}, true},
		{"configuration cause", NewConfigurationError("x", ErrRequiredArgument), ErrRequiredArgument, true},
		{"configuration other sentinel", NewConfigurationError("x", ErrRequiredArgument), ErrOutOfBounds, false},
		{"environment kind", NewEnvironmentError("x", ErrBuildFailed), &EnvironmentError{}, true},
		{"environment cause", NewEnvironmentError("x", ErrBuildFailed), ErrBuildFailed, true},
		{"environment is not configuration", NewEnvironmentError("x", nil), &ConfigurationError{}, false},
		{"task default cause", NewTaskFailure("StarDist", "boom"), ErrTaskFailed, true},
		{"task kind", NewTaskFailure("StarDist", "boom"), &TaskFailure{}, true},
		{"task replaced cause", NewTaskFailure("StarDist", "").WithCause(ErrTaskCanceled), ErrTaskFailed, false},
		{"task joined cause", NewTaskFailure("StarDist", "").WithCause(Join(ErrWorkerCrashed, New("exit 1"))), ErrWorkerCrashed, true},
		{"input invalid", NewInputError("x"), ErrInvalidInput, true},
		{"input kind", NewInputError("x"), &InputError{}, true},
		{"not found kind", NewNotFoundError("tool", "x"), &NotFoundError{}, true},
		{"validation invalid", NewValidationError("x"), ErrInvalidInput, true},
		{"validation cause", NewValidationError("x").WithCause(ErrWrongType), ErrWrongType, true},
		{"timeout sentinel", NewTimeoutError("op", time.Second), ErrTimeout, true},
		{"wrapped", Wrapf(Wrap(NewTaskFailure("StarDist", "oom"), "detect"), "frame %d", 3), ErrTaskFailed, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Is(tc.err, tc.target))
		})
	}
}

func TestTaskFailure_KeepsRemoteText(t *testing.T) {
	err := Wrap(NewTaskFailure("StarDist", "CUDA out of memory").WithTaskID("t-1").WithMessage("replaced"), "detect")

	var tf *TaskFailure
	require.True(t, As(err, &tf))
	assert.Equal(t, "CUDA out of memory", tf.RemoteError)
	assert.Equal(t, "t-1", tf.TaskID)
	assert.Equal(t, "replaced", tf.Message())
}

func TestConfigurationError_Arguments(t *testing.T) {
	err := NewConfigurationError("x", nil).WithArgument("A").WithArgument("B")
	assert.Equal(t, []string{"A", "B"}, err.Arguments)
}

func TestClassification(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		retryable  bool
		userFacing bool
		severity   Severity
	}{
		{"nil", nil, false, false, SeverityDebug},
		{"plain", New("plain"), false, false, SeverityError},
		{"timeout", NewTimeoutError("op", time.Second), true, true, SeverityWarning},
		{"wrapped timeout sentinel", fmt.Errorf("ctx: %w", ErrTimeout), true, false, SeverityError},
		{"configuration", NewConfigurationError("x", nil), false, true, SeverityError},
		{"environment after lock timeout", NewEnvironmentError("x", NewTimeoutError("lock", time.Second)), true, true, SeverityError},
		{"critical environment", NewEnvironmentError("x", nil).WithSeverity(SeverityCritical), false, true, SeverityCritical},
		{"task", NewTaskFailure("Cellpose", "x"), false, true, SeverityError},
		{"wrapped input", Wrap(NewInputError("x"), "detect"), false, true, SeverityError},
		{"validation", NewValidationError("x"), false, true, SeverityWarning},
		{"not found", NewNotFoundError("tool", "x"), false, true, SeverityWarning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, IsRetryable(tc.err), "IsRetryable")
			assert.Equal(t, tc.userFacing, IsUserFacing(tc.err), "IsUserFacing")
			assert.Equal(t, tc.severity, GetSeverity(tc.err), "GetSeverity")
		})
	}
}

func TestIsDomainError(t *testing.T) {
	domain := []error{
		NewConfigurationError("x", nil),
		NewEnvironmentError("x", nil),
		Wrap(NewTaskFailure("Cellpose", "x"), "run"),
		NewInputError("x"),
	}
	for _, err := range domain {
		assert.True(t, IsDomainError(err), "%v", err)
	}
	for _, err := range []error{nil, NewValidationError("x"), NewNotFoundError("tool", ""), New("plain")} {
		assert.False(t, IsDomainError(err), "%v", err)
	}
}

func TestSeverity_String(t *testing.T) {
	names := map[Severity]string{
		SeverityDebug:    "debug",
		SeverityInfo:     "info",
		SeverityWarning:  "warning",
		SeverityError:    "error",
		SeverityCritical: "critical",
		Severity(99):     "unknown",
		Severity(-1):     "unknown",
	}
	for s, want := range names {
		assert.Equal(t, want, s.String())
	}
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ctx"))
	assert.NoError(t, Wrapf(nil, "ctx %d", 1))

	err := Wrap(ErrWorkerCrashed, "waiting for task")
	assert.EqualError(t, err, "waiting for task: worker process exited unexpectedly")
	assert.ErrorIs(t, err, ErrWorkerCrashed)

	assert.EqualError(t, Wrapf(ErrMissingOutput, "output %q", "masks"), `output "masks": missing task output`)
}
