// Package service drives a worker process that executes scripts on behalf
// of spotbridge.
//
// The worker speaks newline-delimited JSON on stdin/stdout: spotbridge sends
// EXECUTE and CANCEL requests, the worker answers with LAUNCH, UPDATE,
// COMPLETION, CANCELATION and FAILURE responses tagged with the task ID.
// The protocol is the one of the Appose Python worker, so an environment
// with the appose package installed can serve as a worker directly.
package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/spotbridge/internal/errors"
	"github.com/Iron-Ham/spotbridge/internal/logging"
)

// DefaultBootstrap starts the Appose Python worker loop.
const DefaultBootstrap = "import appose.python_worker; appose.python_worker.main()"

// stderrTail is how many trailing stderr lines are kept for crash reports.
const stderrTail = 20

// Common errors returned by Service.
var (
	// ErrAlreadyRunning is returned when Start is called on a running service.
	ErrAlreadyRunning = errors.New("service already running")
	// ErrNotRunning is returned when a request needs a running worker.
	ErrNotRunning = errors.New("service not running")
)

// Service owns one worker process and the tasks submitted to it.
type Service struct {
	python      []string
	bootstrap   string
	dir         string
	env         []string
	cancelGrace time.Duration
	logger      *logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	tasks   map[string]*Task
	stderr  []string
	exited  chan struct{}
	exitErr error
}

// Option configures a Service.
type Option func(*Service)

// WithBootstrap overrides the statement passed to the interpreter with -c.
func WithBootstrap(code string) Option {
	return func(s *Service) { s.bootstrap = code }
}

// WithDir sets the worker's working directory.
func WithDir(dir string) Option {
	return func(s *Service) { s.dir = dir }
}

// WithEnv adds KEY=VALUE pairs to the worker's environment.
func WithEnv(env ...string) Option {
	return func(s *Service) { s.env = append(s.env, env...) }
}

// WithCancelGrace sets how long a canceled task may take to acknowledge
// before the worker is killed.
func WithCancelGrace(d time.Duration) Option {
	return func(s *Service) { s.cancelGrace = d }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service that runs python (an interpreter command prefix)
// with the bootstrap statement.
func New(python []string, opts ...Option) *Service {
	s := &Service{
		python:      python,
		bootstrap:   DefaultBootstrap,
		cancelGrace: 5 * time.Second,
		logger:      logging.NopLogger(),
		tasks:       make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Command returns the full worker command line.
func (s *Service) Command() []string {
	args := append([]string(nil), s.python...)
	return append(args, "-c", s.bootstrap)
}

// Start launches the worker process.
func (s *Service) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.python) == 0 {
		return errors.NewValidationError("no interpreter command").WithField("python")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return ErrAlreadyRunning
	}

	argv := s.Command()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.dir
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker %q: %w", argv[0], err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.exited = make(chan struct{})
	s.logger.Info("worker started", "pid", cmd.Process.Pid, "command", strings.Join(argv, " "))

	go s.supervise(stdout, stderr)
	return nil
}

// supervise pumps the worker's output until it exits, then fails every
// pending task.
func (s *Service) supervise(stdout, stderr io.Reader) {
	var wg conc.WaitGroup
	wg.Go(func() { s.readStdout(stdout) })
	wg.Go(func() { s.readStderr(stderr) })
	wg.Wait()

	err := s.cmd.Wait()

	s.mu.Lock()
	s.exitErr = err
	pending := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		pending = append(pending, t)
	}
	tail := strings.Join(s.stderr, "\n")
	close(s.exited)
	s.mu.Unlock()

	code := s.cmd.ProcessState.ExitCode()
	s.logger.Info("worker exited", "exit_code", code)

	for _, t := range pending {
		msg := fmt.Sprintf("Worker crashed with exit code %d.", code)
		if tail != "" {
			msg += "\n" + tail
		}
		t.handle(Response{Task: t.ID, ResponseType: ResponseCrash, Error: msg})
	}
}

func (s *Service) readStdout(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		resp, err := ParseResponse(line)
		if err != nil {
			if text := strings.TrimSpace(string(line)); text != "" {
				s.logger.Debug("worker stdout", "line", text)
			}
			continue
		}
		s.mu.Lock()
		t := s.tasks[resp.Task]
		s.mu.Unlock()
		if t == nil {
			s.logger.Warn("response for unknown task", "task", resp.Task, "type", string(resp.ResponseType))
			continue
		}
		t.handle(resp)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("worker stdout read failed", "error", err.Error())
	}
}

func (s *Service) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		s.logger.Debug("worker stderr", "line", line)
		s.mu.Lock()
		s.stderr = append(s.stderr, line)
		if len(s.stderr) > stderrTail {
			s.stderr = s.stderr[len(s.stderr)-stderrTail:]
		}
		s.mu.Unlock()
	}
}

// Task creates a task running script with inputs. Call Start to submit it.
func (s *Service) Task(script string, inputs map[string]any) *Task {
	return newTask(s, uuid.NewString(), script, inputs)
}

// submit registers t and sends its EXECUTE request.
func (s *Service) submit(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.isExited() {
		return ErrNotRunning
	}
	s.tasks[t.ID] = t
	err := WriteRequest(s.stdin, Request{
		Task:        t.ID,
		RequestType: RequestExecute,
		Script:      t.Script,
		Inputs:      t.Inputs,
	})
	if err != nil {
		delete(s.tasks, t.ID)
		return err
	}
	return nil
}

// send writes a request for an already submitted task.
func (s *Service) send(req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.isExited() {
		return ErrNotRunning
	}
	return WriteRequest(s.stdin, req)
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

func (s *Service) isExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// IsRunning reports whether the worker process is alive.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil && !s.isExited()
}

// Exited is closed once the worker process exits. It is nil before Start.
func (s *Service) Exited() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// Kill terminates the worker immediately.
func (s *Service) Kill() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill worker: %w", err)
	}
	return nil
}

// Close shuts the worker down: stdin is closed so the worker loop ends,
// and the process is killed if it has not exited within the cancel grace
// period. Close is safe to call more than once.
func (s *Service) Close() error {
	s.mu.Lock()
	cmd, stdin, exited := s.cmd, s.stdin, s.exited
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}

	_ = stdin.Close()
	select {
	case <-exited:
		return nil
	case <-time.After(s.cancelGrace):
	}

	s.logger.Warn("worker did not exit after stdin closed, killing")
	if err := s.Kill(); err != nil {
		return err
	}
	<-exited
	return nil
}
