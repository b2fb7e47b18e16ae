// Package process launches and supervises the external tool processes of a backup job.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zero804/kup/internal/models"
)

// ExitNotStarted is the exit code reported when a command could not be launched.
// No real process exit produces a negative code on any supported platform.
const ExitNotStarted = -2

// terminateGrace is how long a terminated process may take to exit before it is killed.
const terminateGrace = 10 * time.Second

// ErrNotRunning is returned when a signal is sent to a process that is not running.
var ErrNotRunning = errors.New("process is not running")

// Signal is a control signal that can be sent to a running process.
type Signal int

// Supported signals.
const (
	SignalStop Signal = iota
	SignalContinue
	SignalTerminate
)

func (s Signal) String() string {
	switch s {
	case SignalStop:
		return "stop"
	case SignalContinue:
		return "continue"
	case SignalTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Command describes one process invocation.
type Command struct {
	Path string
	Args []string
	Env  []string // KEY=VALUE overrides appended to the inherited environment
}

// String renders the command line with arguments quoted where needed.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, p := range append([]string{c.Path}, c.Args...) {
		if p == "" || strings.ContainsAny(p, " \t\"'\\") {
			p = `"` + strings.ReplaceAll(p, `"`, `\"`) + `"`
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

// Handlers receive process lifecycle notifications. Any of them may be nil.
// Stdout and Stderr are called from the reader goroutines whenever new bytes
// are buffered; Finished is called exactly once, after both streams are drained.
type Handlers struct {
	Started  func(pid int)
	Stdout   func()
	Stderr   func()
	Finished func(models.StageResult)
}

// Handle controls one launched process.
type Handle interface {
	Pid() int
	Running() bool
	// ReadStdout returns the stdout bytes not returned by a previous call.
	ReadStdout() []byte
	// ReadStderr returns the stderr bytes not returned by a previous call.
	ReadStderr() []byte
	Signal(sig Signal) error
}

// Service defines the interface for launching processes.
type Service interface {
	Start(ctx context.Context, cmd Command, h Handlers) Handle
	Run(ctx context.Context, cmd Command) models.StageResult
}

// Impl implements the Service interface using os/exec.
type Impl struct {
	logger zerolog.Logger
	nice   func(pid int) error
	grace  time.Duration
}

// New creates a new process service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger: logger,
		nice:   lowerPriority,
		grace:  terminateGrace,
	}
}

// NewWithPriorityHook creates a process service with a custom post-launch priority hook (for testing).
func NewWithPriorityHook(logger zerolog.Logger, nice func(pid int) error) *Impl {
	return &Impl{
		logger: logger,
		nice:   nice,
		grace:  terminateGrace,
	}
}

// Start launches cmd and returns immediately. If the executable cannot be
// launched, h.Finished is still called, with ExitNotStarted as exit code.
//
// The process runs in a process group of its own where the platform has them,
// so that signals reach the processes it forks too. Terminating it, directly or
// through ctx, kills the group once the grace period has passed.
func (s *Impl) Start(ctx context.Context, c Command, h Handlers) Handle {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	p := &proc{logger: s.logger, grace: s.grace, cancel: cancel, cmd: cmd}

	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = &streamWriter{p: p, into: &p.stdout, notify: h.Stdout}
	cmd.Stderr = &streamWriter{p: p, into: &p.stderr, notify: h.Stderr}
	cmd.Cancel = p.terminate
	cmd.WaitDelay = s.grace
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		s.logger.Debug().Err(err).Str("command", c.String()).Msg("failed to start process")
		cancel()
		return p.failed(err, h)
	}

	p.mu.Lock()
	p.pid = cmd.Process.Pid
	p.running = true
	p.mu.Unlock()

	if s.nice != nil {
		if err := s.nice(p.pid); err != nil {
			s.logger.Debug().Err(err).Int("pid", p.pid).Msg("could not lower process priority")
		}
	}

	s.logger.Debug().Int("pid", p.pid).Str("command", c.String()).Msg("process started")
	if h.Started != nil {
		h.Started(p.pid)
	}

	go func() {
		defer cancel()

		// Wait returns once the process has exited and its output is copied,
		// or WaitDelay after that when a leftover child still holds the pipes.
		waitErr := cmd.Wait()
		res := resultFrom(cmd.ProcessState, waitErr)

		p.mu.Lock()
		p.running = false
		if p.killTimer != nil {
			p.killTimer.Stop()
		}
		res.Stdout = p.stdout.all()
		res.Stderr = p.stderr.all()
		p.mu.Unlock()

		s.logger.Debug().
			Int("pid", p.pid).
			Int("exit_code", res.ExitCode).
			Stringer("exit_kind", res.ExitKind).
			Msg("process finished")

		if h.Finished != nil {
			h.Finished(res)
		}
	}()

	return p
}

// Run launches cmd and blocks until it has finished.
func (s *Impl) Run(ctx context.Context, c Command) models.StageResult {
	done := make(chan models.StageResult, 1)
	s.Start(ctx, c, Handlers{
		Finished: func(res models.StageResult) { done <- res },
	})
	return <-done
}

func resultFrom(state *os.ProcessState, err error) models.StageResult {
	res := models.StageResult{Err: err}
	if state == nil {
		res.ExitCode = -1
		res.ExitKind = models.ExitCrashed
		return res
	}
	res.ExitCode = state.ExitCode()
	if !state.Exited() {
		res.ExitKind = models.ExitCrashed
	}
	// A non-zero exit is reported through ExitCode, not as an error.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.Err = nil
	}
	return res
}

// stream buffers one output stream and remembers how much of it was read.
type stream struct {
	data []byte
	read int
}

func (b *stream) unread() []byte {
	out := append([]byte(nil), b.data[b.read:]...)
	b.read = len(b.data)
	return out
}

func (b *stream) all() string {
	return string(b.data)
}

type proc struct {
	logger zerolog.Logger
	grace  time.Duration
	cancel context.CancelFunc
	cmd    *exec.Cmd

	mu        sync.Mutex
	pid       int
	running   bool
	stdout    stream
	stderr    stream
	killTimer *time.Timer
}

func (p *proc) failed(err error, h Handlers) Handle {
	res := models.StageResult{
		ExitCode: ExitNotStarted,
		ExitKind: models.ExitCrashed,
		Err:      err,
	}
	if h.Finished != nil {
		go h.Finished(res)
	}
	return p
}

// streamWriter appends process output to a stream and reports new bytes.
type streamWriter struct {
	p      *proc
	into   *stream
	notify func()
}

func (w *streamWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	w.into.data = append(w.into.data, b...)
	w.p.mu.Unlock()
	if w.notify != nil {
		w.notify()
	}
	return len(b), nil
}

func (p *proc) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *proc) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *proc) ReadStdout() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout.unread()
}

func (p *proc) ReadStderr() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stderr.unread()
}

// Signal sends sig to the process and the processes it forked. Terminate is
// delivered through the process context, so it is asynchronous and repeated
// calls have no further effect.
func (p *proc) Signal(sig Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrNotRunning
	}

	switch sig {
	case SignalStop, SignalContinue:
		if err := signalGroup(p.pid, sig); err != nil {
			return fmt.Errorf("sending %s to process %d: %w", sig, p.pid, err)
		}
		return nil
	case SignalTerminate:
		p.cancel()
		return nil
	default:
		return fmt.Errorf("unsupported signal %s", sig)
	}
}

// terminate asks the process group to exit and kills it after the grace period.
// exec.Cmd calls it once, when the process context is done.
func (p *proc) terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Process is set before exec.Cmd watches the context, p.pid may not be yet.
	pid := p.cmd.Process.Pid
	if p.killTimer == nil {
		p.killTimer = time.AfterFunc(p.grace, func() {
			if err := killGroup(pid); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Debug().Err(err).Int("pid", pid).Msg("could not kill process group")
			}
		})
	}

	err := signalGroup(pid, SignalTerminate)
	// A stopped process only acts on the termination once it runs again.
	if cerr := signalGroup(pid, SignalContinue); cerr != nil && !errors.Is(cerr, os.ErrProcessDone) {
		p.logger.Debug().Err(cerr).Int("pid", pid).Msg("could not resume terminated process")
	}
	return err
}
