package manager

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Supervisor starts, stops, and polls a single external process. It has
// exclusive ownership of every process it launches; callers interact
// with the process only through the returned ManagedProcess.
type Supervisor struct {
	gracePeriod time.Duration
	killTimeout time.Duration
	hub         *LogHub
	logger      *slog.Logger
}

// NewSupervisor creates a supervisor. gracePeriod is how long a freshly
// launched process must survive before Start reports success;
// killTimeout bounds the wait after forceful termination.
func NewSupervisor(gracePeriod, killTimeout time.Duration, hub *LogHub, logger *slog.Logger) *Supervisor {
	if gracePeriod <= 0 {
		gracePeriod = 500 * time.Millisecond
	}
	if killTimeout <= 0 {
		killTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		gracePeriod: gracePeriod,
		killTimeout: killTimeout,
		hub:         hub,
		logger:      logger.With("component", "supervisor"),
	}
}

// Start launches the invocation and blocks for the grace period. If the
// process exits within the grace period, Start fails with
// ProcessStartFailedError and the caller must release the port.
func (s *Supervisor) Start(key Key, inv Invocation) (*ManagedProcess, error) {
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Env = os.Environ()
	for _, k := range sortedEnvKeys(inv.Env) {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, inv.Env[k]))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", key, err)
	}

	p := &ManagedProcess{
		Key:       key,
		Port:      inv.Port,
		Command:   inv.Command(),
		Redacted:  RedactCommand(inv),
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
		state:     StateStarting,
	}

	s.logger.Info("process started",
		"tool", key.Tool, "version", key.Version,
		"port", inv.Port, "pid", cmd.Process.Pid,
		"command", p.Redacted,
	)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pumpOutput(p, stdout, &pumps)
	go s.pumpOutput(p, stderr, &pumps)

	// Reap the process directly: pipe EOF is not exit. A child that
	// inherits the pipes can hold them open long after this process is
	// gone, so the drain is bounded and never gates the reap.
	go func() {
		state, err := cmd.Process.Wait()
		code := -1
		if err == nil {
			code = state.ExitCode()
		}
		p.setExited(code)
		close(p.done)

		drained := make(chan struct{})
		go func() {
			pumps.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(s.killTimeout):
			stdout.Close()
			stderr.Close()
		}
	}()

	// Grace period: distinguish "alive and presumably listening" from
	// "exited immediately" (bad config, missing binary, port conflict).
	select {
	case <-p.done:
		s.logger.Warn("process exited during startup",
			"tool", key.Tool, "version", key.Version,
			"port", inv.Port, "exit_code", p.ExitCode(),
		)
		return nil, &ProcessStartFailedError{Key: key, ExitCode: p.ExitCode()}
	case <-time.After(s.gracePeriod):
	}

	p.setState(StateRunning)
	return p, nil
}

// Poll checks liveness without waiting; the reap goroutine keeps the
// state current. The result is advisory: a process can die between
// poll and use.
func (s *Supervisor) Poll(p *ManagedProcess) State {
	return p.State()
}

// Stop requests cooperative termination, waits up to timeout, and
// escalates to a kill. It blocks until the process is confirmed reaped
// or the forceful path is exhausted, in which case it reports
// StopTimeoutError; the process is then abandoned, never retried.
func (s *Supervisor) Stop(p *ManagedProcess, timeout time.Duration) error {
	select {
	case <-p.done:
		return nil // already exited and reaped
	default:
	}

	p.setState(StateStopping)
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("terminate signal failed", "tool", p.Key.Tool, "port", p.Port, "error", err)
	}

	select {
	case <-p.done:
		s.logger.Info("process stopped", "tool", p.Key.Tool, "version", p.Key.Version, "port", p.Port)
		return nil
	case <-time.After(timeout):
	}

	s.logger.Warn("process did not stop in time, killing",
		"tool", p.Key.Tool, "version", p.Key.Version, "port", p.Port)
	if err := p.cmd.Process.Kill(); err != nil {
		s.logger.Debug("kill failed", "tool", p.Key.Tool, "port", p.Port, "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(s.killTimeout):
		// OS-level leak. Fatal condition for this process; it is no
		// longer owned by the manager.
		s.logger.Error("process unkillable, abandoning",
			"tool", p.Key.Tool, "version", p.Key.Version, "port", p.Port, "pid", p.cmd.Process.Pid)
		return &StopTimeoutError{Key: p.Key, Port: p.Port}
	}
}

// pumpOutput forwards process output lines to the log hub and debug log.
// Output is diagnostic only; it never drives control decisions.
func (s *Supervisor) pumpOutput(p *ManagedProcess, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if s.hub != nil {
			s.hub.Publish(LogLine{
				Tool:    p.Key.Tool,
				Version: p.Key.Version,
				Port:    p.Port,
				Line:    line,
				Time:    time.Now(),
			})
		}
		s.logger.Debug("tool output", "tool", p.Key.Tool, "port", p.Port, "line", line)
	}
}
