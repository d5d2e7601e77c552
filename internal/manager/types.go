package manager

import (
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// Key identifies a managed tool process by name and version.
type Key struct {
	Tool    string
	Version string
}

func (k Key) String() string {
	return k.Tool + "@" + k.Version
}

// ToolVersionConfig is one desired tool record from the configuration store.
// It is read-only to the manager.
type ToolVersionConfig struct {
	Tool          string
	Version       string
	Env           map[string]string
	RequiredEnv   []string
	Args          string
	PreferredPort int
	Method        string
}

// Key returns the identity key for this config.
func (c ToolVersionConfig) Key() Key {
	return Key{Tool: c.Tool, Version: c.Version}
}

// Invocation is a fully resolved command descriptor, ready to launch.
type Invocation struct {
	Path string
	Args []string
	Env  map[string]string
	Port int
}

// Command renders the invocation as a single diagnostic string,
// including env values. Never expose this to API callers.
func (inv Invocation) Command() string {
	s := inv.Path
	for _, a := range inv.Args {
		s += " " + a
	}
	return s
}

// State is the observed lifecycle state of a managed process.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ManagedProcess is one running tool proxy owned by the manager. The
// underlying process handle is exclusively owned by the Supervisor;
// nothing else may signal or reap it.
type ManagedProcess struct {
	Key         Key
	Port        int
	Command     string // resolved command line, secrets included
	Redacted    string // resolved command line, env values masked
	Fingerprint string
	StartedAt   time.Time

	cmd  *exec.Cmd
	done chan struct{} // closed by the wait goroutine after reap

	mu       sync.Mutex
	state    State
	exitCode int
}

// State returns the last observed state.
func (p *ManagedProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode returns the exit code once the process has exited; -1 otherwise.
func (p *ManagedProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateExited {
		return -1
	}
	return p.exitCode
}

func (p *ManagedProcess) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *ManagedProcess) setExited(code int) {
	p.mu.Lock()
	p.state = StateExited
	p.exitCode = code
	p.mu.Unlock()
}

// RefreshFailure records one tool that could not be reconciled.
type RefreshFailure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// RefreshResult summarizes one reconciliation pass. Per-tool failures
// are captured here and never surface as a whole-call error.
type RefreshResult struct {
	ID        string           `json:"id"`
	Started   []string         `json:"started"`
	Stopped   []string         `json:"stopped"`
	Restarted []string         `json:"restarted"`
	Unchanged []string         `json:"unchanged"`
	Failed    []RefreshFailure `json:"failed"`
	Duration  time.Duration    `json:"durationNs"`
}

// StatusView is the externally visible state of one managed process.
// Command is always the redacted form.
type StatusView struct {
	Tool    string `json:"tool"`
	Version string `json:"version"`
	Port    int    `json:"port"`
	Running bool   `json:"running"`
	State   string `json:"state"`
	Command string `json:"command"`
}
