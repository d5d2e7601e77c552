package manager

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfigStoreUnavailable aborts a whole Refresh before any process
// mutation. A missing config source must never read as "desired set is
// empty" — that would stop every running tool.
var ErrConfigStoreUnavailable = errors.New("manager: config store unavailable")

// InvalidConfigError marks one tool config whose required_env is not
// satisfied. The tool is skipped; the rest of the refresh continues.
type InvalidConfigError struct {
	Key     Key
	Missing []string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config for %s: missing required env %s",
		e.Key, strings.Join(e.Missing, ", "))
}

// PortExhaustedError is returned when no port in the configured range
// could be leased and bound.
type PortExhaustedError struct {
	Min, Max int
}

func (e *PortExhaustedError) Error() string {
	return fmt.Sprintf("no free port in range %d-%d", e.Min, e.Max)
}

// ProcessStartFailedError is returned when a launched process exits
// within the grace period (bad binary, bad args, application-level
// port conflict).
type ProcessStartFailedError struct {
	Key      Key
	ExitCode int
}

func (e *ProcessStartFailedError) Error() string {
	return fmt.Sprintf("process for %s exited during startup with code %d", e.Key, e.ExitCode)
}

// StopTimeoutError is returned when even forceful termination did not
// confirm process exit in time. The OS resource is leaked; the process
// is no longer owned by the manager.
type StopTimeoutError struct {
	Key  Key
	Port int
}

func (e *StopTimeoutError) Error() string {
	return fmt.Sprintf("process for %s on port %d did not exit after forced termination", e.Key, e.Port)
}
