package rotator

import (
	"time"
)

// Outcome classifies a single plugin execution.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCrash    Outcome = "crash"
	OutcomeMissing  Outcome = "missing"
	OutcomeCanceled Outcome = "canceled"
)

// Exit code conventions carried over from the shell era: 124 for a
// killed-on-timeout run, 127 for a command that could not be started.
const (
	ExitTimeout = 124
	ExitMissing = 127
)

// RunRequest describes one plugin execution.
type RunRequest struct {
	Plugin  string
	Command []string
	Timeout time.Duration

	// OutputPath is handed to the plugin via $DASH_OUTPUT. The plugin
	// writes its rendered image there; the rotator promotes it into the
	// current-artifact slot only on success.
	OutputPath string
}

// RunResult is the outcome of one plugin execution attempt.
type RunResult struct {
	Outcome  Outcome
	ExitCode int
	Duration time.Duration

	// OutputTail holds the last captured output lines for diagnostics.
	OutputTail []string

	Err error
}

func (r RunResult) OK() bool { return r.Outcome == OutcomeSuccess }
