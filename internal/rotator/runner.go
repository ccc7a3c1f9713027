package rotator

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "inkdash/pkg/logx"
)

// Runner executes one plugin render. Implementations must terminate the
// execution when the request timeout expires and must never outlive the
// returned result (no lingering background work).
type Runner interface {
	Run(ctx context.Context, req RunRequest) RunResult
}

// tailLines bounds the diagnostic output kept per run.
const tailLines = 20

// ProcessRunner runs plugins as child processes.
//
// The child inherits the parent environment plus DASH_PLUGIN and
// DASH_OUTPUT. Combined stdout/stderr is forwarded line-by-line into the
// log through a rate limiter so a looping plugin cannot flood the log
// file; the last lines are always retained for crash diagnostics.
type ProcessRunner struct {
	log logx.Logger

	// limiter is shared across runs: the budget is per process, not per
	// plugin.
	limiter *rate.Limiter
}

// NewProcessRunner builds the default runner. linesPerSec bounds forwarded
// plugin output (0 picks a sane default).
func NewProcessRunner(log logx.Logger, linesPerSec int) *ProcessRunner {
	if linesPerSec <= 0 {
		linesPerSec = 20
	}
	return &ProcessRunner{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(linesPerSec), linesPerSec*2),
	}
}

func (r *ProcessRunner) Run(ctx context.Context, req RunRequest) RunResult {
	start := time.Now()
	if len(req.Command) == 0 {
		return RunResult{Outcome: OutcomeMissing, ExitCode: ExitMissing, Err: errors.New("empty command")}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, req.Command[0], req.Command[1:]...)
	cmd.Env = append(os.Environ(),
		"DASH_PLUGIN="+req.Plugin,
		"DASH_OUTPUT="+req.OutputPath,
	)
	// Don't let an inherited pipe held by a grandchild wedge Wait forever.
	cmd.WaitDelay = 5 * time.Second

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	tail := newTailBuffer(tailLines)
	var streamWG sync.WaitGroup
	streamWG.Add(1)
	go func() {
		defer streamWG.Done()
		r.stream(req.Plugin, pr, tail)
	}()

	err := cmd.Start()
	if err != nil {
		_ = pw.Close()
		streamWG.Wait()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return RunResult{Outcome: OutcomeMissing, ExitCode: ExitMissing, Duration: time.Since(start), Err: err}
		}
		return RunResult{Outcome: OutcomeCrash, ExitCode: 1, Duration: time.Since(start), Err: err}
	}

	waitErr := cmd.Wait()
	_ = pw.Close()
	streamWG.Wait()

	res := RunResult{Duration: time.Since(start), OutputTail: tail.Lines()}
	switch {
	case waitErr == nil:
		res.Outcome = OutcomeSuccess
	case runCtx.Err() == context.DeadlineExceeded:
		res.Outcome = OutcomeTimeout
		res.ExitCode = ExitTimeout
		res.Err = runCtx.Err()
	case ctx.Err() != nil:
		res.Outcome = OutcomeCanceled
		res.ExitCode = exitCode(waitErr)
		res.Err = ctx.Err()
	default:
		res.Outcome = OutcomeCrash
		res.ExitCode = exitCode(waitErr)
		res.Err = waitErr
	}
	return res
}

// stream forwards plugin output into the log, rate-limited, and records
// the tail.
func (r *ProcessRunner) stream(plugin string, in io.Reader, tail *tailBuffer) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	dropped := 0
	for sc.Scan() {
		line := sc.Text()
		tail.Add(line)
		if r.limiter.Allow() {
			if !r.log.IsZero() {
				r.log.Info("plugin output", logx.String("plugin", plugin), logx.String("line", line))
			}
		} else {
			dropped++
		}
	}
	if dropped > 0 && !r.log.IsZero() {
		r.log.Warn("plugin output throttled", logx.String("plugin", plugin), logx.Int("dropped_lines", dropped))
	}
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return 1
}

// tailBuffer keeps the last n lines. Safe for one writer.
type tailBuffer struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Add(line string) {
	t.mu.Lock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
	t.mu.Unlock()
}

func (t *tailBuffer) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}
