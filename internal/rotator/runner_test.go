package rotator

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	logx "inkdash/pkg/logx"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestProcessRunnerSuccessWritesOutput(t *testing.T) {
	t.Parallel()
	requireShell(t)

	out := filepath.Join(t.TempDir(), "out.png")
	r := NewProcessRunner(logx.Nop(), 0)
	res := r.Run(context.Background(), RunRequest{
		Plugin:     "weather",
		Command:    []string{"sh", "-c", `printf rendered > "$DASH_OUTPUT"`},
		Timeout:    5 * time.Second,
		OutputPath: out,
	})
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %s (err=%v), want success", res.Outcome, res.Err)
	}
	b, err := os.ReadFile(out)
	if err != nil || string(b) != "rendered" {
		t.Fatalf("output not written: %q err=%v", b, err)
	}
}

func TestProcessRunnerCrashCapturesTail(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := NewProcessRunner(logx.Nop(), 0)
	res := r.Run(context.Background(), RunRequest{
		Plugin:  "comic",
		Command: []string{"sh", "-c", "echo boom >&2; exit 3"},
		Timeout: 5 * time.Second,
	})
	if res.Outcome != OutcomeCrash {
		t.Fatalf("Outcome = %s, want crash", res.Outcome)
	}
	if res.ExitCode != 3 {
		t.Fatalf("ExitCode = %d, want 3", res.ExitCode)
	}
	found := false
	for _, line := range res.OutputTail {
		if line == "boom" {
			found = true
		}
	}
	if !found {
		t.Fatalf("stderr not captured in tail: %v", res.OutputTail)
	}
}

func TestProcessRunnerTimeoutKillsChild(t *testing.T) {
	t.Parallel()
	requireShell(t)

	r := NewProcessRunner(logx.Nop(), 0)
	start := time.Now()
	res := r.Run(context.Background(), RunRequest{
		Plugin:  "weather",
		Command: []string{"sh", "-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	})
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("Outcome = %s, want timeout", res.Outcome)
	}
	if res.ExitCode != ExitTimeout {
		t.Fatalf("ExitCode = %d, want %d", res.ExitCode, ExitTimeout)
	}
	if took := time.Since(start); took > 10*time.Second {
		t.Fatalf("timeout enforcement too slow: %v", took)
	}
}

func TestProcessRunnerMissingCommand(t *testing.T) {
	t.Parallel()
	r := NewProcessRunner(logx.Nop(), 0)
	res := r.Run(context.Background(), RunRequest{
		Plugin:  "news",
		Command: []string{"dash-definitely-not-installed"},
		Timeout: time.Second,
	})
	if res.Outcome != OutcomeMissing {
		t.Fatalf("Outcome = %s, want missing", res.Outcome)
	}
	if res.ExitCode != ExitMissing {
		t.Fatalf("ExitCode = %d, want %d", res.ExitCode, ExitMissing)
	}
}

func TestProcessRunnerThrottlesSpammyPlugin(t *testing.T) {
	t.Parallel()
	requireShell(t)

	// 2000 lines against a 5/s forwarding budget: if Allow() ever turned
	// into Wait(), this run would take minutes instead of milliseconds.
	r := NewProcessRunner(logx.Nop(), 5)
	start := time.Now()
	res := r.Run(context.Background(), RunRequest{
		Plugin:  "comic",
		Command: []string{"sh", "-c", `i=0; while [ "$i" -lt 2000 ]; do echo "line $i"; i=$((i+1)); done`},
		Timeout: 30 * time.Second,
	})
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %s (err=%v), want success", res.Outcome, res.Err)
	}
	if took := time.Since(start); took > 10*time.Second {
		t.Fatalf("spammy output stalled the run: %v", took)
	}
	if len(res.OutputTail) > tailLines {
		t.Fatalf("tail has %d lines, want at most %d", len(res.OutputTail), tailLines)
	}
	// The tail keeps the newest lines even when forwarding drops them.
	if last := res.OutputTail[len(res.OutputTail)-1]; last != "line 1999" {
		t.Fatalf("tail last line = %q, want %q", last, "line 1999")
	}
}
