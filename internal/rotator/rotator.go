package rotator

import (
	"context"
	"strings"
	"sync"
	"time"

	"inkdash/internal/config"
	"inkdash/internal/storage"
	logx "inkdash/pkg/logx"
)

// Rotator drives the dashboard cycle: one plugin at a time, in the
// configured order, forever. Plugin failures never stop the loop; only
// context cancellation does.
type Rotator struct {
	log       logx.Logger
	runner    Runner
	artifacts *ArtifactStore
	store     storage.Store // may be nil (history disabled)

	mu  sync.Mutex
	rot config.Rotation

	// advance short-circuits the inter-tick sleep (manual trigger).
	// It never shortens a running plugin's timeout.
	advance chan struct{}
}

func New(rot config.Rotation, runner Runner, artifacts *ArtifactStore, store storage.Store, log logx.Logger) *Rotator {
	return &Rotator{
		log:       log,
		runner:    runner,
		artifacts: artifacts,
		store:     store,
		rot:       rot,
		advance:   make(chan struct{}, 1),
	}
}

// Apply swaps rotation parameters. The new order/interval/timeout take
// effect at the next tick boundary; the in-flight plugin keeps its
// original timeout.
func (r *Rotator) Apply(rot config.Rotation) {
	r.mu.Lock()
	changed := !sameOrder(r.rot.Order, rot.Order) ||
		r.rot.Interval != rot.Interval || r.rot.Timeout != rot.Timeout
	r.rot = rot
	r.mu.Unlock()
	if changed {
		r.log.Info("rotation config updated",
			logx.String("order", orderNames(rot.Order)),
			logx.Duration("interval", rot.Interval),
			logx.Duration("timeout", rot.Timeout),
		)
	}
}

// Advance skips the current inter-tick sleep, moving to the next plugin
// immediately. No-op when the loop is mid-plugin.
func (r *Rotator) Advance() {
	select {
	case r.advance <- struct{}{}:
	default:
	}
}

// Rotation reports the parameters the loop is currently running with.
func (r *Rotator) Rotation() config.Rotation {
	return r.current()
}

func (r *Rotator) current() config.Rotation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rot
}

// Run executes the rotation loop until ctx is canceled. It always
// returns ctx.Err(); per-plugin failures are contained inside ticks.
func (r *Rotator) Run(ctx context.Context) error {
	rot := r.current()
	r.log.Info("rotation started",
		logx.String("order", orderNames(rot.Order)),
		logx.Duration("interval", rot.Interval),
		logx.Duration("timeout", rot.Timeout),
	)

	idx := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Re-read at the tick boundary so hot reloads apply cleanly.
		rot = r.current()
		if idx >= len(rot.Order) {
			idx = 0
		}
		plugin := rot.Order[idx]
		idx = (idx + 1) % len(rot.Order)

		tickStart := time.Now()
		r.tick(ctx, rot, plugin)

		// Fixed cadence: the render time counts against the interval, so a
		// slow or timed-out plugin adds no extra delay before the next one.
		wait := rot.Interval - time.Since(tickStart)
		if wait <= 0 {
			continue
		}

		// Cancellable sleep; a manual advance only skips the sleep.
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-r.advance:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tick runs a single plugin and settles its artifact slot.
func (r *Rotator) tick(ctx context.Context, rot config.Rotation, plugin config.Plugin) {
	temp := r.artifacts.TempPath(plugin.Name)
	r.log.Info("launching dashboard",
		logx.String("plugin", plugin.Name),
		logx.String("command", strings.Join(plugin.Command, " ")),
	)

	res := r.runner.Run(ctx, RunRequest{
		Plugin:     plugin.Name,
		Command:    plugin.Command,
		Timeout:    rot.Timeout,
		OutputPath: temp,
	})

	artifact := ""
	errMsg := ""
	switch res.Outcome {
	case OutcomeSuccess:
		if err := r.artifacts.Commit(plugin.Name, temp); err != nil {
			// Plugin exited clean but produced nothing; previous artifact stays.
			r.log.Warn("dashboard produced no output",
				logx.String("plugin", plugin.Name),
				logx.Duration("took", res.Duration),
				logx.Err(err),
			)
			errMsg = err.Error()
		} else {
			artifact = r.artifacts.Path(plugin.Name)
			r.log.Info("dashboard completed",
				logx.String("plugin", plugin.Name),
				logx.Duration("took", res.Duration),
			)
		}
	case OutcomeTimeout:
		r.artifacts.Discard(temp)
		r.log.Error("dashboard timed out",
			logx.String("plugin", plugin.Name),
			logx.Duration("timeout", rot.Timeout),
			logx.Duration("took", res.Duration),
		)
		errMsg = "timeout"
	case OutcomeMissing:
		r.artifacts.Discard(temp)
		r.log.Warn("dashboard command not found",
			logx.String("plugin", plugin.Name),
			logx.String("command", strings.Join(plugin.Command, " ")),
			logx.Err(res.Err),
		)
		errMsg = errString(res.Err)
	case OutcomeCanceled:
		r.artifacts.Discard(temp)
		r.log.Info("dashboard canceled",
			logx.String("plugin", plugin.Name),
			logx.Duration("took", res.Duration),
		)
		errMsg = errString(res.Err)
	default:
		r.artifacts.Discard(temp)
		r.log.Error("dashboard failed",
			logx.String("plugin", plugin.Name),
			logx.Int("exit_code", res.ExitCode),
			logx.Duration("took", res.Duration),
			logx.String("output_tail", strings.Join(res.OutputTail, "\n")),
			logx.Err(res.Err),
		)
		errMsg = errString(res.Err)
	}

	r.record(ctx, plugin.Name, res, artifact, errMsg)
}

func (r *Rotator) record(ctx context.Context, plugin string, res RunResult, artifact, errMsg string) {
	if r.store == nil {
		return
	}
	// Recording is best-effort and must not delay shutdown.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := r.store.AppendRun(rctx, storage.RunRecord{
		At:       time.Now(),
		Plugin:   plugin,
		Outcome:  string(res.Outcome),
		ExitCode: res.ExitCode,
		TookMS:   res.Duration.Milliseconds(),
		Artifact: artifact,
		Error:    errMsg,
	})
	if err != nil {
		r.log.Warn("run history append failed", logx.String("plugin", plugin), logx.Err(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func orderNames(order []config.Plugin) string {
	names := make([]string, len(order))
	for i, p := range order {
		names[i] = p.Name
	}
	return strings.Join(names, ",")
}

func sameOrder(a, b []config.Plugin) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}
