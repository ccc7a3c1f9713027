// Package scheduler runs recurring jobs on cron expressions.
//
// It wraps robfig/cron with panic recovery and per-job timeouts. A job
// still running when its next fire comes due skips that fire instead of
// stacking a second run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "inkdash/pkg/logx"
)

// parser accepts standard five-field specs plus an optional leading
// seconds field and @-descriptors. Keep in sync with config validation.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error

	busy atomic.Bool
}

// Service owns the cron runner. Jobs are registered before Start; the
// zero value is not usable, construct with New.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	tz  string
	loc *time.Location

	c    *cron.Cron
	defs []*jobDef

	ctx context.Context
}

func New(timezone string, log logx.Logger) *Service {
	return &Service{log: log, tz: timezone}
}

// Add registers a job under the given cron spec. The spec must already
// be valid; registration errors are returned for the caller to treat as
// fatal. Timeout of zero means no per-run deadline.
func (s *Service) Add(name, spec string, timeout time.Duration, run func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler already started")
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.defs = append(s.defs, &jobDef{name: name, spec: spec, timeout: timeout, run: run})
	return nil
}

// Start begins firing registered jobs. Jobs run with a context derived
// from ctx; cancelling it aborts in-flight runs.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler already started")
	}

	loc, err := s.loadLocation()
	if err != nil {
		return err
	}
	s.loc = loc
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))

	for _, d := range s.defs {
		d := d
		if _, err := s.c.AddFunc(d.spec, func() { s.fire(d) }); err != nil {
			return fmt.Errorf("register %s: %w", d.name, err)
		}
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("jobs", len(s.defs)),
		logx.String("tz", loc.String()),
	)
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs to return.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("scheduler stopped")
}

// Next reports the upcoming fire times per job name. Useful at startup
// for a one-line "what happens when" log.
func (s *Service) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.defs))
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	now := time.Now().In(loc)
	for _, d := range s.defs {
		sched, err := parser.Parse(d.spec)
		if err != nil {
			continue
		}
		out[d.name] = sched.Next(now)
	}
	return out
}

func (s *Service) fire(d *jobDef) {
	if !d.busy.CompareAndSwap(false, true) {
		s.log.Warn("job still running, skipping fire", logx.String("job", d.name))
		return
	}
	defer d.busy.Store(false)

	ctx := s.ctx
	var cancel context.CancelFunc
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.runOne(ctx, d)
	took := time.Since(start)
	if err != nil {
		s.log.Error("job failed",
			logx.String("job", d.name),
			logx.Duration("took", took),
			logx.Err(err),
		)
		return
	}
	s.log.Info("job ok", logx.String("job", d.name), logx.Duration("took", took))
}

func (s *Service) runOne(ctx context.Context, d *jobDef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panicked",
				logx.String("job", d.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	return d.run(ctx)
}

func (s *Service) loadLocation() (*time.Location, error) {
	tz := strings.TrimSpace(s.tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}
