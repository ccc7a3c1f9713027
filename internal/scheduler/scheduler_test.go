package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "inkdash/pkg/logx"
)

func TestAddValidatesSpec(t *testing.T) {
	t.Parallel()
	s := New("", logx.Nop())
	nop := func(ctx context.Context) error { return nil }

	for _, spec := range []string{"0 1 * * *", "0 */6 * * *", "@daily", "30 0 1 * * *"} {
		if err := s.Add("ok", spec, 0, nop); err != nil {
			t.Fatalf("Add(%q): %v", spec, err)
		}
	}
	for _, spec := range []string{"", "not a spec", "61 * * * *"} {
		if err := s.Add("bad", spec, 0, nop); err == nil {
			t.Fatalf("Add(%q) accepted", spec)
		}
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	s := New("Mars/Olympus_Mons", logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestFireSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := New("", logx.Nop())
	s.ctx = context.Background()

	var runs atomic.Int32
	release := make(chan struct{})
	d := &jobDef{name: "slow", run: func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}

	done := make(chan struct{})
	go func() {
		s.fire(d)
		close(done)
	}()
	for d.busy.Load() == false {
		time.Sleep(time.Millisecond)
	}

	// Second fire while the first is in flight must be dropped.
	s.fire(d)
	if got := runs.Load(); got != 1 {
		t.Fatalf("overlapping fire ran the job, runs = %d", got)
	}
	close(release)
	<-done

	// Once the first run drains, the job is fireable again.
	s.fire(d)
	if got := runs.Load(); got != 2 {
		t.Fatalf("job not fireable after completion, runs = %d", got)
	}
}

func TestFireRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New("", logx.Nop())
	s.ctx = context.Background()
	d := &jobDef{name: "boom", run: func(ctx context.Context) error { panic("kaput") }}

	s.fire(d) // must not propagate
	if d.busy.Load() {
		t.Fatal("busy flag leaked after panic")
	}
}

func TestFireAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := New("", logx.Nop())
	s.ctx = context.Background()
	var sawDeadline atomic.Bool
	d := &jobDef{name: "bounded", timeout: 20 * time.Millisecond, run: func(ctx context.Context) error {
		<-ctx.Done()
		sawDeadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}}

	s.fire(d)
	if !sawDeadline.Load() {
		t.Fatal("job context never hit its deadline")
	}
}

func TestNextReportsUpcomingFires(t *testing.T) {
	t.Parallel()
	s := New("UTC", logx.Nop())
	nop := func(ctx context.Context) error { return nil }
	if err := s.Add("daily", "0 1 * * *", 0, nop); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	next := s.Next()
	at, ok := next["daily"]
	if !ok || at.IsZero() {
		t.Fatalf("no upcoming fire for daily job: %+v", next)
	}
	if at.Hour() != 1 || at.Minute() != 0 {
		t.Fatalf("daily job scheduled at %v, want 01:00", at)
	}
}
