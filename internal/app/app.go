// Package app wires the daemon together: config, logging, storage, the
// rotation loop, and the archive scheduler.
package app

import (
	"context"
	"fmt"
	"time"

	"inkdash/internal/archiver"
	"inkdash/internal/config"
	"inkdash/internal/rotator"
	"inkdash/internal/runtime/supervisor"
	"inkdash/internal/scheduler"
	"inkdash/internal/storage"
	"inkdash/internal/web"
	logx "inkdash/pkg/logx"
)

// StopReason labels why the daemon is shutting down.
type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	artifacts *rotator.ArtifactStore
	rot       *rotator.Rotator
	arch      *archiver.Archiver
	sched     *scheduler.Service
	web       *web.Server

	archCfg config.Archive
	webCfg  config.Web
}

// NewApp loads the configuration (file plus environment overrides) and
// constructs every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	fail := func(err error) (*App, error) {
		logSvc.Close()
		return nil, err
	}

	var store storage.Store
	if sc, enabled, err := cfg.ResolveStorage(); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	rot, err := cfg.ResolveRotation(log.With(logx.String("comp", "config")))
	if err != nil {
		return fail(err)
	}
	arc, err := cfg.ResolveArchive()
	if err != nil {
		return fail(err)
	}

	artifacts, err := rotator.NewArtifactStore(rot.CurrentDir)
	if err != nil {
		return fail(err)
	}
	runner := rotator.NewProcessRunner(log.With(logx.String("comp", "runner")), 0)
	rotSvc := rotator.New(rot, runner, artifacts, store, log.With(logx.String("comp", "rotator")))

	archSvc := archiver.New(arc, rot.CurrentDir, pluginNames(rot.Order), store,
		log.With(logx.String("comp", "archive")))
	schedSvc := scheduler.New(arc.Timezone, log.With(logx.String("comp", "scheduler")))

	webCfg, err := cfg.ResolveWeb()
	if err != nil {
		return fail(err)
	}
	var webSrv *web.Server
	if webCfg.Enabled {
		webLog := log.With(logx.String("comp", "web"))
		var sched web.Schedule
		if arc.Enabled {
			sched = schedSvc
		}
		wh := web.NewHandler(rot.CurrentDir, rotSvc, archSvc, store, sched, webLog)
		webSrv = web.NewServer(webCfg, wh.Router(), webLog)
	}

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		store:     store,
		artifacts: artifacts,
		rot:       rotSvc,
		arch:      archSvc,
		sched:     schedSvc,
		web:       webSrv,
		archCfg:   arc,
		webCfg:    webCfg,
	}, nil
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if a.archCfg.Enabled {
		if err := a.sched.Add("archive.snapshot", a.archCfg.Schedule, 5*time.Minute, a.arch.Snapshot); err != nil {
			return err
		}
		if err := a.sched.Add("archive.cleanup", a.archCfg.CleanupSchedule, 5*time.Minute, a.arch.Cleanup); err != nil {
			return err
		}
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
		for name, at := range a.sched.Next() {
			a.log.Info("job scheduled", logx.String("job", name), logx.Time("next", at))
		}
	} else {
		a.log.Info("archiving disabled")
	}

	// The rotation loop restarts on unexpected errors so one bad pass
	// cannot take the display down.
	a.sup.GoRestart("rotator", a.rot.Run,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithStopOnCleanExit(true),
	)

	// The web interface exposes status, archives, and the manual advance
	// trigger. A listen failure is fatal to the daemon.
	if a.web != nil {
		a.sup.Go("web.server", a.web.Run)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the latest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("started")
	return nil
}

// applyReload pushes a validated config into the running components.
// Rotation and logging changes take effect live; archive schedules and
// storage need a restart.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))

	rot, err := cfg.ResolveRotation(a.log.With(logx.String("comp", "config")))
	if err != nil {
		// Validator should have caught this; keep the old rotation.
		a.log.Warn("invalid rotation config on reload, keeping previous", logx.Err(err))
	} else {
		a.rot.Apply(rot)
		a.arch.SetPlugins(pluginNames(rot.Order))
	}

	if arc, err := cfg.ResolveArchive(); err == nil {
		if arc.Schedule != a.archCfg.Schedule ||
			arc.CleanupSchedule != a.archCfg.CleanupSchedule ||
			arc.Timezone != a.archCfg.Timezone ||
			arc.Enabled != a.archCfg.Enabled {
			a.log.Warn("archive schedule changed; restart required to take effect")
		}
	}
	if _, enabled, err := cfg.ResolveStorage(); err == nil {
		if enabled != (a.store != nil) {
			a.log.Warn("storage config changed; restart required to take effect")
		}
	}
	if w, err := cfg.ResolveWeb(); err == nil && w != a.webCfg {
		a.log.Warn("web config changed; restart required to take effect")
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// Bound each shutdown step so one component cannot stall the exit.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("scheduler", 2*time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

func pluginNames(order []config.Plugin) []string {
	names := make([]string, 0, len(order))
	for _, p := range order {
		names = append(names, p.Name)
	}
	return names
}
