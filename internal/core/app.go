// Package core wires the host application: config, logging, the telegram
// adapter, the botlog facade with its delivery pipeline, and the demo
// command layer that exercises them.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"logbot/internal/adapters/telegram"
	"logbot/internal/audit"
	"logbot/internal/config"
	"logbot/internal/digest"
	"logbot/internal/eventbus"
	"logbot/internal/observability/pprof"
	rtsup "logbot/internal/runtime/supervisor"
	"logbot/internal/storage"
	kit "logbot/internal/transport"
	"logbot/pkg/botlog"
	"logbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	logs *logx.Service
	root logx.Logger
	log  logx.Logger

	adapter *telegram.Adapter
	bus     eventbus.Bus
	blog    *botlog.Logger
	store   storage.Store // nil when storage is disabled
	auditor *audit.Service
	dig     *digest.Service // nil when the digest is disabled
	prof    *pprof.Service

	directory *Directory
	cmds      *CommandManager

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	log := root.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, root.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	blogCfg, err := facadeConfigOf(cfg.BotLog)
	if err != nil {
		return nil, err
	}
	blog := botlog.New(blogCfg, adapter, bus)

	store, err := storage.Open(storageConfigOf(cfg.Storage), root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	auditor := audit.New(store, bus, root.With(logx.String("comp", "audit")))

	var dig *digest.Service
	if cfg.Digest != nil && cfg.Digest.Enabled {
		dcfg, derr := digestConfigOf(*cfg.Digest)
		if derr != nil {
			return nil, derr
		}
		dig, err = digest.New(dcfg, blog, store, root.With(logx.String("comp", "digest")))
		if err != nil {
			return nil, err
		}
	}

	profCfg, err := pprofConfigOf(cfg.Pprof)
	if err != nil {
		return nil, err
	}
	prof := pprof.New(profCfg, root.With(logx.String("comp", "pprof")))

	directory := NewDirectory(0)
	serv := &Services{Store: store, Digest: dig, Directory: directory}
	cmds := NewCommandManager(root.With(logx.String("comp", "commands")),
		adapter, blog, serv, cfg.Telegram.OwnerUserIDs)

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		logs:      logs,
		root:      root,
		log:       log,
		adapter:   adapter,
		bus:       bus,
		blog:      blog,
		store:     store,
		auditor:   auditor,
		dig:       dig,
		prof:      prof,
		directory: directory,
		cmds:      cmds,
		updates:   make(chan kit.Update, 256),
	}, nil
}

// Blog exposes the facade for embedding hosts.
func (a *App) Blog() *botlog.Logger { return a.blog }

// Done is closed when the supervisor context ends (fatal error or Stop).
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.auditor.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.dig != nil {
		if err := a.dig.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	a.prof.Start(a.sup.Context())

	a.sup.Go("commands.pool", a.cmds.Run)
	a.sup.Go("updates.pump", a.runPump)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// reloadLoop applies validated config updates: logging and pprof settings
// live, owner lists live; facade, storage, digest and adapter wiring need a
// restart and only produce a notice.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest pending config.
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
			changed, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(changed) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File:    logx.FileConfig{Enabled: newCfg.Logging.File.Enabled, Path: newCfg.Logging.File.Path},
			})

			if profCfg, err := pprofConfigOf(newCfg.Pprof); err == nil {
				a.prof.Reconfigure(ctx, profCfg)
			} else {
				// The validator admits only parseable configs; keep the old one anyway.
				a.log.Warn("pprof config rejected", logx.Err(err))
			}

			a.cmds.SetOwners(newCfg.Telegram.OwnerUserIDs)

			for _, section := range changed {
				switch section {
				case "telegram", "botlog", "storage", "digest":
					a.log.Warn("config section changed, restart required to apply",
						logx.String("section", section))
				}
			}

			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)...)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step runs one shutdown phase with an upper bound so a single
	// component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached, continuing",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			// Leak signal: observe when the step eventually finishes.
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline",
						logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				} else {
					a.log.Info("stop step finished after deadline",
						logx.String("name", name), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	// Order: stop producing log traffic, then flush the facade, then tear
	// down the transport and the consumers behind it.
	if a.dig != nil {
		step("digest", 2*time.Second, a.dig.Stop)
	}
	step("botlog", 3*time.Second, func(context.Context) error { return a.blog.Close() })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("audit", 2*time.Second, a.auditor.Stop)
	step("pprof", 2*time.Second, func(c context.Context) error { a.prof.Stop(c); return nil })
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	}
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// validateConfig is the reload gate: a config that fails here is rejected
// before commit, keeping the last good one live.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := facadeConfigOf(cfg.BotLog); err != nil {
		return err
	}
	evCh, err := kit.ParseChannel(cfg.Events.Channel)
	if err != nil {
		return fmt.Errorf("events.channel: %w", err)
	}
	if len(cfg.Events.Forward) > 0 {
		defCh, _ := kit.ParseChannel(cfg.BotLog.Channel)
		if evCh.IsZero() && defCh.IsZero() {
			return errors.New("events.forward requires events.channel or botlog.channel")
		}
	}
	if cfg.Digest != nil && cfg.Digest.Enabled {
		if err := digest.ValidateSchedule(cfg.Digest.Schedule, cfg.Digest.Timezone); err != nil {
			return fmt.Errorf("digest: %w", err)
		}
		if _, err := kit.ParseChannel(cfg.Digest.Channel); err != nil {
			return fmt.Errorf("digest.channel: %w", err)
		}
	}
	if cfg.Storage != nil {
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if _, err := pprofConfigOf(cfg.Pprof); err != nil {
		return err
	}
	return nil
}

// facadeConfigOf maps the file config onto the facade config, parsing the
// channel and duration strings.
func facadeConfigOf(cfg config.BotLogConfig) (botlog.Config, error) {
	ch, err := kit.ParseChannel(cfg.Channel)
	if err != nil {
		return botlog.Config{}, fmt.Errorf("botlog.channel: %w", err)
	}
	drain, err := config.ParseDurationField("botlog.drain_interval", cfg.DrainInterval)
	if err != nil {
		return botlog.Config{}, err
	}
	sendTO, err := config.ParseDurationField("botlog.send_timeout", cfg.SendTimeout)
	if err != nil {
		return botlog.Config{}, err
	}
	if cfg.MaxPending < 0 {
		return botlog.Config{}, errors.New("botlog.max_pending must be >= 0")
	}
	return botlog.Config{
		Name:           "botlog",
		Debug:          cfg.Debug,
		DrainInterval:  drain,
		DefaultChannel: ch,
		Mention:        cfg.Mention,
		MaxPending:     cfg.MaxPending,
		SendTimeout:    sendTO,
	}, nil
}

func storageConfigOf(cfg *config.StorageConfig) storage.Config {
	if cfg == nil {
		return storage.Config{}
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.BusyTimeout)
	if err != nil {
		busy = 0
	}
	return storage.Config{
		Driver:      cfg.Driver,
		Path:        cfg.Path,
		BusyTimeout: busy,
		KeepRecords: cfg.KeepRecords,
	}
}

func digestConfigOf(cfg config.DigestConfig) (digest.Config, error) {
	ch, err := kit.ParseChannel(cfg.Channel)
	if err != nil {
		return digest.Config{}, fmt.Errorf("digest.channel: %w", err)
	}
	return digest.Config{
		Schedule: cfg.Schedule,
		Timezone: cfg.Timezone,
		Channel:  ch,
	}, nil
}

func pprofConfigOf(cfg config.PprofConfig) (pprof.Config, error) {
	rt, err := config.ParseDurationOrDefault("pprof.read_timeout", cfg.ReadTimeout, 5*time.Second)
	if err != nil {
		return pprof.Config{}, err
	}
	// WriteTimeout stays 0 unless set; /profile can legitimately run 30s+.
	wt, err := config.ParseDurationField("pprof.write_timeout", cfg.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("pprof.idle_timeout", cfg.IdleTimeout, time.Minute)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              cfg.Enabled,
		Addr:                 cfg.Addr,
		Prefix:               cfg.Prefix,
		Token:                cfg.Token,
		AllowInsecure:        cfg.AllowInsecure,
		ReadTimeout:          rt,
		WriteTimeout:         wt,
		IdleTimeout:          it,
		MutexProfileFraction: cfg.MutexProfileFraction,
		BlockProfileRate:     cfg.BlockProfileRate,
		MemProfileRate:       cfg.MemProfileRate,
	}, nil
}
