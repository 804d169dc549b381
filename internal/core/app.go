package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"slotwatch/internal/adapters/telegram"
	"slotwatch/internal/config"
	"slotwatch/internal/dispatch"
	"slotwatch/internal/provider"
	"slotwatch/internal/registry"
	"slotwatch/internal/services/broadcastws"
	"slotwatch/internal/services/logging"
	"slotwatch/internal/storage"
	"slotwatch/internal/transport"
	"slotwatch/internal/watcher"
	logx "slotwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  *slog.Logger
	logs *logging.Service

	adapter *telegram.Adapter
	store   storage.Store
	reg     *registry.Registry
	client  provider.Client
	hub     *broadcastws.Hub
	disp    *dispatch.Dispatcher
	watch   *watcher.Watcher
	cmdm    *CommandManager

	updates chan transport.Update
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := slog.New(slog.NewTextHandler(logging.Stdout(), &slog.HandlerOptions{Level: slog.LevelInfo})).
		With(slog.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logging.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logging.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, ad)
	log = log.With(slog.String("comp", "app"))

	if chatID := parseChatID(cfg.Telegram.GroupLog); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}

	// The storage and config layers log through the zerolog wrapper.
	xlog := logx.NewConsole(cfg.Logging.Level)
	cfgm.SetLogger(xlog.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		URI:         cfg.Storage.URI,
		Database:    cfg.Storage.Database,
		BusyTimeout: busyTimeout,
	}, xlog.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	reg := registry.New(store, xlog.With(logx.String("comp", "registry")))
	if err := reg.Load(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	provTimeout, err := config.ParseDurationOrDefault("provider.timeout", cfg.Provider.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	client, err := provider.NewHTTPClient(provider.HTTPConfig{
		BaseURL:    cfg.Provider.BaseURL,
		Timeout:    provTimeout,
		RatePerSec: cfg.Provider.RatePerSec,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var hub *broadcastws.Hub
	var caster dispatch.Broadcaster
	if cfg.Broadcast.Enabled {
		hub = broadcastws.New(broadcastws.Config{
			Addr:       cfg.Broadcast.Addr,
			Path:       cfg.Broadcast.Path,
			RatePerSec: cfg.Broadcast.RatePerSec,
		}, xlog.With(logx.String("comp", "broadcast")))
		caster = hub
	}

	disp := dispatch.New(ad, caster, xlog.With(logx.String("comp", "dispatch")))
	disp.SetReannounce(cfg.Watcher.Reannounce)

	interval, err := config.ParseDurationOrDefault("watcher.interval", cfg.Watcher.Interval, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := config.ParseDurationOrDefault("watcher.fetch_timeout", cfg.Watcher.FetchTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	w := watcher.New(watcher.Config{
		Enabled:      cfg.Watcher.Enabled,
		Interval:     interval,
		FetchTimeout: fetchTimeout,
		MaxInFlight:  cfg.Watcher.MaxInFlight,
	}, reg, client, disp, log.With(slog.String("comp", "watcher")))

	cmdm := NewCommandManager(log.With(slog.String("comp", "commands")),
		ad, cfgm, cfg.Telegram.OwnerUserIDs)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   store,
		reg:     reg,
		client:  client,
		hub:     hub,
		disp:    disp,
		watch:   w,
		cmdm:    cmdm,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Accessors used by the command wiring in main.
func (a *App) Registry() *registry.Registry     { return a.reg }
func (a *App) Watcher() *watcher.Watcher        { return a.watch }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }
func (a *App) Logger() *slog.Logger             { return a.log }

// SetCommands installs the bot command table. Call before Start.
func (a *App) SetCommands(cmds []Command) { a.cmdm.SetRegistry(cmds) }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.hub != nil {
		a.sup.Go("broadcast.serve", func(c context.Context) error {
			return a.hub.Start(c)
		})
	}

	if err := a.watch.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// Publish the command menu; purely cosmetic, failures are logged only.
	if menu := a.cmdm.MenuCommands(); len(menu) > 0 {
		mctx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
		if err := a.adapter.UpdateMenuCommands(mctx, menu); err != nil {
			a.log.Warn("command menu update failed", slog.Any("err", err))
		}
		cancel()
	}

	// hot reload config fan-out
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
				// Coalesce bursts: keep only the latest config.
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
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies the reloadable subset of a new config: log sinks,
// owner list, and broadcast re-announcement. Structural settings (storage
// driver, watcher cadence, listen addresses) need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logging.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logging.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logging.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	})
	a.logs.SetTelegramTarget(parseChatID(cfg.Telegram.GroupLog), cfg.Logging.Telegram.ThreadID)
	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.disp.SetReannounce(cfg.Watcher.Reannounce)
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", slog.String("reason", string(reason)))

	// Cancel the run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
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
				a.log.Warn("stop step error", slog.String("name", name), slog.String("err", err.Error()))
			}
			a.log.Debug("stop step end", slog.String("name", name), slog.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				slog.String("name", name),
				slog.Duration("elapsed", time.Since(start)))
		}
	}

	step("watcher", 5*time.Second, func(c context.Context) error { return a.watch.Stop(c) })
	if a.hub != nil {
		step("broadcast", 2*time.Second, func(c context.Context) error { return a.hub.Stop(c) })
	}
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 2*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.logs.Close()
	a.log.Info("stopped")
	return nil
}

func parseChatID(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
