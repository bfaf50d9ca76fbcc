// Package app wires configuration, logging, the sheet fetcher, the Telegram
// notifier, the watermark store and the watch loop into one process.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"sheetwatch/internal/config"
	"sheetwatch/internal/expense"
	"sheetwatch/internal/notify"
	"sheetwatch/internal/sheet"
	"sheetwatch/internal/state"
	"sheetwatch/internal/watcher"
	logx "sheetwatch/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    state.Store
	notifier *notify.Telegram
	watch    *watcher.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads and validates the config and constructs every component.
// Any error here is fatal; the loop must not start on a broken config.
func New(ctx context.Context, cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	spec, err := watcher.ParseSchedule(cfg.Schedule())
	if err != nil {
		return nil, fmt.Errorf("watch.schedule: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || (!cfg.Logging.File.Enabled),
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	sendTimeout, _ := config.DurationOr("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	notifier, err := notify.NewTelegram(notify.TelegramConfig{
		Token:       cfg.Telegram.Token,
		ChatID:      cfg.Telegram.ChatID,
		ThreadID:    cfg.Telegram.ThreadID,
		SendTimeout: sendTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	fetchTimeout, _ := config.DurationOr("sheets.fetch_timeout", cfg.Sheets.FetchTimeout, 30*time.Second)
	fetcher, err := sheet.NewGoogleFetcher(ctx, sheet.GoogleConfig{
		SpreadsheetID:   cfg.Sheets.SpreadsheetID,
		Range:           cfg.SheetRange(),
		CredentialsFile: cfg.CredentialsFile(),
		FetchTimeout:    fetchTimeout,
	}, log.With(logx.String("comp", "sheets")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	stateCfg := state.Config{Path: cfg.StatePath()}
	if cfg.State != nil {
		stateCfg.Driver = cfg.State.Driver
		busy, _ := config.DurationField("state.busy_timeout", cfg.State.BusyTimeout)
		stateCfg.BusyTimeout = busy
	}
	store, err := state.Open(stateCfg, log.With(logx.String("comp", "state")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}

	format := expense.NewFormatter(expense.DefaultSchema(), cfg.Currency())
	watch := watcher.New(fetcher, notifier, store, format, spec, watcher.Options{
		HeaderRows:     cfg.Watch.HeaderRows,
		SeedOnFirstRun: cfg.SeedOnFirstRun(),
		ChatID:         cfg.Telegram.ChatID,
	}, log.With(logx.String("comp", "watcher")))

	// Hot reload accepts a new config only if it still passes the startup
	// gates and its schedule parses.
	mgr.SetValidator(func(ctx context.Context, c *config.Config) error {
		if err := config.Validate(c); err != nil {
			return err
		}
		_, err := watcher.ParseSchedule(c.Schedule())
		return err
	})

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		notifier: notifier,
		watch:    watch,
	}, nil
}

// Start primes the watermark, announces the watcher, and launches the watch
// loop plus the config hot-reload watcher.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	wm, err := a.watch.Prime(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("prime watermark: %w", err)
	}
	a.log.Info("starting", logx.Int64("watermark", wm))

	cfg := a.cfgMgr.Get()
	if cfg != nil && cfg.StartupNotice() {
		if err := a.notifier.Send(runCtx, startupNotice(cfg, wm)); err != nil {
			// Non-fatal: the chat may be briefly unreachable; the loop will
			// still deliver row notifications.
			a.log.Warn("startup notice failed", logx.Err(err))
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watch.Run(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()

	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(next)
			}
		}
	}()

	// Under systemd (Type=notify) this flips the unit to active; elsewhere
	// it is a no-op.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify: ready")
	}

	return nil
}

// applyReload applies the reloadable subset of the config: log level/sinks
// and the poll schedule. Credentials, chat and spreadsheet changes still
// require a restart.
func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || (!cfg.Logging.File.Enabled),
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	if spec, err := watcher.ParseSchedule(cfg.Schedule()); err == nil {
		if cur := a.watch.Schedule(); cur.Cron != spec.Cron || cur.Every != spec.Every {
			a.watch.SetSchedule(spec)
		}
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out waiting for loop")
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("stopped")
	return a.logSvc.Close()
}

// startupNotice mirrors the message the watcher has always announced itself
// with when it comes online.
func startupNotice(cfg *config.Config, watermark int64) string {
	var b strings.Builder
	b.WriteString("🤖 <b>Sheetwatch đã khởi động</b>\n\n")
	b.WriteString("📊 Đang theo dõi Google Sheets\n")
	b.WriteString("⏱️ Lịch kiểm tra: ")
	b.WriteString(cfg.Schedule())
	b.WriteString("\n📝 Dòng hiện tại: ")
	b.WriteString(strconv.FormatInt(watermark, 10))
	b.WriteString("\n🕐 Thời gian khởi động: ")
	b.WriteString(time.Now().Format("02/01/2006 15:04:05"))
	return b.String()
}
