package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/print-queue/internal/archive"
	"github.com/MimeLyc/print-queue/internal/config"
	"github.com/MimeLyc/print-queue/internal/device"
	"github.com/MimeLyc/print-queue/internal/httpapi"
	"github.com/MimeLyc/print-queue/internal/jobs"
	"github.com/MimeLyc/print-queue/internal/monitor"
	"github.com/MimeLyc/print-queue/internal/persistence"
	"github.com/MimeLyc/print-queue/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type printLoop interface {
	Start(ctx context.Context)
	Stop(timeout time.Duration) error
}

type archiveFlusher interface {
	RunOnce(ctx context.Context) (int, error)
}

type printerConn interface {
	Disconnect() error
}

// components are the long-running parts of the service. archive and
// scheduler are nil when the archive is disabled.
type components struct {
	scheduler scheduler
	cron      cronEngine
	http      httpServer
	monitor   printLoop
	archive   archiveFlusher
	printer   printerConn
}

func main() {
	log.InitLogger(log.ParseLevel(os.Getenv("LOG_LEVEL")))
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn("Failed to load .env: %v", err)
	}

	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	saved, err := config.LoadRuntimeSettingsFile(settingsPath)
	switch {
	case err == nil:
		opts = append(opts, config.WithRuntimeSettings(saved))
	case !errors.Is(err, fs.ErrNotExist):
		log.Warn("Ignoring runtime settings file %s: %v", settingsPath, err)
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.GetLogger().SetLevel(log.ParseLevel(cfg.System.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := persistence.NewFileStore(cfg.QueueDataFile())
	if err != nil {
		log.Fatal("Failed to open queue store: %v", err)
	}
	queue := jobs.NewQueue(store)

	ctrl := device.NewController(device.NewSimulator(cfg.SimPrintDuration()))
	if err := ctrl.Connect(ctx); err != nil {
		log.Warn("Printer not connected at startup, monitor will retry: %v", err)
	}

	mon := monitor.New(queue, ctrl, monitor.WithInterval(cfg.Monitor.Interval()))
	cronEngine := cron.New()

	c := components{
		cron:    cronEngine,
		monitor: mon,
		printer: ctrl,
	}
	serverOpts := []httpapi.Option{httpapi.WithMonitor(mon)}

	var mirror *archive.Mirror
	if cfg.Archive.Enabled {
		db, err := persistence.NewSQLiteArchive(cfg.DBPath())
		if err != nil {
			log.Error("Archive disabled, failed to open %s: %v", cfg.DBPath(), err)
		} else {
			defer db.Close()
			mirror = archive.NewMirror(queue, db, cronEngine, cfg.Archive.CronExpr)
			c.scheduler = mirror
			c.archive = mirror
			serverOpts = append(serverOpts, httpapi.WithHistory(db, mirror))
		}
	}

	settingsStore, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		log.Warn("Runtime settings disabled: %v", err)
	} else {
		serverOpts = append(serverOpts,
			httpapi.WithRuntimeSettingsStore(settingsStore),
			httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
				if err := mon.SetInterval(time.Duration(next.MonitorIntervalSeconds) * time.Second); err != nil {
					return err
				}
				if mirror != nil {
					return mirror.Reschedule(ctx, next.ArchiveCron)
				}
				return nil
			}),
		)
	}
	c.http = httpapi.NewServer(queue, ctrl, serverOpts...)

	if err := runWithComponents(ctx, cfg, c); err != nil {
		log.Fatal("Service exited: %v", err)
	}
}

// runWithComponents runs the service until ctx is cancelled or the HTTP
// server fails, then shuts everything down in dependency order.
func runWithComponents(ctx context.Context, cfg *config.Config, c components) error {
	if c.scheduler != nil {
		if err := c.scheduler.Schedule(ctx); err != nil {
			return err
		}
	}
	c.cron.Start()
	c.monitor.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		err := c.http.ListenAndServe(cfg.HTTP.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdown(context.WithoutCancel(ctx), cfg, c)
		return nil
	})
	return g.Wait()
}

func shutdown(ctx context.Context, cfg *config.Config, c components) {
	if err := c.monitor.Stop(cfg.Monitor.StopTimeout()); err != nil {
		log.Warn("Monitor stop: %v", err)
	}

	select {
	case <-c.cron.Stop().Done():
	case <-time.After(shutdownTimeout):
		log.Warn("Cron jobs still running after %s", shutdownTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if c.archive != nil {
		if n, err := c.archive.RunOnce(ctx); err != nil {
			log.Error("Final archive flush failed: %v", err)
		} else if n > 0 {
			log.Info("Flushed %d archived job(s) on shutdown", n)
		}
	}
	if err := c.printer.Disconnect(); err != nil {
		log.Warn("Printer disconnect: %v", err)
	}
	if err := c.http.Shutdown(ctx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}
}
