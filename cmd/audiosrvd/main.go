// Command audiosrvd runs the audio routing and Bluetooth policy daemon:
// device list, Bluetooth registry, connection-watch/profile-switch/suspend
// policy engine, and a Prometheus metrics endpoint, started and supervised
// as a systemd unit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaban/audiosrvd/internal/btpolicy"
	"github.com/shaban/audiosrvd/internal/btreg"
	"github.com/shaban/audiosrvd/internal/btreg/collab"
	"github.com/shaban/audiosrvd/internal/btreg/dbusbus"
	"github.com/shaban/audiosrvd/internal/config"
	"github.com/shaban/audiosrvd/internal/devlist"
	"github.com/shaban/audiosrvd/internal/errs"
	"github.com/shaban/audiosrvd/internal/iodev"
	"github.com/shaban/audiosrvd/internal/logging"
	"github.com/shaban/audiosrvd/internal/mainbus"
	"github.com/shaban/audiosrvd/internal/timer"
)

func main() {
	configPath := flag.String("config", "/etc/audiosrvd.toml", "path to the TOML config file")
	flag.Parse()

	if _, notifying := os.LookupEnv("NOTIFY_SOCKET"); notifying {
		logging.UseJournal()
	}
	log := logging.For("main")

	cfg := config.Default()
	if loaded, err := config.Load(*configPath); err != nil {
		log.Warn("using built-in config defaults", "path", *configPath, "err", err)
	} else {
		cfg = loaded
	}
	applyLogLevel(cfg.LogLevel)
	iodev.SetDefaultBufferSize(cfg.BufferSizeFrames)

	mb := mainbus.New(64)

	bus, err := dbusbus.Connect(mb)
	if err != nil {
		log.Error("failed to connect to the system bus", "err", err)
		os.Exit(1)
	}
	defer bus.Close()

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.Error("failed to open a raw system bus connection for media transports", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	a2dp := collab.NewA2DP(conn, mb)
	hfpAG := collab.NewHFPAG(conn, mb)

	devices := devlist.New()
	registry := btreg.New(bus, a2dp, hfpAG)

	tm := timer.New()
	tm.Start()
	defer tm.Stop()

	engine := btpolicy.New(tm, mb, devices, registry, a2dp, hfpAG)
	engine.SetConnWatchPeriod(time.Duration(cfg.ConnWatchPeriodMS) * time.Millisecond)
	engine.SetConnWatchMaxRetries(cfg.ConnWatchMaxRetries)
	engine.SetProfileSwitchDelay(time.Duration(cfg.ProfileSwitchDelayMS) * time.Millisecond)
	defer engine.Shutdown()

	watcher := config.NewWatcher(*configPath)
	watcher.OnReload(func(c config.Config) {
		applyLogLevel(c.LogLevel)
		log.Info("config reloaded", "log_level", c.LogLevel)
	})
	if err := watcher.Start(); err != nil {
		log.Warn("config file watch disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	errHandler := errs.NewLoggingHandler(errs.NewDefaultHandler("main"), nil)

	metricsSrv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errHandler.HandleError(fmt.Errorf("metrics server stopped: %w", err))
		}
	}()
	defer metricsSrv.Close()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify READY failed", "err", err)
	} else if ok {
		log.Info("reported ready to systemd")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")
}

func applyLogLevel(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q, keeping current\n", level)
		return
	}
	logging.SetLevel(l)
}
