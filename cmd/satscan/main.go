package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/satscan/internal/api"
	"github.com/zsiec/satscan/internal/config"
	"github.com/zsiec/satscan/internal/logging"
	"github.com/zsiec/satscan/internal/metrics"
	"github.com/zsiec/satscan/internal/rtsp"
	"github.com/zsiec/satscan/internal/scan"
	"github.com/zsiec/satscan/internal/tuner"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "satscan.yaml", "path to the YAML configuration")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	tsPath := flag.String("ts", "", "report the channels of a recorded transport stream and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if *tsPath != "" {
		slog.SetDefault(logging.New(os.Stderr, envLevel(), envOr(config.EnvLogFormat, "text")))
		n, err := scanFile(ctx, *tsPath, newSink(os.Stdout))
		if err != nil {
			slog.Error("reading transport stream failed", "error", err)
			os.Exit(1)
		}
		slog.Info("transport stream scanned", "path", *tsPath, "channels", n)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	a := &app{
		cfg:     cfg,
		log:     log,
		mgr:     tuner.NewManager(log),
		metrics: metrics.New(),
		out:     newSink(os.Stdout),
	}

	log.Info("satscan starting",
		"version", version,
		"tuners", len(cfg.Tuners),
		"entries", len(cfg.Tuning),
		"api", cfg.Metrics.Addr,
	)

	g, ctx := errgroup.WithContext(ctx)
	scansDone := make(chan struct{})

	g.Go(func() error {
		defer close(scansDone)
		return a.scanAll(ctx)
	})

	if cfg.Metrics.Addr != "" {
		apiSrv := &http.Server{
			Addr: cfg.Metrics.Addr,
			Handler: api.NewHandler(api.Config{
				Scans:    a.mgr,
				Channels: a.out.list,
				Metrics:  a.metrics.Handler(),
				Logger:   log,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			log.Info("status API listening", "addr", cfg.Metrics.Addr)
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			select {
			case <-ctx.Done():
			case <-scansDone:
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			return apiSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("scan failed", "error", err)
		os.Exit(1)
	}
	log.Info("satscan finished", "channels", len(a.out.list()))
}

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	mgr     *tuner.Manager
	metrics *metrics.Metrics
	out     *sink
	active  atomic.Int32
}

// scanAll scans every configured tuner concurrently. A failing tuner
// does not stop the others.
func (a *app) scanAll(ctx context.Context) error {
	var g errgroup.Group
	for _, t := range a.cfg.Tuners {
		t := t
		g.Go(func() error {
			err := a.scanTuner(ctx, t)
			if errors.Is(err, scan.ErrCancelled) || errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("tuner %s: %w", t.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *app) scanTuner(ctx context.Context, t config.Tuner) error {
	entries, err := a.cfg.Entries(t)
	if err != nil {
		return err
	}
	mode, err := rtsp.ParseMode(t.Mode)
	if err != nil {
		return err
	}

	lease, ok := a.mgr.Acquire(t.Name, net.JoinHostPort(t.Address, strconv.Itoa(t.Port)))
	if !ok {
		return scan.ErrBusy
	}
	defer a.mgr.Release(lease.ID)

	log := a.log.With("tuner", t.Name, "scan", lease.ID)

	var sc *scan.Scanner
	client := rtsp.NewClient(t.Address, rtsp.Options{
		Port:           t.Port,
		RequestTimeout: a.cfg.Timeouts.Request.Std(),
		Interface:      t.Interface,
		OnSignal:       func(info rtsp.SignalInfo) { sc.HandleSignal(info) },
		OnResponse:     a.metrics.ObserveRTSP,
		Logger:         log,
	})

	sc = scan.New(client, scan.Options{
		Mode:         mode,
		TableTimeout: a.cfg.Timeouts.Table.Std(),
		SettleDelay:  a.cfg.Timeouts.Settle.Std(),
		Logger:       log,
		OnChannel: func(ch scan.Channel) {
			a.metrics.IncChannels(t.Name)
			if err := a.out.emit(t.Name, ch); err != nil {
				log.Error("writing channel failed", "error", err)
			}
		},
		OnSignal: func(info rtsp.SignalInfo) {
			a.metrics.SetSignal(t.Name, info)
		},
		OnState: func(st scan.State) {
			log.Debug("scan state", "state", st)
		},
		OnProgress: func(p int) {
			log.Debug("scan progress", "percent", p)
		},
		OnError: func(err error) {
			log.Warn("entry failed", "error", err)
		},
		OnBusy: func(busy bool) {
			if busy {
				a.metrics.SetActiveScans(int(a.active.Add(1)))
			} else {
				a.metrics.SetActiveScans(int(a.active.Add(-1)))
			}
		},
		OnTable: a.metrics.ObserveTable,
		OnEntry: func(index int, locked bool, channels int) {
			a.metrics.ObserveEntry(locked)
			log.Info("entry scanned",
				"entry", index,
				"query", entries[index].String(),
				"locked", locked,
				"channels", channels,
			)
		},
	})
	lease.Attach(sc)

	return sc.Run(ctx, entries)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envLevel() string {
	if os.Getenv(config.EnvDebug) != "" {
		return "debug"
	}
	return envOr(config.EnvLogLevel, "info")
}
