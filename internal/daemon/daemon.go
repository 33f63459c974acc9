// Package daemon implements fluxcap's process lifecycle: pidfile
// management, the metrics HTTP server, and the SIGHUP/SIGTERM/SIGINT
// signal loop described in SPEC_FULL §6.5, generalized from the
// teacher's daemon.go down to fluxcap's single-pipeline process — no
// task manager, no UDS control socket, no Kafka command channel, since
// those are SIP-observability-specific concerns this spec has no
// counterpart for.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/anvilnet/fluxcap/internal/log"
	"github.com/anvilnet/fluxcap/internal/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

// Config wires the daemon to the rest of the process. OnReload is called
// on SIGHUP; OnShutdown is called once, before the pidfile and metrics
// server are torn down, on SIGTERM/SIGINT or a programmatic
// TriggerShutdown.
type Config struct {
	PIDFile string

	MetricsAddr string // empty disables the metrics server
	MetricsPath string

	OnReload   func() error
	OnShutdown func()
}

// Daemon manages fluxcap's process lifecycle.
type Daemon struct {
	cfg Config

	metricsServer *metrics.Server

	ctx    context.Context
	cancel context.CancelFunc

	sigChan      chan os.Signal
	shutdownChan chan struct{}
	stopOnce     sync.Once
}

// New creates a Daemon from cfg.
func New(cfg Config) *Daemon {
	d := &Daemon{cfg: cfg, shutdownChan: make(chan struct{}, 1)}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Context is cancelled once shutdown begins; a background aging
// sweeper (spec §5's AgingBackground mode) selects on it to exit.
func (d *Daemon) Context() context.Context { return d.ctx }

// Start writes the pidfile and starts the metrics server, if configured.
func (d *Daemon) Start() error {
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("daemon: write pidfile: %w", err)
	}

	if d.cfg.MetricsAddr != "" {
		d.metricsServer = metrics.NewServer(d.cfg.MetricsAddr, d.cfg.MetricsPath)
		if err := d.metricsServer.Start(d.ctx); err != nil {
			return fmt.Errorf("daemon: start metrics server: %w", err)
		}
	}

	return nil
}

// Run blocks, handling SIGHUP (reload), SIGTERM/SIGINT (shutdown), and a
// programmatic TriggerShutdown, until shutdown completes.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	logger := log.GetLogger()

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil
			case syscall.SIGHUP:
				logger.Info("received reload signal")
				if d.cfg.OnReload != nil {
					if err := d.cfg.OnReload(); err != nil {
						logger.WithError(err).Error("configuration reload failed, keeping running configuration")
					}
				}
			}
		case <-d.shutdownChan:
			logger.Info("shutdown requested")
			d.Stop()
			return nil
		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// TriggerShutdown requests graceful shutdown from outside the signal
// loop (e.g. an integration test).
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Stop runs OnShutdown, tears down the metrics server, unregisters the
// signal handler, and removes the pidfile. Safe to call more than once:
// only the first call does anything.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	if d.cfg.OnShutdown != nil {
		d.cfg.OnShutdown()
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			log.GetLogger().WithError(err).Error("error stopping metrics server")
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		log.GetLogger().WithError(err).Error("error removing pidfile")
	}
}

func (d *Daemon) writePIDFile() error {
	if d.cfg.PIDFile == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	return os.WriteFile(d.cfg.PIDFile, data, 0644)
}

func (d *Daemon) removePIDFile() error {
	if d.cfg.PIDFile == "" {
		return nil
	}
	if err := os.Remove(d.cfg.PIDFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
