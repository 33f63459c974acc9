package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/anvilnet/fluxcap/internal/capture"
	"github.com/anvilnet/fluxcap/internal/config"
	"github.com/anvilnet/fluxcap/internal/daemon"
	"github.com/anvilnet/fluxcap/internal/decoder"
	"github.com/anvilnet/fluxcap/internal/fluxerr"
	"github.com/anvilnet/fluxcap/internal/flowtable"
	"github.com/anvilnet/fluxcap/internal/fragment"
	"github.com/anvilnet/fluxcap/internal/hosttable"
	"github.com/anvilnet/fluxcap/internal/log"
	"github.com/anvilnet/fluxcap/internal/metrics"
	"github.com/anvilnet/fluxcap/internal/pipeline"
	"github.com/anvilnet/fluxcap/internal/tcptable"
	"github.com/spf13/cobra"
)

// tableBuckets is the bucket count every hash table is built with. Spec
// §4.4/§9 leaves bucket sizing as an implementation detail of the hash
// table, not a config keyword; 1024 matches the teacher's own hard-coded
// default shard count for similarly sized in-memory tables.
const tableBuckets = 1024

const defaultPIDFile = "/var/run/fluxcap.pid"

func runRoot(cmd *cobra.Command, args []string) error {
	if opts.showVer {
		fmt.Printf("fluxcap %s\n", version)
		return nil
	}

	opt, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	if opts.configTest {
		fmt.Printf("%s: configuration OK\n", opts.configFile)
		return nil
	}

	if opts.iface == "" && opts.readFile == "" {
		return fmt.Errorf("%w: one of -i/--interface or -r/--read is required", fluxerr.ErrConfig)
	}

	log.Init(log.Config{Level: mapLogLevel(opt.LogLevel), Pattern: "%time [%level] %field%msg\n", Time: time.RFC3339})
	logger := log.GetLogger()

	if opts.daemonize {
		if err := daemonize(); err != nil {
			return fmt.Errorf("%w: %v", fluxerr.ErrFatal, err)
		}
	}

	source, err := openSource()
	if err != nil {
		return fmt.Errorf("%w: %v", fluxerr.ErrFatal, err)
	}
	defer source.Close()

	met := metrics.New()
	pipelineCfg := buildPipelineConfig(opt, logger, met)
	pl := pipeline.New(pipelineCfg)

	pidFile := ""
	if opts.daemonize {
		pidFile = defaultPIDFile
	}

	d := daemon.New(daemon.Config{
		PIDFile:     pidFile,
		MetricsAddr: ":9273",
		MetricsPath: "/metrics",
		OnReload: func() error {
			reloaded, err := config.Reload(opts.configFile, opt)
			if err != nil {
				return err
			}
			opt = reloaded
			log.Init(log.Config{Level: mapLogLevel(opt.LogLevel), Pattern: "%time [%level] %field%msg\n", Time: time.RFC3339})
			return nil
		},
		OnShutdown: func() {
			pl.Drain()
			source.Close()
		},
	})

	if err := d.Start(); err != nil {
		return fmt.Errorf("%w: %v", fluxerr.ErrFatal, err)
	}

	if pipelineCfg.Aging == pipeline.AgingBackground {
		go pl.RunSweeper(d.Context())
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()

	for {
		data, _, err := source.ReadPacket()
		if errors.Is(err, io.EOF) {
			d.TriggerShutdown()
			break
		}
		if err != nil {
			logger.WithError(err).Error("capture read failed")
			d.TriggerShutdown()
			<-runErr
			return fmt.Errorf("%w: %v", fluxerr.ErrFatal, err)
		}

		if err := pl.Process(data); err != nil {
			logger.WithError(err).Error("pipeline processing failed")
			d.TriggerShutdown()
			<-runErr
			return fmt.Errorf("%w: %v", fluxerr.ErrFatal, err)
		}
	}

	return <-runErr
}

func openSource() (capture.Source, error) {
	if opts.iface != "" {
		return capture.NewLiveSource(capture.LiveConfig{Interface: opts.iface})
	}
	return capture.NewFileSource(opts.readFile)
}

func buildPipelineConfig(opt config.Options, logger log.Logger, met *metrics.Metrics) pipeline.Config {
	now := time.Now
	return pipeline.Config{
		Tunnel: decoder.TunnelConfig{VXLAN: true, GRE: true, Geneve: true, IPIP: true},

		Flow: flowtable.Config{Buckets: tableBuckets, AgeLimit: seconds(opt.FlowAgeLimitSec), Now: now},
		Host: hosttable.Config{Buckets: tableBuckets, AgeLimit: seconds(opt.HostAgeLimitSec), Now: now},
		Frag: fragment.Config{Buckets: tableBuckets, AgeLimit: seconds(opt.FragAgeLimitSec), Model: fragment.Model(opt.FragModel), Now: now},
		TCP:  tcptable.Config{Buckets: tableBuckets, AgeLimit: seconds(opt.TCPAgeLimitSec), Now: now},

		FlowMaxMem: uint64(opt.FlowMaxMem),
		HostMaxMem: uint64(opt.HostMaxMem),
		FragMaxMem: uint64(opt.FragMaxMem),
		TCPMaxMem:  uint64(opt.TCPMaxMem),

		Aging: mapAgingMode(opt.AgingMode),

		Logger:  logger,
		Metrics: met,
	}
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

func mapAgingMode(mode string) pipeline.AgingMode {
	if mode == "background" {
		return pipeline.AgingBackground
	}
	return pipeline.AgingInline
}

// mapLogLevel maps spec.md §6's syslog-style LogLevel keyword onto a
// logrus level name; EMERG/ALERT/CRIT/ERR collapse onto logrus's error
// level since logrus has no finer-grained equivalent below fatal/panic.
func mapLogLevel(level string) string {
	switch level {
	case "EMERG", "ALERT", "CRIT", "ERR":
		return "error"
	case "WARNING":
		return "warn"
	case "NOTICE", "INFO":
		return "info"
	case "DEBUG":
		return "debug"
	default:
		return "info"
	}
}
