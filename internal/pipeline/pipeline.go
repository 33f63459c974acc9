// Package pipeline implements the per-packet driver described in spec
// §2/§4.9: decode → defrag → TCP-track → flow record → host record (×2),
// then, in AgingInline mode, a sweep of every aging table; AgingBackground
// mode hands that sweep to RunSweeper instead. It owns the four tables
// (fragment, TCP session, flow, host) as explicit fields rather than the
// package-level globals spec §9 calls out for re-architecture.
package pipeline

import (
	"context"
	"time"

	"github.com/anvilnet/fluxcap/internal/decoder"
	"github.com/anvilnet/fluxcap/internal/fluxerr"
	"github.com/anvilnet/fluxcap/internal/flowtable"
	"github.com/anvilnet/fluxcap/internal/fragment"
	"github.com/anvilnet/fluxcap/internal/hosttable"
	"github.com/anvilnet/fluxcap/internal/log"
	"github.com/anvilnet/fluxcap/internal/memcap"
	"github.com/anvilnet/fluxcap/internal/pkt"
	"github.com/anvilnet/fluxcap/internal/tcptable"
)

// AgingMode selects how the pipeline's four aging tables expire stale
// entries, per spec §5.
type AgingMode int

const (
	// AgingInline sweeps every table after each packet, single-threaded.
	AgingInline AgingMode = iota
	// AgingBackground skips the inline sweep; the caller must run
	// RunSweeper in its own goroutine instead, per spec §5's
	// background-sweeper concurrency model.
	AgingBackground
)

// Config configures a Pipeline. Each table gets its own memcap budget,
// per spec §3's "each table owns its own memcap".
type Config struct {
	Tunnel decoder.TunnelConfig

	Flow flowtable.Config
	Host hosttable.Config
	Frag fragment.Config
	TCP  tcptable.Config

	FlowMaxMem uint64
	HostMaxMem uint64
	FragMaxMem uint64
	TCPMaxMem  uint64

	Aging AgingMode

	Logger  log.Logger
	Metrics Counters
}

// Counters is the subset of internal/metrics that the pipeline drives
// directly; kept as a narrow interface so pipeline does not depend on
// the concrete Prometheus types.
type Counters interface {
	PacketAccepted()
	PacketRejected(reason error)
	ObservePipelineLatency(d time.Duration)
	SetTableSize(table string, n int)
}

// Pipeline wires the decode→defrag→track→record stages together.
type Pipeline struct {
	decoder *decoder.Decoder
	frag    *fragment.Reassembler
	flow    *flowtable.Table
	host    *hosttable.Table
	tcp     *tcptable.Table

	aging   AgingMode
	log     log.Logger
	metrics Counters
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Pipeline{
		decoder: decoder.New(cfg.Tunnel),
		frag:    fragment.New(cfg.Frag, memcap.New(cfg.FragMaxMem)),
		flow:    flowtable.New(cfg.Flow, memcap.New(cfg.FlowMaxMem)),
		host:    hosttable.New(cfg.Host, memcap.New(cfg.HostMaxMem)),
		tcp:     tcptable.New(cfg.TCP, memcap.New(cfg.TCPMaxMem)),
		aging:   cfg.Aging,
		log:     logger,
		metrics: cfg.Metrics,
	}
}

// Process runs one captured frame through the full pipeline. It never
// returns an error for an ordinary rejected/dropped packet: rejection is
// counted (§7's MalformedPacket/FragmentOverlap/AllocBudgetExceeded classes) and
// Process returns nil so the capture loop keeps reading. A non-nil
// return means a fluxerr.ErrFatal condition the caller should treat as
// unrecoverable.
func (pl *Pipeline) Process(data []byte) error {
	start := time.Now()
	defer func() {
		if pl.metrics != nil {
			pl.metrics.ObservePipelineLatency(time.Since(start))
		}
	}()

	p, err := pl.decoder.Decode(data)
	if err != nil {
		pl.reject(err)
		return nil
	}

	p, err = pl.defrag(p)
	if err != nil {
		pl.reject(err)
		return nil
	}
	if p == nil {
		// Fragment absorbed into its bucket; nothing more to record yet.
		pl.accept()
		return nil
	}

	if p.Protocol() == pkt.ProtocolTCP {
		session, accepted := pl.tcp.Track(p)
		switch {
		case session == nil:
			pl.reject(fluxerr.ErrAllocBudgetExceeded)
		case !accepted:
			pl.log.Debug("tcp segment rejected by state tracker")
		}
	}

	if flow, _ := pl.flow.Track(p); flow == nil {
		pl.reject(fluxerr.ErrAllocBudgetExceeded)
	}

	if src, dst := pl.host.Track(p); src == nil || dst == nil {
		pl.reject(fluxerr.ErrAllocBudgetExceeded)
	}

	pl.accept()

	if pl.aging == AgingInline {
		now := time.Now()
		pl.frag.Sweep(now)
		pl.tcp.Sweep(now)
		pl.flow.Sweep(now)
		pl.host.Sweep(now)
	}

	pl.reportSizes()

	return nil
}

// defrag absorbs an IP fragment into the reassembler and, once a
// datagram completes, rebuilds the final Packet from the reassembled
// transport header. Non-fragment packets pass through unchanged. A nil,
// nil result means the fragment was absorbed and nothing is ready yet.
func (pl *Pipeline) defrag(p pkt.Packet) (pkt.Packet, error) {
	if !p.IsFragment() {
		return p, nil
	}

	fi, ok := p.(decoder.FragmentInfo)
	if !ok {
		return nil, fluxerr.ErrMalformedPacket
	}

	key := fragment.Key{
		Src:      p.SrcAddr(),
		Dst:      p.DstAddr(),
		ID:       fi.FragID(),
		Protocol: p.Protocol(),
	}
	piece := fragment.Piece{Offset: fi.FragOffset(), Payload: p.Payload()}

	reassembled, complete, err := pl.frag.Insert(key, p.Version(), piece, fi.MoreFragments())
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, nil
	}

	return decoder.DecodeReassembled(p.Version(), p.Protocol(), p.SrcAddr(), p.DstAddr(), reassembled)
}

func (pl *Pipeline) accept() {
	if pl.metrics != nil {
		pl.metrics.PacketAccepted()
	}
}

func (pl *Pipeline) reject(err error) {
	pl.log.WithError(err).Debug("packet rejected")
	if pl.metrics != nil {
		pl.metrics.PacketRejected(err)
	}
}

func (pl *Pipeline) reportSizes() {
	if pl.metrics == nil {
		return
	}
	pl.metrics.SetTableSize("fragment", pl.frag.Len())
	pl.metrics.SetTableSize("tcp_session", pl.tcp.Len())
	pl.metrics.SetTableSize("flow", pl.flow.Len())
	pl.metrics.SetTableSize("host", pl.host.Len())
}

// Drain tears down every table, for use during graceful shutdown.
func (pl *Pipeline) Drain() {
	pl.frag.Drain()
	pl.tcp.Drain()
	pl.flow.Drain()
	pl.host.Drain()
}

// backgroundFallbackTick bounds how long RunSweeper waits when no table has
// a pending deadline, so a newly emptied pipeline still wakes up to notice
// entries added after it went idle.
const backgroundFallbackTick = time.Second

// RunSweeper is the AgingBackground mode's sweeper goroutine (spec §5): it
// wakes at the earliest of the four tables' next deadlines, sweeps all
// four, and reschedules, until ctx is cancelled. The Pipeline must be
// constructed with Aging: AgingBackground so Process does not also sweep
// inline; callers run this in its own goroutine, selecting on the same
// context.Context the rest of the process shuts down on.
func (pl *Pipeline) RunSweeper(ctx context.Context) {
	timer := time.NewTimer(pl.nextSweepDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			now := time.Now()
			pl.frag.Sweep(now)
			pl.tcp.Sweep(now)
			pl.flow.Sweep(now)
			pl.host.Sweep(now)
			pl.reportSizes()
			timer.Reset(pl.nextSweepDelay())
		}
	}
}

func (pl *Pipeline) nextSweepDelay() time.Duration {
	deadline, ok := pl.earliestDeadline()
	if !ok {
		return backgroundFallbackTick
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return 0
}

func (pl *Pipeline) earliestDeadline() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, next := range []func() (time.Time, bool){
		pl.frag.NextDeadline, pl.tcp.NextDeadline, pl.flow.NextDeadline, pl.host.NextDeadline,
	} {
		if t, ok := next(); ok && (!found || t.Before(earliest)) {
			earliest = t
			found = true
		}
	}
	return earliest, found
}
