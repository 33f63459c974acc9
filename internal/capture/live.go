package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// LiveSource captures from a live network interface via libpcap, ported
// from the teacher's internal/source/file.FileSource's use of the
// gopacket/pcap handle, generalized to OpenLive instead of OpenOffline.
type LiveSource struct {
	handle *pcap.Handle
}

// LiveConfig configures a LiveSource.
type LiveConfig struct {
	Interface  string
	SnapLen    int32
	Promiscuous bool
	Timeout    int // milliseconds; 0 disables the read timeout
	BPFFilter  string
}

// NewLiveSource opens a live capture on cfg.Interface.
func NewLiveSource(cfg LiveConfig) (*LiveSource, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("capture: interface is required")
	}
	snaplen := cfg.SnapLen
	if snaplen <= 0 {
		snaplen = 65535
	}

	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("capture: open interface %s: %w", cfg.Interface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(snaplen)); err != nil {
		return nil, fmt.Errorf("capture: set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("capture: set promiscuous: %w", err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("capture: set immediate mode: %w", err)
	}
	if cfg.Timeout > 0 {
		if err := inactive.SetTimeout(time.Duration(cfg.Timeout) * time.Millisecond); err != nil {
			return nil, fmt.Errorf("capture: set read timeout: %w", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("capture: activate interface %s: %w", cfg.Interface, err)
	}

	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("capture: set BPF filter %q: %w", cfg.BPFFilter, err)
		}
	}

	return &LiveSource{handle: handle}, nil
}

func (s *LiveSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return s.handle.ReadPacketData()
}

func (s *LiveSource) LinkType() layers.LinkType {
	return s.handle.LinkType()
}

func (s *LiveSource) Close() error {
	s.handle.Close()
	return nil
}
