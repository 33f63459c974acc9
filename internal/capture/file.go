package capture

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"

	"github.com/anvilnet/fluxcap/internal/utils"
)

// FileSource reads an offline capture file with pcapgo, a pure-Go pcap
// reader. The package as a whole still needs libpcap and cgo to build,
// since LiveSource and the BPF compiler behind SetBPFFilter use
// gopacket/pcap. Grounded on the teacher's internal/source/file.FileSource
// shape, retargeted from gopacket/pcap.OpenOffline to gopacket/pcapgo.
type FileSource struct {
	f      *os.File
	reader *pcapgo.Reader
	filter *bpf.VM
}

// NewFileSource opens path for offline replay.
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("capture: read pcap header from %s: %w", path, err)
	}
	return &FileSource{f: f, reader: r}, nil
}

// SetBPFFilter compiles filter with libpcap's compiler and applies it to
// every subsequent ReadPacket call, since pcapgo has no kernel-side
// filtering the way a live pcap.Handle does.
func (s *FileSource) SetBPFFilter(filter string, snapLen int) error {
	vm, err := utils.NewBPFFilter(filter, snapLen)
	if err != nil {
		return err
	}
	s.filter = vm
	return nil
}

func (s *FileSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	for {
		data, ci, err := s.reader.ReadPacketData()
		if err == io.EOF {
			return nil, gopacket.CaptureInfo{}, io.EOF
		}
		if err != nil {
			return nil, gopacket.CaptureInfo{}, fmt.Errorf("capture: read packet: %w", err)
		}
		if s.filter != nil {
			n, err := s.filter.Run(data)
			if err != nil {
				return nil, gopacket.CaptureInfo{}, fmt.Errorf("capture: evaluate BPF filter: %w", err)
			}
			if n == 0 {
				continue
			}
		}
		return data, ci, nil
	}
}

func (s *FileSource) LinkType() layers.LinkType {
	return s.reader.LinkType()
}

func (s *FileSource) Close() error {
	return s.f.Close()
}
