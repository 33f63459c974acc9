// Package utils holds small cross-cutting helpers with no natural home
// in a domain package. NewBPFFilter is used by internal/capture's
// FileSource to apply a capture filter during offline replay, since
// gopacket/pcapgo (the pure-Go pcap reader used for file sources) has no
// kernel BPF attachment point the way a live pcap.Handle does. Compiling
// the filter still goes through gopacket/pcap, so this package needs
// libpcap and cgo to build.
package utils

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// compileBPF turns a tcpdump-style filter expression into raw BPF
// instructions, reusing libpcap's own compiler (pcap.CompileBPFFilter)
// rather than reimplementing filter-expression parsing. It has exactly
// one caller, NewBPFFilter; it stays a separate function only because
// the cBPF->bpf.Instruction conversion it does is a distinct step from
// building the VM.
func compileBPF(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	compiled, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("utils: compile BPF filter %q: %w", filter, err)
	}

	raw := make([]bpf.RawInstruction, len(compiled))
	for i, ins := range compiled {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// NewBPFFilter compiles filter and returns a VM that evaluates it against
// raw frame bytes read from an offline capture.
func NewBPFFilter(filter string, snapLen int) (*bpf.VM, error) {
	raw, err := compileBPF(filter, snapLen)
	if err != nil {
		return nil, err
	}
	insns, err := bpf.Disassemble(raw)
	if err != nil {
		return nil, fmt.Errorf("utils: disassemble compiled BPF filter %q: %w", filter, err)
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("utils: build BPF VM for filter %q: %w", filter, err)
	}
	return vm, nil
}
