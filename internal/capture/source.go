// Package capture implements the two packet sources described in
// SPEC_FULL §4.8: a live interface capture and an offline pcap file
// reader, both producing the same (data, gopacket.CaptureInfo) shape the
// teacher's internal/source.Source implementations already use.
package capture

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Source is a packet source the pipeline driver reads from, independent
// of whether packets come from a live interface or a capture file.
type Source interface {
	// ReadPacket returns the next frame and its capture metadata. It
	// returns io.EOF when an offline source is exhausted.
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)

	// LinkType reports the data-link type packets are encoded in.
	LinkType() layers.LinkType

	// Close releases the underlying capture handle.
	Close() error
}
