// Package fluxerr defines the sentinel error taxonomy shared by fluxcap's
// core packages, following the same flat sentinel-error pattern the teacher
// repo uses in its core package.
package fluxerr

import "errors"

var (
	// ErrConfig covers a bad keyword, an out-of-range value, or a bad
	// FragModel string. Propagated to the startup or reload caller; never
	// kills a running pipeline.
	ErrConfig = errors.New("fluxcap: configuration error")

	// ErrAllocBudgetExceeded is returned by a memcap when an allocation
	// would push allocated bytes above budget.
	ErrAllocBudgetExceeded = errors.New("fluxcap: allocation budget exceeded")

	// ErrMalformedPacket is returned by the decoder when a frame cannot be
	// parsed into a Packet.
	ErrMalformedPacket = errors.New("fluxcap: malformed packet")

	// ErrFragmentOverlap is returned when a fragment would extend its
	// datagram past the reassembly size limit; the datagram is abandoned.
	// Overlapping fragments under the "first" model are trimmed and do not
	// produce this error.
	ErrFragmentOverlap = errors.New("fluxcap: fragment overlap policy violation")

	// ErrTCPInvalidTransition names the class of segment that fails the TCP
	// state tracker's window/ordering checks. tcpstate.Process reports such
	// a segment by returning false; no package returns this error value.
	ErrTCPInvalidTransition = errors.New("fluxcap: invalid tcp state transition")

	// ErrFatal covers unrecoverable I/O from the capture driver, signal
	// registration failure, or daemonization failure.
	ErrFatal = errors.New("fluxcap: fatal error")
)

// IsFatal reports whether err carries ErrFatal, the only class that sets
// the process exit code to 255 rather than 1 (spec.md §6/§7).
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
