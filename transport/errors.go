package transport

import "github.com/pkg/errors"

// Error kinds surfaced to applications. Integrity and malformed packet
// errors are deliberately not part of this set: they are absorbed
// internally and only move a counter.
var (
	// ErrNotRunning is returned when the endpoint has not been started, or
	// has already been shut down.
	ErrNotRunning = errors.New("transport: endpoint not running")

	// ErrWrongMode is returned when Listen is called on an endpoint already
	// started in connecting mode, or Connect on one started in listening
	// mode.
	ErrWrongMode = errors.New("transport: endpoint already started in the other mode")

	// ErrHandshakeTimeout is returned when the three-way handshake does not
	// complete within the allotted window.
	ErrHandshakeTimeout = errors.New("transport: handshake did not complete in time")

	// ErrPeerClosed is returned by Send once the peer has sent a FIN.
	ErrPeerClosed = errors.New("transport: peer closed the connection")
)

// wrapf attaches context to a sentinel without losing errors.Is comparability.
func wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
