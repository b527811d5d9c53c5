package memogram

import (
	"errors"

	"golang.org/x/sys/unix"
)

// errKind is the closed classification of transport
// failures at the transmit boundary.
type errKind int

const (
	// errKindNone: no error at all.
	errKindNone errKind = 0

	// errKindUnreachable: the far peer is the problem
	// (refused, reset, no route, down, timed out, or the
	// transport is out of buffer space). Resolved by
	// dropping the in-flight gram; retrying in a tight
	// loop won't help and would stall every other
	// destination behind the single transmit slot.
	errKindUnreachable errKind = 1

	// errKindFatal: anything else. Not recovered here;
	// propagates out of the service call.
	errKindFatal errKind = 2
)

// The unreachable set mirrors the classic errno list for
// datagram sendto against a dead or unrouteable peer.
// ENOBUFS is included: transient local buffer exhaustion
// resolves the same way at this layer, by dropping and
// letting a higher layer re-enqueue.
var peerUnreachableErrnos = []unix.Errno{
	unix.ECONNREFUSED,
	unix.ECONNRESET,
	unix.ENETRESET,
	unix.ENETUNREACH,
	unix.EHOSTUNREACH,
	unix.ENETDOWN,
	unix.EHOSTDOWN,
	unix.ETIMEDOUT,
	unix.ETIME,
	unix.ENOBUFS,
}

// classifySendErr buckets a Transport.Send error.
// errors.Is unwraps net.OpError/os.SyscallError chains
// down to the errno.
func classifySendErr(err error) errKind {
	if err == nil {
		return errKindNone
	}
	for _, errno := range peerUnreachableErrnos {
		if errors.Is(err, errno) {
			return errKindUnreachable
		}
	}
	return errKindFatal
}
