package memogram

// Transport is the non-blocking datagram contract that a
// MemoGram drives. Concrete implementations in this
// package: UDPGram, UXDGram, QUICGram, and SimGram (for
// tests). The engine never blocks in a Transport call;
// both Receive and Send must return immediately.
//
// Addresses are opaque strings. The transport gives them
// whatever form it likes ("host:port", a filesystem
// path, ...); the engine only compares and maps on them.
type Transport interface {

	// Open puts the transport into non-blocking
	// operation. Open after Open is an error or a no-op,
	// implementation's choice; use MemoGram.Reopen for
	// idempotent open.
	Open() error

	// Close is idempotent.
	Close() error

	// Opened reports whether the transport is usable.
	// It gates all engine service operations.
	Opened() bool

	// Receive returns one whole datagram and its source
	// address, or (nil, "", nil) when nothing is
	// available right now. Datagram transports always
	// deliver complete grams; there are no partial
	// reads. Any error is a transport fault for the
	// engine to classify; "nothing available" is never
	// an error.
	Receive() (gram []byte, src string, err error)

	// Send attempts one non-blocking send of b to dst
	// and returns the count of bytes actually accepted,
	// which may be short of len(b) even without error.
	// The engine keeps the unsent remainder and calls
	// Send again on a later service pass.
	Send(b []byte, dst string) (n int, err error)

	// MaxGramSize is the largest payload this transport
	// can carry in one gram. Segmenters must respect it.
	MaxGramSize() int
}
