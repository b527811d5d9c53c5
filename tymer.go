package memogram

import (
	"time"
)

// Tymee wraps a MemoGram for unreliable transports that
// need retry tymers layered above the engine. Grams
// dropped on an unreachable peer, or silently lost by
// the transport, are gone from this layer's point of
// view; memo-level retransmission has to be scheduled by
// something that owns a clock. Tymee adds the seam for
// that: a default retry tymeout, an injectable time
// source, and a per-pass hook that its composite service
// calls run between the receive and transmit phases.
//
// The hook itself does no timing work here. Tymeout 0
// means retries are disabled; the hook still runs so an
// overriding layer can keep its own schedule.
type Tymee struct {
	*MemoGram

	// Tymeout is the default retry tymer duration.
	// Zero means ignore tymeout.
	Tymeout time.Duration

	// OnTymer, when set, is invoked once per composite
	// service pass, between the receive and transmit
	// phases, with the current tyme. The retry policy
	// lives entirely in this hook's owner.
	OnTymer func(now time.Time)

	now func() time.Time
}

// NewTymee wraps peer with retry-tymer support. The time
// source defaults to the wall clock; Wind replaces it.
func NewTymee(peer *MemoGram, tymeout time.Duration) *Tymee {
	return &Tymee{
		MemoGram: peer,
		Tymeout:  tymeout,
		now:      time.Now,
	}
}

// Wind injects a new time source, rebasing all tymer
// reads. Simulated-time tests wind in their fake clock.
func (t *Tymee) Wind(now func() time.Time) {
	t.now = now
}

// Now reads the injected time source.
func (t *Tymee) Now() time.Time {
	return t.now()
}

// ServiceTymers services the retry tymers: it runs the
// OnTymer hook, a no-op unless set.
func (t *Tymee) ServiceTymers() {
	if t.OnTymer != nil {
		t.OnTymer(t.now())
	}
}

// ServiceAllOnce services receive, tymers, then
// transmit, one step each (non-greedy).
func (t *Tymee) ServiceAllOnce() (err error) {
	if err = t.ServiceAllRxOnce(); err != nil {
		return
	}
	t.ServiceTymers()
	return t.ServiceAllTxOnce()
}

// ServiceAll services receive, tymers, then transmit,
// greedily.
func (t *Tymee) ServiceAll() (err error) {
	if err = t.ServiceAllRx(); err != nil {
		return
	}
	t.ServiceTymers()
	return t.ServiceAllTx()
}

// Service is the per-tick entry point; the greedy
// ServiceAll.
func (t *Tymee) Service() (err error) {
	return t.ServiceAll()
}
