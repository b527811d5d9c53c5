package memogram

import (
	"time"

	"github.com/glycerine/idem"
	"github.com/glycerine/loquet"
)

// Doable is the three-hook lifecycle an external
// cooperative scheduler drives: Enter once before the
// first tick, Recur every tick with the scheduler's
// logical tyme, Exit once after the last. Recur must
// never block and must be safe to call at arbitrary
// intervals.
type Doable interface {
	Enter() error
	Recur(tyme float64) error
	Exit()
}

// Doer binds a MemoGram to a cooperative scheduler, for
// reliable transports that do not need retry tymers. It
// owns no state beyond the peer reference: Enter reopens
// the peer, Recur services it, Exit closes it.
type Doer struct {
	Peer *MemoGram
}

func NewDoer(peer *MemoGram) *Doer {
	return &Doer{Peer: peer}
}

func (d *Doer) Enter() error {
	return d.Peer.Reopen()
}

func (d *Doer) Recur(tyme float64) error {
	return d.Peer.Service()
}

func (d *Doer) Exit() {
	d.Peer.Close()
}

// TymeeDoer is the Doer for unreliable transports whose
// peers carry retry tymers.
type TymeeDoer struct {
	Peer *Tymee
}

func NewTymeeDoer(peer *Tymee) *TymeeDoer {
	return &TymeeDoer{Peer: peer}
}

// Wind injects a new time source into the peer's tymers.
func (d *TymeeDoer) Wind(now func() time.Time) {
	d.Peer.Wind(now)
}

func (d *TymeeDoer) Enter() error {
	return d.Peer.Reopen()
}

func (d *TymeeDoer) Recur(tyme float64) error {
	return d.Peer.Service()
}

func (d *TymeeDoer) Exit() {
	d.Peer.Close()
}

// Runner is a minimal standalone scheduler: one
// goroutine ticking a Doable at a fixed interval, for
// use when there is no surrounding scheduler to embed
// into. All engine access happens on the Runner's
// goroutine, preserving the single-threaded contract, so
// do not touch the peer from other goroutines between
// Start and Close (enqueue before Start, or consume via
// OnMemo, which runs on the Runner's goroutine).
type Runner struct {
	doer     Doable
	interval time.Duration

	halt *idem.Halter
	done *loquet.Chan[bool]

	// lastErr records the fatal service error that ended
	// the loop early, if any.
	lastErr error
}

// NewRunner ticks doer every interval.
func NewRunner(doer Doable, interval time.Duration) *Runner {
	return &Runner{
		doer:     doer,
		interval: interval,
		halt:     idem.NewHalter(),
		done:     loquet.NewChan[bool](nil),
	}
}

// Start enters the Doable and begins ticking. The error
// returned is Enter's; tick-time errors end the loop and
// surface via Err after WhenDone closes.
func (r *Runner) Start() error {
	if err := r.doer.Enter(); err != nil {
		return err
	}
	go r.run()
	return nil
}

func (r *Runner) run() {
	defer func() {
		r.doer.Exit()
		r.halt.Done.Close()
		r.done.Close()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	t0 := time.Now()
	for {
		select {
		case <-ticker.C:
			tyme := time.Since(t0).Seconds()
			if err := r.doer.Recur(tyme); err != nil {
				alwaysPrintf("runner halting on fatal service "+
					"error: '%v'", err)
				r.lastErr = err
				return
			}
		case <-r.halt.ReqStop.Chan:
			return
		}
	}
}

// Close requests stop and waits for the loop to exit the
// Doable. Idempotent.
func (r *Runner) Close() {
	r.halt.ReqStop.Close()
	<-r.halt.Done.Chan
}

// WhenDone closes when the loop has fully exited.
func (r *Runner) WhenDone() <-chan struct{} {
	return r.done.WhenClosed()
}

// Err reports the fatal service error that ended the
// loop, if any. Read it only after WhenDone closes.
func (r *Runner) Err() error {
	return r.lastErr
}
