package memogram

import (
	"time"
)

// memoAddr pairs a memo with its source or destination.
type memoAddr struct {
	memo []byte
	addr string
}

// gramAddr pairs one gram with its destination.
type gramAddr struct {
	gram []byte
	addr string
}

// MemoGram layers memos (application messages of
// arbitrary size) on top of a size-bounded, non-blocking
// datagram Transport. Outgoing memos are segmented into
// grams that respect the transport bound; incoming grams
// are desegmented back into memos. In between, tiered
// queues absorb the partial-send and nothing-to-receive
// realities of non-blocking datagram sockets.
//
// Layering a reliable transaction protocol on top of a
// MemoGram gives reliable asynchronous messaging over
// unreliable datagram transports. When the transport is
// already reliable, a MemoGram simply enables memos
// larger than the native datagram bound.
//
// Receive side tiers: each whole received gram goes into
// the per-source deque in rxgs. The Gramer desegments
// those into memos which land on rxms for the
// application (or a higher protocol) to consume.
//
// Transmit side tiers: (memo, dst) pairs go on txms.
// The Gramer segments each memo into grams which go on
// txgs in order. One gram at a time is loaded into the
// single transmit slot (txb, txdst) and pushed through
// Send until it drains, possibly across several service
// passes when the transport accepts only part of it.
//
// The transmit slot is deliberately a single slot shared
// by all destinations, exactly one gram in flight
// system-wide: a destination that cannot drain (partial
// send, repeated unreachable errors) serializes ahead of
// every other destination until its gram completes or is
// dropped. Per-destination slots would change the
// fairness story; this implementation keeps the
// single-slot behavior.
//
// A MemoGram never blocks and never starts a goroutine.
// It is designed to be driven by one external
// cooperative scheduler invoking its service methods
// each tick (see Doer and Runner). Every service
// primitive reports progress so greedy callers know when
// to stop looping within a tick. There is no internal
// locking because there is no concurrent mutation: the
// engine is the sole owner of all five queues.
type MemoGram struct {

	// Name identifies this peer in logs.
	Name string

	rxgs *fifomap         // src -> deque of received grams
	rxms *Deque[memoAddr] // desegmented (memo, src), FIFO
	txms *Deque[memoAddr] // outgoing (memo, dst), FIFO
	txgs *Deque[gramAddr] // segmented (gram, dst), FIFO

	// the single transmit slot. txdst == "" is the idle
	// sentinel: nothing in flight, ok to load the next
	// gram. Otherwise txb holds the unsent remainder of
	// the gram bound for txdst.
	txb   []byte
	txdst string

	tr Transport
	gr Gramer

	// OnMemo, when set, consumes each (memo, src) that
	// ServiceRxMemos / ServiceRxMemosOnce drains off
	// rxms. When nil, drained memos are discarded; a
	// higher protocol that wants them must set this.
	OnMemo func(memo []byte, src string)

	stats *sendStats
}

// NewMemoGram binds a transport and a codec into an
// engine. A nil gr gets the pass-through Rawgram codec.
// All queues start empty and live for the engine's
// lifetime.
func NewMemoGram(name string, tr Transport, gr Gramer) *MemoGram {
	if gr == nil {
		gr = Rawgram{}
	}
	return &MemoGram{
		Name:  name,
		rxgs:  newFifomap(),
		rxms:  &Deque[memoAddr]{},
		txms:  &Deque[memoAddr]{},
		txgs:  &Deque[gramAddr]{},
		tr:    tr,
		gr:    gr,
		stats: newSendStats(),
	}
}

// Transport returns the bound transport.
func (m *MemoGram) Transport() Transport { return m.tr }

// Opened reports whether the underlying transport is
// open. It gates every service operation.
func (m *MemoGram) Opened() bool { return m.tr.Opened() }

// Open opens the underlying transport.
func (m *MemoGram) Open() error { return m.tr.Open() }

// Close closes the underlying transport. The queues keep
// their contents; service operations simply stop until
// reopened.
func (m *MemoGram) Close() error { return m.tr.Close() }

// Reopen idempotently (re)opens the transport:
// Close then Open.
func (m *MemoGram) Reopen() error {
	m.tr.Close()
	return m.tr.Open()
}

// Stats returns the transmit-side statistics collector.
func (m *MemoGram) Stats() *sendStats { return m.stats }

//
// receive side
//

// serviceOneReceived polls the transport once. got is
// true when a gram was received and queued, enabling
// greedy callers to keep polling; false means nothing
// available now, try again on a later tick. A receive
// error is not classified here; it propagates as fatal.
func (m *MemoGram) serviceOneReceived() (got bool, err error) {
	gram, src, err := m.tr.Receive()
	if err != nil {
		return false, err
	}
	if len(gram) == 0 {
		return false, nil // nothing available now
	}
	m.rxgs.getOrAdd(src).PushBack(gram)
	return true, nil
}

// ServiceReceivesOnce polls the transport once
// (non-greedy) and queues whatever arrived.
func (m *MemoGram) ServiceReceivesOnce() (err error) {
	if !m.Opened() {
		return nil
	}
	_, err = m.serviceOneReceived()
	return
}

// ServiceReceives polls the transport greedily until it
// reports nothing available.
func (m *MemoGram) ServiceReceives() (err error) {
	for m.Opened() {
		got, err := m.serviceOneReceived()
		if err != nil {
			return err
		}
		if !got {
			break
		}
	}
	return nil
}

// serviceOnceRxGrams runs one desegmentation pass over a
// snapshot of the current sources. The snapshot matters:
// the store is mutated during the pass (drained sources
// are deleted, which is what rotates them to the back of
// the line when they next appear).
//
// more is true iff at least one source both produced a
// memo and still has grams queued; that pair of
// conditions is the signal that further desegmentation
// work exists without any new transport I/O, which is
// exactly when a greedy caller should run another pass.
func (m *MemoGram) serviceOnceRxGrams() (more bool, err error) {
	for _, src := range m.rxgs.srcs() {
		q, ok := m.rxgs.get(src)
		if !ok {
			continue
		}
		memo, got, derr := m.gr.Desegment(src, q)
		if derr != nil {
			return false, derr
		}
		if got { // a zero-length memo is valid
			m.rxms.PushBack(memoAddr{memo: memo, addr: src})
		}
		if q.Len() == 0 {
			// drained: drop the source now so its next
			// gram re-inserts it at the back.
			m.rxgs.del(src)
		}
		if got && q.Len() > 0 {
			more = true
		}
	}
	return
}

// ServiceRxGramsOnce runs one desegmentation pass
// (non-greedy), if any source has pending grams.
func (m *MemoGram) ServiceRxGramsOnce() (err error) {
	if m.rxgs.Len() > 0 {
		_, err = m.serviceOnceRxGrams()
	}
	return
}

// ServiceRxGrams runs desegmentation passes greedily
// while some source keeps completing memos with grams
// left over.
func (m *MemoGram) ServiceRxGrams() (err error) {
	for m.rxgs.Len() > 0 {
		more, err := m.serviceOnceRxGrams()
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

// serviceOneRxMemo pops the oldest reassembled
// (memo, src), if any.
func (m *MemoGram) serviceOneRxMemo() (memo []byte, src string, ok bool) {
	ma, ok := m.rxms.PopFront()
	if !ok {
		return
	}
	return ma.memo, ma.addr, true
}

// ServiceRxMemosOnce drains one reassembled memo
// (non-greedy) into OnMemo, or discards it when OnMemo
// is nil.
func (m *MemoGram) ServiceRxMemosOnce() {
	memo, src, ok := m.serviceOneRxMemo()
	if ok && m.OnMemo != nil {
		m.OnMemo(memo, src)
	}
}

// ServiceRxMemos drains all reassembled memos (greedy).
func (m *MemoGram) ServiceRxMemos() {
	for m.rxms.Len() > 0 {
		memo, src, ok := m.serviceOneRxMemo()
		if ok && m.OnMemo != nil {
			m.OnMemo(memo, src)
		}
	}
}

// ServiceAllRxOnce services the receive side once,
// non-greedy: one poll, one desegmentation pass, one
// memo drained. Each step runs regardless of whether the
// step before it made progress.
func (m *MemoGram) ServiceAllRxOnce() (err error) {
	if err = m.ServiceReceivesOnce(); err != nil {
		return
	}
	if err = m.ServiceRxGramsOnce(); err != nil {
		return
	}
	m.ServiceRxMemosOnce()
	return
}

// ServiceAllRx services the receive side greedily until
// the transport is drained and desegmentation is waiting
// on more grams.
func (m *MemoGram) ServiceAllRx() (err error) {
	if err = m.ServiceReceives(); err != nil {
		return
	}
	if err = m.ServiceRxGrams(); err != nil {
		return
	}
	m.ServiceRxMemos()
	return
}

//
// transmit side
//

// Memoit appends (memo, dst) to the outgoing memo queue
// for segmentation on a later service pass. Destinations
// are opaque; no validation happens here.
func (m *MemoGram) Memoit(memo []byte, dst string) {
	m.txms.PushBack(memoAddr{memo: memo, addr: dst})
}

// Gramit appends an already-segmented (gram, dst) to the
// outgoing gram queue, bypassing the codec.
func (m *MemoGram) Gramit(gram []byte, dst string) {
	m.txgs.PushBack(gramAddr{gram: gram, addr: dst})
}

// serviceOneTxMemo segments one queued memo into grams,
// preserving order, onto txgs. No-op when txms is empty.
func (m *MemoGram) serviceOneTxMemo() (err error) {
	ma, ok := m.txms.PopFront()
	if !ok {
		return nil
	}
	grams, err := m.gr.Segment(ma.memo)
	if err != nil {
		return err
	}
	for _, gram := range grams {
		m.txgs.PushBack(gramAddr{gram: gram, addr: ma.addr})
	}
	return nil
}

// ServiceTxMemosOnce segments one outgoing memo
// (non-greedy), if any.
func (m *MemoGram) ServiceTxMemosOnce() (err error) {
	return m.serviceOneTxMemo()
}

// ServiceTxMemos segments all outgoing memos (greedy).
func (m *MemoGram) ServiceTxMemos() (err error) {
	for m.txms.Len() > 0 {
		if err = m.serviceOneTxMemo(); err != nil {
			return
		}
	}
	return nil
}

// serviceOnceTxGrams is the transmit state machine step.
//
// If the slot is idle it loads the next queued gram;
// then it attempts one non-blocking send of the slot's
// remainder.
//
// sent true means the slot's gram completed, so a greedy
// caller can immediately start the next gram. sent false
// means blocked: either nothing was queued, or bytes
// remain in the slot after a partial send, or the gram
// was just dropped on a peer-unreachable failure. In
// every false case the caller should try again on a
// later tick rather than spin; no timer or backoff
// exists at this layer.
//
// A peer-unreachable send failure is logged and resolved
// by dropping the remainder of the current gram: the far
// peer being down is not going to be cured by
// re-sending this instant, and the single transmit slot
// must not wedge behind one dead destination. Unreliable
// transports therefore need a retry mechanism above this
// layer (see Tymee). Any other send failure propagates
// as fatal.
func (m *MemoGram) serviceOnceTxGrams() (sent bool, err error) {
	if m.txdst == "" {
		ga, ok := m.txgs.PopFront()
		if !ok {
			return false, nil // nothing to send, try later
		}
		m.txb = ga.gram
		m.txdst = ga.addr
	}

	t0 := time.Now()
	n, serr := m.tr.Send(m.txb, m.txdst)
	if serr != nil {
		switch classifySendErr(serr) {
		case errKindUnreachable:
			alwaysPrintf("memogram %v: dropping gram to '%v' "+
				"on send error: '%v'", m.Name, m.txdst, serr)
			m.stats.drop()
			m.txb = nil
			m.txdst = "" // far peer unavailable, so drop.
			return false, nil
		default:
			return false, serr // unexpected error
		}
	}
	m.stats.observe(n, time.Since(t0))

	m.txb = m.txb[n:] // remove the sent prefix
	if len(m.txb) == 0 {
		m.txb = nil
		m.txdst = "" // gram complete, slot idle again
		return true, nil
	}
	return false, nil // remainder occupies the slot
}

// ServiceTxGramsOnce attempts one transmit step
// (non-greedy), if the transport is open and there is a
// queued gram or a slot remainder to push.
func (m *MemoGram) ServiceTxGramsOnce() (err error) {
	if m.Opened() && (m.txgs.Len() > 0 || m.txdst != "") {
		_, err = m.serviceOnceTxGrams()
	}
	return
}

// ServiceTxGrams transmits greedily: it keeps sending
// while grams complete, and stops immediately on a
// blocked report (partial send, drop, or nothing left).
func (m *MemoGram) ServiceTxGrams() (err error) {
	for m.Opened() && (m.txgs.Len() > 0 || m.txdst != "") {
		sent, err := m.serviceOnceTxGrams()
		if err != nil {
			return err
		}
		if !sent {
			break // blocked, try again later
		}
	}
	return nil
}

// ServiceAllTxOnce services the transmit side once,
// non-greedy: segment one memo, attempt one send.
func (m *MemoGram) ServiceAllTxOnce() (err error) {
	if err = m.ServiceTxMemosOnce(); err != nil {
		return
	}
	return m.ServiceTxGramsOnce()
}

// ServiceAllTx services the transmit side greedily until
// blocked by a pending transmission or empty queues.
func (m *MemoGram) ServiceAllTx() (err error) {
	if err = m.ServiceTxMemos(); err != nil {
		return
	}
	return m.ServiceTxGrams()
}

//
// composites
//

// ServiceLocal greedily drains the transport in both
// directions without running desegmentation or
// segmentation: raw gram I/O only.
func (m *MemoGram) ServiceLocal() (err error) {
	if err = m.ServiceReceives(); err != nil {
		return
	}
	return m.ServiceTxGrams()
}

// ServiceAllOnce services receive then transmit, one
// step each (non-greedy).
func (m *MemoGram) ServiceAllOnce() (err error) {
	if err = m.ServiceAllRxOnce(); err != nil {
		return
	}
	return m.ServiceAllTxOnce()
}

// ServiceAll services receive then transmit, greedily.
func (m *MemoGram) ServiceAll() (err error) {
	if err = m.ServiceAllRx(); err != nil {
		return
	}
	return m.ServiceAllTx()
}

// Service is the per-tick entry point a scheduler should
// invoke; it is the greedy ServiceAll.
func (m *MemoGram) Service() (err error) {
	return m.ServiceAll()
}

//
// test/inspection helpers; the queues themselves stay
// owned by the engine.
//

// PendingTx reports the queued (memos, grams) counts and
// whether the transmit slot is occupied.
func (m *MemoGram) PendingTx() (memos, grams int, inflight bool) {
	return m.txms.Len(), m.txgs.Len(), m.txdst != ""
}

// PendingRx reports the number of sources with queued
// grams and the number of reassembled memos waiting.
func (m *MemoGram) PendingRx() (srcs, memos int) {
	return m.rxgs.Len(), m.rxms.Len()
}

// InflightDst returns the transmit slot's destination,
// or "" when the slot is idle.
func (m *MemoGram) InflightDst() string { return m.txdst }
