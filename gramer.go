package memogram

// Gramer is the pluggable segmentation codec. Segment
// turns one outgoing memo into an ordered sequence of
// grams; Desegment recovers one memo from the grams
// queued for a single source.
//
// Contract for implementations:
//
//   - Every gram Segment produces must fit the
//     transport's MaxGramSize.
//   - Reassembling the produced sequence must recover
//     the memo bit for bit.
//   - Desegment must not block. It is called repeatedly
//     as more grams arrive. It removes from the queue
//     exactly the grams it consumes; grams it has not
//     consumed stay queued for a later call.
//   - Desegment returns ok false when no memo can be
//     completed from what it has seen so far. That is
//     not an error; neither is an empty queue.
//   - A production codec must not rely on the transport
//     preserving gram arrival order, and must tolerate
//     grams of different in-flight memos from the same
//     source arriving interleaved. See Fragmenter.
//
// The src parameter identifies the queue's source so a
// codec can keep per-source reassembly state without
// mixing sources that happen to reuse memo IDs.
type Gramer interface {
	Segment(memo []byte) (grams [][]byte, err error)
	Desegment(src string, grams *Deque[[]byte]) (memo []byte, ok bool, err error)
}

// Rawgram is the pass-through placeholder codec, and the
// default for NewMemoGram: each memo rides in exactly
// one gram, and each queued gram is a whole memo. Fine
// when memos already fit the transport bound and the
// transport preserves datagram boundaries; use a
// Fragmenter for anything larger.
//
// Note the limits of pass-through: an empty memo becomes
// an empty gram, which transports cannot distinguish
// from "nothing to receive", so empty memos effectively
// vanish. Fragmenter carries empty memos correctly.
type Rawgram struct{}

func (r Rawgram) Segment(memo []byte) (grams [][]byte, err error) {
	return [][]byte{memo}, nil
}

func (r Rawgram) Desegment(src string, grams *Deque[[]byte]) (memo []byte, ok bool, err error) {
	memo, ok = grams.PopFront()
	return memo, ok, nil
}
