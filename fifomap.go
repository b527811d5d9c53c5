package memogram

import (
	"cmp"
	"fmt"

	rb "github.com/glycerine/rbtree"
)

// fifomap is the gram receive store: it maps a source
// address to the deque of grams received from that
// source, and iterates sources in order of when each
// source last (re)appeared.
//
// A source is present iff its deque is non-empty. The
// engine deletes a source the instant its deque drains;
// when a later gram arrives from that source it is
// re-inserted at the back of the iteration order. The
// delete-then-reinsert cycle is the fairness mechanism:
// sources with nothing pending never appear in a pass,
// and a source that just drained goes to the back of
// the line behind every source that still has work.
//
// The arrival order lives in a red-black tree keyed by
// an arrival seqno, next to a builtin map for O(1)
// lookup by source. Iteration over the tree is
// deterministic and repeatable, which keeps test runs
// reproducible.
type fifomap struct {
	seqno int64

	tree  *rb.Tree // *fkv ordered by fkv.seqno
	bySrc map[string]*fkv
}

type fkv struct {
	seqno int64
	src   string
	q     *Deque[[]byte]
}

func newFifomap() *fifomap {
	return &fifomap{
		tree: rb.NewTree(func(a, b rb.Item) int {
			ak := a.(*fkv).seqno
			bk := b.(*fkv).seqno
			return cmp.Compare(ak, bk)
		}),
		bySrc: make(map[string]*fkv),
	}
}

// Len returns the number of sources with pending grams.
func (s *fifomap) Len() int {
	return s.tree.Len()
}

// get returns the gram deque for src, if present.
func (s *fifomap) get(src string) (q *Deque[[]byte], ok bool) {
	kv, ok := s.bySrc[src]
	if !ok {
		return nil, false
	}
	return kv.q, true
}

// getOrAdd returns the gram deque for src, creating it
// at the back of the iteration order if absent.
func (s *fifomap) getOrAdd(src string) (q *Deque[[]byte]) {
	kv, ok := s.bySrc[src]
	if ok {
		return kv.q
	}
	s.seqno++
	kv = &fkv{
		seqno: s.seqno,
		src:   src,
		q:     &Deque[[]byte]{},
	}
	s.bySrc[src] = kv
	s.tree.InsertGetIt(kv)
	return kv.q
}

// del removes src from the store. A later getOrAdd for
// the same src re-inserts it at the back.
func (s *fifomap) del(src string) {
	kv, ok := s.bySrc[src]
	if !ok {
		return
	}
	delete(s.bySrc, src)
	it, found := s.tree.FindGE_isEqual(kv)
	if found {
		s.tree.DeleteWithIterator(it)
	}
}

// srcs snapshots the current sources in arrival order.
// The engine mutates the store while iterating a pass,
// so a pass must work from this snapshot, not a live
// iterator.
func (s *fifomap) srcs() (r []string) {
	for it := s.tree.Min(); !it.Limit(); it = it.Next() {
		r = append(r, it.Item().(*fkv).src)
	}
	return
}

func (s *fifomap) String() (r string) {
	r = "fifomap{"
	extra := ""
	for it := s.tree.Min(); !it.Limit(); it = it.Next() {
		kv := it.Item().(*fkv)
		r += fmt.Sprintf("%v%v:(%v grams)", extra, kv.src, kv.q.Len())
		extra = ", "
	}
	r += "}"
	return
}
