package memogram

// Deque is an unbounded FIFO queue. It is the backing
// store for all of the memo and gram queues in a
// MemoGram. Like the built-in map, a Deque does no
// internal locking. The MemoGram engine is single
// threaded (cooperatively scheduled), so none is needed.
//
// The zero value is an empty Deque ready to use.
type Deque[T any] struct {
	buf []T
	off int
}

// Len returns the number of queued items.
func (d *Deque[T]) Len() int {
	return len(d.buf) - d.off
}

// PushBack appends v at the back of the queue.
func (d *Deque[T]) PushBack(v T) {
	d.buf = append(d.buf, v)
}

// PopFront removes and returns the oldest item.
// ok is false iff the queue was empty.
func (d *Deque[T]) PopFront() (v T, ok bool) {
	if d.off >= len(d.buf) {
		return
	}
	v = d.buf[d.off]
	var zero T
	d.buf[d.off] = zero // let the GC reclaim v's referents.
	d.off++
	ok = true

	// reclaim the dead prefix once it dominates.
	if d.off > 32 && d.off*2 >= len(d.buf) {
		n := copy(d.buf, d.buf[d.off:])
		clear(d.buf[n:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	return
}

// PeekFront returns the oldest item without removing it.
func (d *Deque[T]) PeekFront() (v T, ok bool) {
	if d.off >= len(d.buf) {
		return
	}
	return d.buf[d.off], true
}
