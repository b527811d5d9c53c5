package memogram

import (
	"bytes"
	"encoding/binary"
	"fmt"

	cryrand "crypto/rand"

	cristalbase64 "github.com/cristalhq/base64"
	"github.com/glycerine/base58"
	"github.com/glycerine/blake3"
	gjson "github.com/goccy/go-json"
)

// gramMagic is always the first 8 bytes of every
// fragment on the wire. It lets the receiver reject
// grams that are not ours, or whose boundaries were
// corrupted. It was chosen randomly and should remain
// constant, or else peers will not be able to talk to
// each other. gramMagic[7] (the last byte, 0x00 here)
// can vary: it records the whole-memo compression algo:
// 00 => no compression
// 01 => s2
// 02 => lz4
// 03 => zstd
var gramMagic = [8]byte{0x9c, 0x41, 0xde, 0x7a, 0x33, 0xd1, 0x6b, 0x00}

var ErrMagicWrong = fmt.Errorf("error: magic bytes not found at start of gram")

type magic7b byte

const (
	magic7b_none magic7b = 0 // no compression
	magic7b_s2   magic7b = 1
	magic7b_lz4  magic7b = 2
	magic7b_zstd magic7b = 3

	// keep this as the last number, just above the rest,
	// if you add more legit magic7b values above.
	magic7b_out_of_bounds magic7b = 4
)

func (m magic7b) String() (s string) {
	s, _ = decodeMagic7(m)
	return
}

func decodeMagic7(m magic7b) (algo string, err error) {
	switch m {
	case magic7b_none:
		return "", nil
	case magic7b_s2:
		return "s2", nil
	case magic7b_lz4:
		return "lz4", nil
	case magic7b_zstd:
		return "zstd", nil
	}
	return "", fmt.Errorf("unrecognized magic7: '%v'; valid: s2, lz4, zstd", byte(m))
}

func encodeMagic7(algo string) (m magic7b, err error) {
	switch algo {
	case "":
		return magic7b_none, nil
	case "s2":
		return magic7b_s2, nil
	case "lz4":
		return magic7b_lz4, nil
	case "zstd":
		return magic7b_zstd, nil
	}
	return 0, fmt.Errorf("unrecognized compression algo: '%v'; valid: s2, lz4, zstd", algo)
}

// Fragment header wire layout, fixed width so the
// segmenter can budget payload exactly:
//
//	 0:8   magic, with the algo in magic[7]
//	 8:24  memo ID, 16 random bytes, same in every
//	       fragment of one memo
//	24:28  fragment index, big endian uint32
//	28:32  fragment total, big endian uint32
//	32:64  blake3 checksum (truncated to 32 bytes) of
//	       the whole pre-segmentation byte sequence,
//	       same in every fragment
const fragHdrSize = 64

// gramHdr is the parsed form of a fragment header.
type gramHdr struct {
	Algo  magic7b  `json:"algo"`
	ID    [16]byte `json:"-"`
	Index uint32   `json:"index"`
	Total uint32   `json:"total"`
	Sum   [32]byte `json:"-"`
}

// IDString renders the memo ID in unchecked base58.
func (h *gramHdr) IDString() string {
	return base58.Encode(h.ID[:])
}

// SumString renders the checksum like hash display
// convention: "blake3.32B-" + URL-safe base64.
func (h *gramHdr) SumString() string {
	return "blake3.32B-" + cristalbase64.URLEncoding.EncodeToString(h.Sum[:])
}

func (h *gramHdr) String() string {
	return fmt.Sprintf("gramHdr{id: %v, frag: %v/%v, algo: '%v', sum: %v}",
		h.IDString(), h.Index+1, h.Total, h.Algo, h.SumString())
}

// JSON renders the header for diagnostics.
func (h *gramHdr) JSON() []byte {
	by, err := gjson.Marshal(struct {
		*gramHdr
		ID  string `json:"id"`
		Sum string `json:"sum"`
	}{h, h.IDString(), h.SumString()})
	panicOn(err)
	return by
}

func (h *gramHdr) pack(payload []byte) (gram []byte) {
	gram = make([]byte, fragHdrSize+len(payload))
	copy(gram[:8], gramMagic[:])
	gram[7] = byte(h.Algo)
	copy(gram[8:24], h.ID[:])
	binary.BigEndian.PutUint32(gram[24:28], h.Index)
	binary.BigEndian.PutUint32(gram[28:32], h.Total)
	copy(gram[32:64], h.Sum[:])
	copy(gram[fragHdrSize:], payload)
	return
}

func parseGramHdr(gram []byte) (h *gramHdr, payload []byte, err error) {
	if len(gram) < fragHdrSize {
		return nil, nil, fmt.Errorf("gram too short for fragment "+
			"header: %v < %v bytes", len(gram), fragHdrSize)
	}
	if !bytes.Equal(gram[:7], gramMagic[:7]) {
		return nil, nil, ErrMagicWrong
	}
	h = &gramHdr{
		Algo:  magic7b(gram[7]),
		Index: binary.BigEndian.Uint32(gram[24:28]),
		Total: binary.BigEndian.Uint32(gram[28:32]),
	}
	if h.Algo >= magic7b_out_of_bounds {
		return nil, nil, fmt.Errorf("bad algo byte %v in gram magic", gram[7])
	}
	copy(h.ID[:], gram[8:24])
	copy(h.Sum[:], gram[32:64])
	if h.Total == 0 || h.Index >= h.Total {
		return nil, nil, fmt.Errorf("bad fragment counts in gram "+
			"header: index %v, total %v", h.Index, h.Total)
	}
	return h, gram[fragHdrSize:], nil
}

func cryptoRandBytes(n int) []byte {
	by := make([]byte, n)
	_, err := cryrand.Read(by)
	panicOn(err)
	return by
}

// partKey identifies one in-flight memo's reassembly
// state: memo IDs are only meaningful per source.
type partKey struct {
	src string
	id  [16]byte
}

// partial accumulates the fragments of one memo.
type partial struct {
	frags [][]byte
	have  int
	total uint32
	algo  magic7b
	sum   [32]byte
	touch int64 // Desegment call count at last fragment
}

// Fragmenter is the production Gramer. It splits each
// memo into fragments that fit MaxGram, prefixing every
// fragment with a fixed 64-byte header (magic, memo ID,
// index/total, whole-memo blake3 checksum), optionally
// compressing the whole memo first.
//
// Reassembly keys on (source, memo ID), so it does not
// rely on the transport preserving arrival order, and it
// tolerates fragments of different in-flight memos from
// the same source arriving interleaved.
//
// Reassembly state cannot grow without bound: a partial
// memo that sees no new fragment for StaleAfter
// Desegment calls is evicted. A dropped or half-lost
// memo thus costs bounded memory, at the price that a
// very late fragment restarts (and then strands) its
// memo; unreliable transports need memo-level retry
// above this layer anyway.
//
// A Fragmenter is not goroutine safe; like the engine
// that owns it, it expects a single cooperative driver.
type Fragmenter struct {

	// MaxGram bounds each produced gram, header
	// included. Must exceed fragHdrSize.
	MaxGram int

	// Algo is "", "s2", "lz4", or "zstd".
	Algo string

	// StaleAfter is the partial-memo eviction horizon,
	// counted in Desegment calls. Zero gets the default.
	StaleAfter int64

	algo7  magic7b
	comp   compressor
	decomp decompressor
	hasher *blake3.Hasher

	parts map[partKey]*partial
	calls int64
}

const defaultStaleAfter = 1024

// NewFragmenter makes a Fragmenter producing grams of at
// most maxGram bytes, compressing whole memos with algo
// ("" for none).
func NewFragmenter(maxGram int, algo string) (f *Fragmenter, err error) {
	if maxGram <= fragHdrSize {
		return nil, fmt.Errorf("maxGram %v must exceed the %v byte "+
			"fragment header", maxGram, fragHdrSize)
	}
	algo7, err := encodeMagic7(algo)
	if err != nil {
		return nil, err
	}
	comp, decomp, err := newPressor(algo)
	if err != nil {
		return nil, err
	}
	return &Fragmenter{
		MaxGram:    maxGram,
		Algo:       algo,
		StaleAfter: defaultStaleAfter,
		algo7:      algo7,
		comp:       comp,
		decomp:     decomp,
		hasher:     blake3.New(64, nil),
		parts:      make(map[partKey]*partial),
	}, nil
}

func (f *Fragmenter) sum32(by []byte) (sum [32]byte) {
	f.hasher.Reset()
	f.hasher.Write(by)
	copy(sum[:], f.hasher.Sum(nil))
	return
}

// Segment splits memo into ordered grams, each within
// MaxGram. An empty memo still produces one gram (a bare
// header), so empty memos survive the trip, unlike with
// the Rawgram pass-through.
func (f *Fragmenter) Segment(memo []byte) (grams [][]byte, err error) {
	pressed := memo
	if f.comp != nil {
		pressed, err = pressBytes(f.comp, memo)
		if err != nil {
			return nil, err
		}
	}

	payloadMax := f.MaxGram - fragHdrSize
	total := (len(pressed) + payloadMax - 1) / payloadMax
	if total == 0 {
		total = 1 // the empty memo still gets one gram
	}

	hdr := &gramHdr{
		Algo:  f.algo7,
		Total: uint32(total),
		Sum:   f.sum32(pressed),
	}
	copy(hdr.ID[:], cryptoRandBytes(16))

	grams = make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		beg := i * payloadMax
		end := min(beg+payloadMax, len(pressed))
		hdr.Index = uint32(i)
		grams = append(grams, hdr.pack(pressed[beg:end]))
	}
	return grams, nil
}

// Desegment consumes grams off the front of q until one
// memo completes or the queue drains. Fragments that do
// not complete a memo move into per-(src, memo ID)
// reassembly state; the engine's queue legitimately
// drains while memos are still incomplete. ok is false
// when no memo completed yet. A malformed gram, checksum
// mismatch, or decompression failure is a codec error:
// the offending gram is consumed and the error surfaces.
func (f *Fragmenter) Desegment(src string, q *Deque[[]byte]) (memo []byte, ok bool, err error) {
	f.calls++
	f.evictStale()

	for {
		gram, got := q.PopFront()
		if !got {
			return nil, false, nil // waiting on more grams
		}
		hdr, payload, perr := parseGramHdr(gram)
		if perr != nil {
			return nil, false, perr
		}

		key := partKey{src: src, id: hdr.ID}
		part, have := f.parts[key]
		if !have {
			part = &partial{
				frags: make([][]byte, hdr.Total),
				total: hdr.Total,
				algo:  hdr.Algo,
				sum:   hdr.Sum,
			}
			f.parts[key] = part
		}
		if hdr.Total != part.total {
			return nil, false, fmt.Errorf("fragment total changed "+
				"mid-memo for id %v from '%v': %v then %v",
				hdr.IDString(), src, part.total, hdr.Total)
		}
		if part.frags[hdr.Index] == nil {
			part.frags[hdr.Index] = payload
			part.have++
		} // else: duplicate fragment, drop it.
		part.touch = f.calls

		if part.have == int(part.total) {
			delete(f.parts, key)
			return f.assemble(hdr, part)
		}
	}
}

func (f *Fragmenter) assemble(hdr *gramHdr, part *partial) (memo []byte, ok bool, err error) {
	var n int
	for _, frag := range part.frags {
		n += len(frag)
	}
	pressed := make([]byte, 0, n)
	for _, frag := range part.frags {
		pressed = append(pressed, frag...)
	}

	if f.sum32(pressed) != part.sum {
		return nil, false, fmt.Errorf("blake3 checksum mismatch "+
			"reassembling memo id %v; want %v", hdr.IDString(), hdr.SumString())
	}

	memo = pressed
	if part.algo != magic7b_none {
		if f.decomp == nil || part.algo != f.algo7 {
			return nil, false, fmt.Errorf("memo id %v compressed with "+
				"'%v' but this Fragmenter is configured for '%v'",
				hdr.IDString(), part.algo, f.algo7)
		}
		memo, err = depressBytes(f.decomp, pressed)
		if err != nil {
			return nil, false, fmt.Errorf("decompress('%v') of memo "+
				"id %v: '%v'", part.algo, hdr.IDString(), err)
		}
	}
	return memo, true, nil
}

func (f *Fragmenter) evictStale() {
	stale := f.StaleAfter
	if stale == 0 {
		stale = defaultStaleAfter
	}
	for key, part := range f.parts {
		if f.calls-part.touch > stale {
			pp("fragmenter evicting stale partial memo id %v from "+
				"'%v': %v of %v fragments after %v calls",
				base58.Encode(key.id[:]), key.src, part.have, part.total, stale)
			delete(f.parts, key)
		}
	}
}

// partsPending reports in-flight partial reassembly
// count; used by tests to verify eviction.
func (f *Fragmenter) partsPending() int { return len(f.parts) }
