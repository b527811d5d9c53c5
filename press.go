package memogram

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Whole-memo compression for the Fragmenter. The memo is
// compressed before segmentation and decompressed after
// reassembly, so every fragment of one memo carries the
// same algo byte in its magic word.

// compressor is implemented by
// *lz4.Writer
// *s2.Writer
// *zstd.Encoder
type compressor interface {
	Reset(io.Writer)
	Write(data []byte) (n int, err error)
	Close() error
}

// decompressor is implemented by
// *lz4.Reader
// *s2.Reader
// wrapZstdDecoder
type decompressor interface {
	Reset(io.Reader)
	Read(p []byte) (n int, err error)
}

// wrapZstdDecoder wraps a zstd.Decoder to drop the error
// return from its Reset, so the one decompressor
// interface covers all three of s2, lz4, zstd.
type wrapZstdDecoder struct {
	zstd.Decoder
}

func (d *wrapZstdDecoder) Reset(r io.Reader) {
	d.Decoder.Reset(r)
}

// newPressor returns a compressor/decompressor pair for
// algo, one of "", "s2", "lz4", "zstd". An empty algo
// returns a nil pair: no compression.
func newPressor(algo string) (comp compressor, decomp decompressor, err error) {
	switch algo {
	case "":
		return nil, nil, nil
	case "s2":
		comp = s2.NewWriter(nil)
		decomp = s2.NewReader(nil)
	case "lz4":
		w := lz4.NewWriter(nil)
		options := []lz4.Option{
			lz4.BlockChecksumOption(true),
			lz4.CompressionLevelOption(lz4.Fast),
		}
		if err := w.Apply(options...); err != nil {
			return nil, nil, fmt.Errorf("could not apply lz4 options: '%v'", err)
		}
		comp = w
		decomp = lz4.NewReader(nil)
	case "zstd":
		comp, err = zstd.NewWriter(io.Discard,
			zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, nil, err
		}
		var wrap wrapZstdDecoder
		zread, err := zstd.NewReader(nil)
		if err != nil {
			return nil, nil, err
		}
		// The constructor does not use the sync.WaitGroup
		// inside zstd.Decoder, so copying the struct into
		// the wrapper before first use is safe.
		wrap.Decoder = *zread
		decomp = &wrap
	default:
		return nil, nil, fmt.Errorf("unknown compression algo '%v'; "+
			"valid choices: s2, lz4, zstd", algo)
	}
	return
}

// pressBytes compresses by through comp into a fresh
// slice.
func pressBytes(comp compressor, by []byte) (pressed []byte, err error) {
	var buf bytes.Buffer
	comp.Reset(&buf)
	if _, err = comp.Write(by); err != nil {
		return nil, err
	}
	if err = comp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// depressBytes decompresses by through decomp into a
// fresh slice.
func depressBytes(decomp decompressor, by []byte) (memo []byte, err error) {
	decomp.Reset(bytes.NewReader(by))
	memo, err = io.ReadAll(decomp)
	if err != nil {
		return nil, err
	}
	return memo, nil
}
