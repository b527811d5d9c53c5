package memogram

import (
	"bytes"
	mathrand2 "math/rand/v2"
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test030_compress_inverses(t *testing.T) {

	cv.Convey("pressBytes then depressBytes should invert for "+
		"each algo, on compressible and incompressible inputs, "+
		"and the pressor pair must be reusable across memos",
		t, func() {

			rng := mathrand2.NewChaCha8([32]byte{30})
			random := make([]byte, 10_000)
			rng.Read(random)
			zeros := make([]byte, 10_000)

			for _, algo := range []string{"s2", "lz4", "zstd"} {
				comp, decomp, err := newPressor(algo)
				panicOn(err)

				for _, memo := range [][]byte{zeros, random, nil, {7}} {
					pressed, err := pressBytes(comp, memo)
					panicOn(err)
					back, err := depressBytes(decomp, pressed)
					panicOn(err)
					cv.So(bytes.Equal(back, memo), cv.ShouldBeTrue)
				}

				// the zero run must actually shrink.
				pressed, err := pressBytes(comp, zeros)
				panicOn(err)
				cv.So(len(pressed), cv.ShouldBeLessThan, len(zeros)/10)
			}

			// empty algo means no pressor at all.
			comp, decomp, err := newPressor("")
			panicOn(err)
			cv.So(comp, cv.ShouldBeNil)
			cv.So(decomp, cv.ShouldBeNil)

			_, _, err = newPressor("brotli")
			cv.So(err, cv.ShouldNotBeNil)
		})
}
