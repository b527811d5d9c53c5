package memogram

import (
	"bytes"
	mathrand2 "math/rand/v2"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

// serviceUntil ticks every engine until cond holds or the
// timeout expires.
func serviceUntil(t *testing.T, timeout time.Duration, cond func() bool, engines ...*MemoGram) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, m := range engines {
			panicOn(m.Service())
		}
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func Test500_udp_round_trip_with_fragmentation(t *testing.T) {

	cv.Convey("two MemoGram peers over real loopback UDP should "+
		"exchange a memo much larger than one datagram, and the "+
		"receiver should be able to reply to the observed source "+
		"address", t, func() {

		fragA, err := NewFragmenter(1200, "zstd")
		panicOn(err)
		fragB, err := NewFragmenter(1200, "zstd")
		panicOn(err)

		a := NewMemoGram("a", NewUDPGram("127.0.0.1:0"), fragA)
		b := NewMemoGram("b", NewUDPGram("127.0.0.1:0"), fragB)
		panicOn(a.Open())
		defer a.Close()
		panicOn(b.Open())
		defer b.Close()

		rng := mathrand2.NewChaCha8([32]byte{50})
		big := make([]byte, 50_000)
		rng.Read(big)

		var bGot []byte
		var bSrc string
		b.OnMemo = func(memo []byte, src string) {
			bGot = memo
			bSrc = src
		}
		var aGot []byte
		a.OnMemo = func(memo []byte, src string) {
			aGot = memo
		}

		baddr := b.Transport().(*UDPGram).LocalAddr()
		a.Memoit(big, baddr)

		serviceUntil(t, 10*time.Second, func() bool {
			return bGot != nil
		}, a, b)
		cv.So(bytes.Equal(bGot, big), cv.ShouldBeTrue)
		cv.So(bSrc, cv.ShouldNotEqual, "")

		// reply to the source address b observed.
		b.Memoit([]byte("got it"), bSrc)
		serviceUntil(t, 10*time.Second, func() bool {
			return aGot != nil
		}, a, b)
		cv.So(string(aGot), cv.ShouldEqual, "got it")
	})
}

func Test501_udp_receive_is_nonblocking(t *testing.T) {

	cv.Convey("Receive on an idle UDP socket should return "+
		"immediately with nothing, not block", t, func() {

		u := NewUDPGram("127.0.0.1:0")
		panicOn(u.Open())
		defer u.Close()

		t0 := time.Now()
		for i := 0; i < 100; i++ {
			gram, src, err := u.Receive()
			panicOn(err)
			cv.So(gram, cv.ShouldBeNil)
			cv.So(src, cv.ShouldEqual, "")
		}
		// 100 polls of a non-blocking socket are fast; any
		// blocking path would dwarf this bound.
		cv.So(time.Since(t0), cv.ShouldBeLessThan, time.Second)
	})

	cv.Convey("a closed UDPGram should report not-opened and "+
		"its Receive and Send should be inert", t, func() {

		u := NewUDPGram("127.0.0.1:0")
		cv.So(u.Opened(), cv.ShouldBeFalse)
		gram, _, err := u.Receive()
		panicOn(err)
		cv.So(gram, cv.ShouldBeNil)
		n, err := u.Send([]byte("x"), "127.0.0.1:1")
		panicOn(err)
		cv.So(n, cv.ShouldEqual, 0)
	})
}

func Test502_udp_socket_buffer_options(t *testing.T) {

	cv.Convey("requesting SO_SNDBUF/SO_RCVBUF sizes at Open "+
		"should not fail, and the defaults should leave MaxGram "+
		"at the UDP bound", t, func() {

		u := NewUDPGram("127.0.0.1:0")
		u.SndBuf = 1 << 20
		u.RcvBuf = 1 << 20
		panicOn(u.Open())
		defer u.Close()

		cv.So(u.MaxGramSize(), cv.ShouldEqual, MaxGramSizeUDP)
		cv.So(u.LocalAddr(), cv.ShouldNotEqual, "")
	})
}
