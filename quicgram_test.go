package memogram

import (
	"bytes"
	"context"
	mathrand2 "math/rand/v2"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test520_quic_datagram_round_trip(t *testing.T) {

	cv.Convey("a dialed QUICGram peer and a listening one "+
		"should exchange a fragmented memo as encrypted QUIC "+
		"DATAGRAM frames, and the listener should reply to the "+
		"source address it observed", t, func() {

		srvTLS, cliTLS, err := SelfSignedTLS()
		panicOn(err)

		lsn, err := ListenQUICGram("127.0.0.1:0", srvTLS)
		panicOn(err)
		defer lsn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		dial, err := DialQUICGram(ctx, lsn.LocalAddr(), cliTLS)
		panicOn(err)
		defer dial.Close()

		fragC, err := NewFragmenter(MaxGramSizeQUIC, "s2")
		panicOn(err)
		fragS, err := NewFragmenter(MaxGramSizeQUIC, "s2")
		panicOn(err)

		cli := NewMemoGram("cli", dial, fragC)
		srv := NewMemoGram("srv", lsn, fragS)
		panicOn(cli.Open())
		panicOn(srv.Open())

		rng := mathrand2.NewChaCha8([32]byte{52})
		big := make([]byte, 20_000)
		rng.Read(big)

		var srvGot []byte
		var srvSrc string
		srv.OnMemo = func(memo []byte, src string) {
			srvGot = memo
			srvSrc = src
		}
		var cliGot []byte
		cli.OnMemo = func(memo []byte, src string) {
			cliGot = memo
		}

		// dialed side: any dst reaches the one peer.
		cli.Memoit(big, lsn.LocalAddr())
		serviceUntil(t, 10*time.Second, func() bool {
			return srvGot != nil
		}, cli, srv)
		cv.So(bytes.Equal(srvGot, big), cv.ShouldBeTrue)
		cv.So(srvSrc, cv.ShouldNotEqual, "")

		srv.Memoit([]byte("ack from listener"), srvSrc)
		serviceUntil(t, 10*time.Second, func() bool {
			return cliGot != nil
		}, cli, srv)
		cv.So(string(cliGot), cv.ShouldEqual, "ack from listener")
	})
}

func Test521_quic_send_to_unknown_peer_drops(t *testing.T) {

	cv.Convey("a listener sending to an address with no "+
		"connection should surface as unreachable, so the engine "+
		"drops the gram instead of wedging", t, func() {

		srvTLS, _, err := SelfSignedTLS()
		panicOn(err)

		lsn, err := ListenQUICGram("127.0.0.1:0", srvTLS)
		panicOn(err)
		defer lsn.Close()

		m := NewMemoGram("srv", lsn, nil)
		panicOn(m.Open())

		m.Memoit([]byte("nobody home"), "127.0.0.1:9")
		panicOn(m.Service())

		cv.So(m.Stats().Drops(), cv.ShouldEqual, 1)
		_, _, inflight := m.PendingTx()
		cv.So(inflight, cv.ShouldBeFalse)
	})
}

func Test522_quic_close_tears_down_cleanly(t *testing.T) {

	cv.Convey("Close on both ends should stop the pumps and "+
		"leave the transports reporting closed; a closed "+
		"QUICGram cannot be reopened in place", t, func() {

		srvTLS, cliTLS, err := SelfSignedTLS()
		panicOn(err)

		lsn, err := ListenQUICGram("127.0.0.1:0", srvTLS)
		panicOn(err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		dial, err := DialQUICGram(ctx, lsn.LocalAddr(), cliTLS)
		panicOn(err)

		cv.So(dial.Opened(), cv.ShouldBeTrue)
		cv.So(lsn.Opened(), cv.ShouldBeTrue)

		panicOn(dial.Close())
		panicOn(lsn.Close())
		cv.So(dial.Opened(), cv.ShouldBeFalse)
		cv.So(lsn.Opened(), cv.ShouldBeFalse)

		cv.So(dial.Open(), cv.ShouldNotBeNil)

		// Close again is a no-op.
		panicOn(dial.Close())
	})
}
