package memogram

import (
	"bytes"
	mathrand2 "math/rand/v2"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test510_uxd_round_trip_with_fragmentation(t *testing.T) {

	cv.Convey("two MemoGram peers over unix-domain datagram "+
		"sockets should exchange a fragmented memo, addressing "+
		"each other by socket path", t, func() {

		dir := t.TempDir()
		apath := filepath.Join(dir, "a.sock")
		bpath := filepath.Join(dir, "b.sock")

		fragA, err := NewFragmenter(4096, "lz4")
		panicOn(err)
		fragB, err := NewFragmenter(4096, "lz4")
		panicOn(err)

		a := NewMemoGram("a", NewUXDGram(apath), fragA)
		b := NewMemoGram("b", NewUXDGram(bpath), fragB)
		panicOn(a.Open())
		defer a.Close()
		panicOn(b.Open())
		defer b.Close()

		rng := mathrand2.NewChaCha8([32]byte{51})
		big := make([]byte, 40_000)
		rng.Read(big)

		var bGot []byte
		var bSrc string
		b.OnMemo = func(memo []byte, src string) {
			bGot = memo
			bSrc = src
		}

		a.Memoit(big, bpath)
		serviceUntil(t, 10*time.Second, func() bool {
			return bGot != nil
		}, a, b)

		cv.So(bytes.Equal(bGot, big), cv.ShouldBeTrue)
		// the peer's source is its bound socket path.
		cv.So(bSrc, cv.ShouldEqual, apath)
	})
}

func Test511_uxd_socket_file_lifecycle(t *testing.T) {

	cv.Convey("Open should claim the socket path, clearing any "+
		"stale socket first, and Close should remove it", t, func() {

		path := filepath.Join(t.TempDir(), "life.sock")

		u := NewUXDGram(path)
		panicOn(u.Open())
		_, err := os.Stat(path)
		cv.So(err, cv.ShouldBeNil)

		// a crashed prior run leaves a stale socket; a fresh
		// Open must still succeed.
		panicOn(u.Close())
		_, err = os.Stat(path)
		cv.So(os.IsNotExist(err), cv.ShouldBeTrue)

		panicOn(u.Open())
		cv.So(u.Opened(), cv.ShouldBeTrue)
		panicOn(u.Close())
	})

	cv.Convey("a path beyond the sockaddr_un limit should be "+
		"rejected at Open", t, func() {

		long := "/tmp/" + strings.Repeat("x", 200) + ".sock"
		u := NewUXDGram(long)
		err := u.Open()
		cv.So(err, cv.ShouldNotBeNil)
		cv.So(err.Error(), cv.ShouldContainSubstring, "too long")
	})
}

func Test512_uxd_send_to_missing_peer_is_classified(t *testing.T) {

	cv.Convey("sending to a socket path with no listener should "+
		"surface an errno the engine classifies as unreachable, "+
		"so the gram is dropped rather than wedging the slot",
		t, func() {

			dir := t.TempDir()
			u := NewUXDGram(filepath.Join(dir, "lone.sock"))
			m := NewMemoGram("lone", u, nil)
			panicOn(m.Open())
			defer m.Close()

			// a peer that bound the path and went away leaves
			// the socket file behind; sends to it are refused.
			dead := filepath.Join(dir, "dead.sock")
			lp, err := net.ListenUnixgram("unixgram",
				&net.UnixAddr{Name: dead, Net: "unixgram"})
			panicOn(err)
			lp.Close()
			_, err = os.Stat(dead)
			panicOn(err)

			m.Memoit([]byte("into the void"), dead)
			panicOn(m.Service())

			cv.So(m.Stats().Drops(), cv.ShouldEqual, 1)
			_, _, inflight := m.PendingTx()
			cv.So(inflight, cv.ShouldBeFalse)
		})
}
