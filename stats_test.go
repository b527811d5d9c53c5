package memogram

import (
	"strings"
	"testing"

	cv "github.com/glycerine/goconvey/convey"
)

func Test600_send_stats_track_sends_and_drops(t *testing.T) {

	cv.Convey("the transmit stats should count accepted sends, "+
		"their bytes, and unreachable drops, and render both "+
		"String and JSON summaries", t, func() {

		sim := NewLoopbackSim("sim600")
		m := NewMemoGram("stats", sim, nil)
		panicOn(m.Open())
		defer m.Close()

		m.Memoit([]byte("12345"), "x")
		m.Memoit([]byte("678"), "y")
		panicOn(m.Service())

		n, b := m.Stats().Sends()
		cv.So(n, cv.ShouldEqual, 2)
		cv.So(b, cv.ShouldEqual, 8)
		cv.So(m.Stats().Drops(), cv.ShouldEqual, 0)

		s := m.Stats().String()
		cv.So(s, cv.ShouldContainSubstring, "sends: 2")
		cv.So(s, cv.ShouldContainSubstring, "bytes: 8")

		js := string(m.Stats().JSON())
		cv.So(js, cv.ShouldContainSubstring, `"sends":2`)
		cv.So(js, cv.ShouldContainSubstring, `"bytes":8`)
		cv.So(strings.Contains(js, `"drops":0`), cv.ShouldBeTrue)
	})

	cv.Convey("an idle engine renders empty stats without "+
		"dividing by zero anywhere", t, func() {

		m := NewMemoGram("idle", NewSimGram("sim600b"), nil)
		cv.So(m.Stats().String(), cv.ShouldContainSubstring, "sends: 0")
		cv.So(len(m.Stats().JSON()), cv.ShouldBeGreaterThan, 0)
	})
}
