package memogram

import (
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test300_tymer_hook_runs_between_receive_and_transmit(t *testing.T) {

	cv.Convey("each composite service pass should run the "+
		"OnTymer hook after the receive phase and before the "+
		"transmit phase", t, func() {

		sim := NewSimGram("sim300")
		ty := NewTymee(NewMemoGram("tymee", sim, nil), time.Second)
		panicOn(ty.Open())
		defer ty.Close()

		var events []string
		ty.OnMemo = func(memo []byte, src string) {
			events = append(events, "rx:"+string(memo))
		}
		ty.OnTymer = func(now time.Time) {
			// nothing sent yet when the tymers run.
			events = append(events, "tymer")
			cv.So(len(sim.Sends()), cv.ShouldEqual, 0)
		}

		sim.Inject([]byte("in"), "s")
		ty.Memoit([]byte("out"), "d")
		panicOn(ty.Service())

		cv.So(events, cv.ShouldResemble, []string{"rx:in", "tymer"})
		cv.So(sim.SendDsts(), cv.ShouldResemble, []string{"d"})
	})

	cv.Convey("the non-greedy composite should keep the same "+
		"phase order", t, func() {

		sim := NewSimGram("sim300b")
		ty := NewTymee(NewMemoGram("tymee", sim, nil), 0)
		panicOn(ty.Open())
		defer ty.Close()

		ran := 0
		ty.OnTymer = func(now time.Time) { ran++ }
		panicOn(ty.ServiceAllOnce())
		cv.So(ran, cv.ShouldEqual, 1)
	})
}

func Test301_tymer_winds_to_an_injected_clock(t *testing.T) {

	cv.Convey("Wind should replace the time source so tymers "+
		"read simulated time instead of the wall clock", t, func() {

		sim := NewSimGram("sim301")
		ty := NewTymee(NewMemoGram("tymee", sim, nil), time.Minute)
		panicOn(ty.Open())
		defer ty.Close()

		fake := time.Date(2000, 1, 2, 3, 4, 5, 0, time.UTC)
		ty.Wind(func() time.Time { return fake })

		var seen time.Time
		ty.OnTymer = func(now time.Time) { seen = now }

		ty.ServiceTymers()
		cv.So(seen.Equal(fake), cv.ShouldBeTrue)
		cv.So(ty.Now().Equal(fake), cv.ShouldBeTrue)

		// advancing the fake clock advances what tymers see.
		fake = fake.Add(time.Hour)
		ty.ServiceTymers()
		cv.So(seen.Sub(time.Date(2000, 1, 2, 3, 4, 5, 0, time.UTC)),
			cv.ShouldEqual, time.Hour)
	})
}
