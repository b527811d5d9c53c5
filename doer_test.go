package memogram

import (
	"fmt"
	"testing"
	"time"

	cv "github.com/glycerine/goconvey/convey"
)

func Test400_runner_drives_a_doer_through_its_lifecycle(t *testing.T) {

	cv.Convey("a Runner should Enter the Doable (reopening the "+
		"peer), tick its Service so queued memos flow, and Exit "+
		"(closing the peer) on Close", t, func() {

		sim := NewLoopbackSim("sim400")
		m := NewMemoGram("run", sim, nil)

		got := make(chan string, 1)
		m.OnMemo = func(memo []byte, src string) {
			select {
			case got <- string(memo):
			default:
			}
		}
		// enqueue before Start; after Start the engine
		// belongs to the Runner's goroutine.
		m.Memoit([]byte("ticked"), "peer")

		r := NewRunner(NewDoer(m), time.Millisecond)
		panicOn(r.Start())

		select {
		case memo := <-got:
			cv.So(memo, cv.ShouldEqual, "ticked")
		case <-time.After(5 * time.Second):
			t.Fatal("timeout: runner never delivered the memo")
		}

		r.Close()
		<-r.WhenDone()
		cv.So(r.Err(), cv.ShouldBeNil)
		cv.So(m.Opened(), cv.ShouldBeFalse) // Exit closed the peer

		// Close again is idempotent.
		r.Close()
	})
}

func Test401_runner_halts_on_fatal_service_error(t *testing.T) {

	cv.Convey("a fatal service error should end the Runner's "+
		"loop, close the peer, and surface via Err after "+
		"WhenDone", t, func() {

		sim := NewSimGram("sim401")
		m := NewMemoGram("boom", sim, nil)

		sim.ScriptSend(0, fmt.Errorf("wire on fire"))
		m.Memoit([]byte("x"), "y")

		r := NewRunner(NewDoer(m), time.Millisecond)
		panicOn(r.Start())

		select {
		case <-r.WhenDone():
		case <-time.After(5 * time.Second):
			t.Fatal("timeout: runner never halted on the fatal error")
		}
		cv.So(r.Err(), cv.ShouldNotBeNil)
		cv.So(r.Err().Error(), cv.ShouldContainSubstring, "wire on fire")
		cv.So(m.Opened(), cv.ShouldBeFalse)
	})
}

func Test402_tymee_doer_ticks_tymers_each_recur(t *testing.T) {

	cv.Convey("a TymeeDoer-driven Runner should run the peer's "+
		"tymer hook on every tick, reading the wound-in clock",
		t, func() {

			sim := NewSimGram("sim402")
			ty := NewTymee(NewMemoGram("tymee", sim, nil), time.Second)

			fake := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
			ticked := make(chan time.Time, 1)
			ty.OnTymer = func(now time.Time) {
				select {
				case ticked <- now:
				default:
				}
			}

			d := NewTymeeDoer(ty)
			d.Wind(func() time.Time { return fake })

			r := NewRunner(d, time.Millisecond)
			panicOn(r.Start())

			select {
			case now := <-ticked:
				cv.So(now.Equal(fake), cv.ShouldBeTrue)
			case <-time.After(5 * time.Second):
				t.Fatal("timeout: tymer hook never ran")
			}
			r.Close()
			cv.So(r.Err(), cv.ShouldBeNil)
		})
}
