package memogram

import (
	"fmt"
	"time"

	tdigest "github.com/caio/go-tdigest"
	gjson "github.com/goccy/go-json"
)

// sendStats tracks the transmit side: how big the grams
// are, how long the non-blocking sends take, and how
// many grams were dropped on unreachable peers. The
// t-digests give cheap quantiles without storing the
// samples.
//
// Owned and mutated only by the engine; read it between
// service calls, not during.
type sendStats struct {
	gramSizes *tdigest.TDigest // bytes per accepted send
	sendLat   *tdigest.TDigest // nanoseconds per Send call

	nSends int64 // Send calls that accepted bytes
	nBytes int64
	nDrops int64 // grams dropped on unreachable peers

	t0 time.Time
}

func newSendStats() *sendStats {
	sizes, err := tdigest.New(tdigest.Compression(100))
	panicOn(err)
	lat, err := tdigest.New(tdigest.Compression(100))
	panicOn(err)
	return &sendStats{
		gramSizes: sizes,
		sendLat:   lat,
		t0:        time.Now(),
	}
}

func (s *sendStats) observe(n int, elap time.Duration) {
	if n <= 0 {
		return
	}
	s.nSends++
	s.nBytes += int64(n)
	s.gramSizes.Add(float64(n))
	s.sendLat.Add(float64(elap.Nanoseconds()))
}

func (s *sendStats) drop() {
	s.nDrops++
}

// Sends returns the count of Send calls that accepted
// bytes, and the byte total.
func (s *sendStats) Sends() (n, bytes int64) { return s.nSends, s.nBytes }

// Drops returns the count of grams dropped on
// unreachable destinations.
func (s *sendStats) Drops() int64 { return s.nDrops }

func (s *sendStats) String() string {
	if s.nSends == 0 {
		return fmt.Sprintf("sendStats{sends: 0, drops: %v}", s.nDrops)
	}
	return fmt.Sprintf("sendStats{sends: %v, bytes: %v, drops: %v, "+
		"gram bytes p50: %0.0f, p99: %0.0f, send lat p50: %v, p99: %v, up: %v}",
		s.nSends, s.nBytes, s.nDrops,
		s.gramSizes.Quantile(0.50),
		s.gramSizes.Quantile(0.99),
		time.Duration(s.sendLat.Quantile(0.50)),
		time.Duration(s.sendLat.Quantile(0.99)),
		time.Since(s.t0),
	)
}

// JSON renders a summary for scraping/diagnostics.
func (s *sendStats) JSON() []byte {
	summary := struct {
		Sends      int64   `json:"sends"`
		Bytes      int64   `json:"bytes"`
		Drops      int64   `json:"drops"`
		GramP50    float64 `json:"gramBytesP50"`
		GramP99    float64 `json:"gramBytesP99"`
		SendLatP50 float64 `json:"sendLatNanosP50"`
		SendLatP99 float64 `json:"sendLatNanosP99"`
		UpNanos    int64   `json:"upNanos"`
	}{
		Sends:   s.nSends,
		Bytes:   s.nBytes,
		Drops:   s.nDrops,
		UpNanos: int64(time.Since(s.t0)),
	}
	if s.nSends > 0 {
		summary.GramP50 = s.gramSizes.Quantile(0.50)
		summary.GramP99 = s.gramSizes.Quantile(0.99)
		summary.SendLatP50 = s.sendLat.Quantile(0.50)
		summary.SendLatP99 = s.sendLat.Quantile(0.99)
	}
	by, err := gjson.Marshal(&summary)
	panicOn(err)
	return by
}
