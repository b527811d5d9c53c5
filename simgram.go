package memogram

import (
	"fmt"
)

// simSend scripts the outcome of one SimGram.Send call.
type simSend struct {
	n   int // bytes accepted; -1 means all of them
	err error
}

// SimGram is an in-memory Transport for deterministic
// tests: incoming grams are injected, send outcomes can
// be scripted (partial counts, errors), and loopback
// mode reflects every fully-sent gram back into the
// receive queue so one engine can talk to itself.
//
// Everything is single threaded, like the engine that
// drives it.
type SimGram struct {
	name     string
	opened   bool
	maxGram  int
	loopback bool

	rx     Deque[gramAddr]
	script Deque[simSend]

	// every accepted chunk, in order: (bytes, dst).
	sends []gramAddr
}

// NewSimGram makes a closed SimGram named name.
func NewSimGram(name string) *SimGram {
	return &SimGram{
		name:    name,
		maxGram: MaxGramSizeUDP,
	}
}

// NewLoopbackSim makes a SimGram that reflects every
// fully-sent gram back to itself: the gram reappears on
// the receive side with the destination as its source.
func NewLoopbackSim(name string) *SimGram {
	s := NewSimGram(name)
	s.loopback = true
	return s
}

func (s *SimGram) Open() error {
	s.opened = true
	return nil
}

func (s *SimGram) Close() error {
	s.opened = false
	return nil
}

func (s *SimGram) Opened() bool { return s.opened }

func (s *SimGram) MaxGramSize() int { return s.maxGram }

// SetMaxGramSize overrides the simulated transport
// bound.
func (s *SimGram) SetMaxGramSize(n int) { s.maxGram = n }

// Inject queues an incoming gram from src, as if the
// network delivered it; the echo hook for tests.
func (s *SimGram) Inject(gram []byte, src string) {
	s.rx.PushBack(gramAddr{gram: gram, addr: src})
}

// ScriptSend queues the outcome of a future Send call:
// n bytes accepted (-1 for all) or err raised. Send
// consumes one scripted outcome per call; with the
// script empty, Send accepts everything.
func (s *SimGram) ScriptSend(n int, err error) {
	s.script.PushBack(simSend{n: n, err: err})
}

func (s *SimGram) Receive() (gram []byte, src string, err error) {
	ga, ok := s.rx.PopFront()
	if !ok {
		return nil, "", nil
	}
	return ga.gram, ga.addr, nil
}

func (s *SimGram) Send(b []byte, dst string) (n int, err error) {
	if len(b) > s.maxGram {
		return 0, fmt.Errorf("simgram %v: gram of %v bytes exceeds "+
			"max %v", s.name, len(b), s.maxGram)
	}
	outcome := simSend{n: -1}
	if sc, ok := s.script.PopFront(); ok {
		outcome = sc
	}
	if outcome.err != nil {
		return 0, outcome.err
	}
	n = len(b)
	if outcome.n >= 0 && outcome.n < n {
		n = outcome.n
	}
	if n > 0 {
		accepted := append([]byte(nil), b[:n]...)
		s.sends = append(s.sends, gramAddr{gram: accepted, addr: dst})
	}
	if s.loopback && n == len(b) {
		s.Inject(append([]byte(nil), b...), dst)
	}
	return n, nil
}

// Sends returns every accepted chunk so far, in order.
func (s *SimGram) Sends() []gramAddr { return s.sends }

// SendDsts returns just the destination of each accepted
// chunk, in order.
func (s *SimGram) SendDsts() (r []string) {
	for _, ga := range s.sends {
		r = append(r, ga.addr)
	}
	return
}
