package memogram

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// UDP payload bounds. The ipv4 maximum is 65535 minus
// the worst-case 60 byte IP header and the 8 byte UDP
// header. The maximum payload guaranteed deliverable
// over arbitrary ipv4 routes (though never guaranteed
// delivered) is 508 bytes: the 576 byte minimum maximum
// reassembly buffer size, minus those same headers.
// Anything larger may be dropped by any router for any
// reason. Stay at or under MaxSafeGramSizeUDP on the
// open internet; the full bound is fine on a LAN or
// loopback.
const (
	MaxGramSizeUDP     = 65507
	MaxGramSizeUDPv6   = 65527 // ipv6 headers are accounted differently
	MaxSafeGramSizeUDP = 508
)

// UDPGram is a non-blocking UDP datagram Transport.
// Addresses are "host:port" strings.
//
// I/O goes through the raw fd with MSG_DONTWAIT, never
// through the runtime poller's parking path, so Receive
// and Send return immediately: EAGAIN is reported as
// "nothing available"/zero-count, everything else
// surfaces for the engine to classify.
type UDPGram struct {

	// Laddr is the local listen address requested at
	// Open, e.g. "127.0.0.1:0". Empty means ":0".
	Laddr string

	// SndBuf/RcvBuf, when positive, set SO_SNDBUF and
	// SO_RCVBUF at Open. The kernel doubles the value it
	// is handed for bookkeeping overhead. On UDP the
	// send buffer bounds the largest outgoing datagram.
	SndBuf int
	RcvBuf int

	// MaxGram bounds one gram; zero gets
	// MaxGramSizeUDP.
	MaxGram int

	conn   *net.UDPConn
	raw    syscallConner
	laddr  string
	opened bool
	rbuf   []byte

	dstCache map[string]unix.Sockaddr
}

// the part of syscall.RawConn we drive.
type syscallConner interface {
	Read(f func(fd uintptr) (done bool)) error
	Write(f func(fd uintptr) (done bool)) error
	Control(f func(fd uintptr)) error
}

// NewUDPGram makes a closed UDPGram that will listen on
// laddr at Open.
func NewUDPGram(laddr string) *UDPGram {
	return &UDPGram{
		Laddr:    laddr,
		dstCache: make(map[string]unix.Sockaddr),
	}
}

func (s *UDPGram) Open() error {
	if s.opened {
		return nil
	}
	laddr := s.Laddr
	if laddr == "" {
		laddr = ":0"
	}
	ua, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return err
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return err
	}
	if err := setSockBufs(raw, s.SndBuf, s.RcvBuf); err != nil {
		conn.Close()
		return err
	}
	if s.MaxGram == 0 {
		s.MaxGram = MaxGramSizeUDP
	}
	if s.dstCache == nil {
		s.dstCache = make(map[string]unix.Sockaddr)
	}
	s.conn = conn
	s.raw = raw
	s.laddr = conn.LocalAddr().String()
	s.rbuf = make([]byte, MaxGramSizeUDPv6)
	s.opened = true
	return nil
}

func setSockBufs(raw syscallConner, sndBuf, rcvBuf int) error {
	if sndBuf <= 0 && rcvBuf <= 0 {
		return nil
	}
	var serr error
	err := raw.Control(func(fd uintptr) {
		if sndBuf > 0 {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET,
				unix.SO_SNDBUF, sndBuf)
			if serr != nil {
				return
			}
		}
		if rcvBuf > 0 {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET,
				unix.SO_RCVBUF, rcvBuf)
		}
	})
	if err != nil {
		return err
	}
	return serr
}

func (s *UDPGram) Close() error {
	if !s.opened {
		return nil
	}
	s.opened = false
	err := s.conn.Close()
	s.conn = nil
	s.raw = nil
	return err
}

func (s *UDPGram) Opened() bool { return s.opened }

// LocalAddr returns the bound "host:port" after Open;
// useful with a ":0" request.
func (s *UDPGram) LocalAddr() string { return s.laddr }

func (s *UDPGram) MaxGramSize() int {
	if s.MaxGram == 0 {
		return MaxGramSizeUDP
	}
	return s.MaxGram
}

func (s *UDPGram) Receive() (gram []byte, src string, err error) {
	if !s.opened {
		return nil, "", nil
	}
	var n int
	var from unix.Sockaddr
	var rerr error
	err = s.raw.Read(func(fd uintptr) bool {
		n, from, rerr = unix.Recvfrom(int(fd), s.rbuf, unix.MSG_DONTWAIT)
		return true // never park; EAGAIN means nothing now.
	})
	if err != nil {
		return nil, "", err
	}
	if rerr != nil {
		if errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK) {
			return nil, "", nil // nothing available now
		}
		return nil, "", rerr
	}
	if n == 0 {
		return nil, "", nil
	}
	gram = append([]byte(nil), s.rbuf[:n]...)
	return gram, sockaddrString(from), nil
}

func (s *UDPGram) Send(b []byte, dst string) (n int, err error) {
	if !s.opened {
		return 0, nil
	}
	sa, ok := s.dstCache[dst]
	if !ok {
		sa, err = udpSockaddr(dst)
		if err != nil {
			return 0, err
		}
		s.dstCache[dst] = sa
	}
	var serr error
	err = s.raw.Write(func(fd uintptr) bool {
		serr = unix.Sendto(int(fd), b, unix.MSG_DONTWAIT, sa)
		return true
	})
	if err != nil {
		return 0, err
	}
	if serr != nil {
		if errors.Is(serr, unix.EAGAIN) || errors.Is(serr, unix.EWOULDBLOCK) {
			return 0, nil // socket buffer full, retry next pass
		}
		return 0, serr
	}
	// UDP sendto is all-or-error: no partial counts.
	return len(b), nil
}

// udpSockaddr resolves a "host:port" destination to the
// sockaddr form sendto wants.
func udpSockaddr(dst string) (unix.Sockaddr, error) {
	ua, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return nil, err
	}
	if ip4 := ua.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: ua.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip6 := ua.IP.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("cannot form sockaddr for dst '%v'", dst)
	}
	sa := &unix.SockaddrInet6{Port: ua.Port}
	copy(sa.Addr[:], ip6)
	return sa, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(),
			strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(),
			strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	}
	return ""
}
