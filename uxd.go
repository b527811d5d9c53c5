package memogram

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// MaxGramSizeUXD is a practical bound for unix-domain
// datagrams. The kernel will carry much larger ones if
// the socket buffers allow, but the default net.core
// wmem settings land around 208KB; two powers of two
// below that is safe without tuning.
const MaxGramSizeUXD = 65536

// maximum unix socket path, including the trailing NUL.
const maxUxdPathSize = 108

// UXDGram is a non-blocking unix-domain datagram
// Transport. Addresses are filesystem paths to bound
// sockets.
//
// Unlike UDP, a unix datagram to a missing or full peer
// fails synchronously: ECONNREFUSED when the path has no
// listener, ENOBUFS when buffers are exhausted. Both are
// in the engine's drop classification. EAGAIN reads as
// backpressure here and the gram is retried next pass.
type UXDGram struct {

	// Path is the filesystem path to bind. A stale
	// socket file at Path is removed at Open.
	Path string

	// SndBuf/RcvBuf, when positive, set SO_SNDBUF and
	// SO_RCVBUF at Open.
	SndBuf int
	RcvBuf int

	// MaxGram bounds one gram; zero gets
	// MaxGramSizeUXD.
	MaxGram int

	conn   *net.UnixConn
	raw    syscallConner
	opened bool
	rbuf   []byte
}

// NewUXDGram makes a closed UXDGram that will bind path
// at Open.
func NewUXDGram(path string) *UXDGram {
	return &UXDGram{Path: path}
}

func (s *UXDGram) Open() error {
	if s.opened {
		return nil
	}
	if len(s.Path)+1 > maxUxdPathSize {
		return fmt.Errorf("uxd path too long, %v bytes > max %v: '%v'",
			len(s.Path)+1, maxUxdPathSize, s.Path)
	}
	// clear any stale socket from a prior run.
	os.Remove(s.Path)

	conn, err := net.ListenUnixgram("unixgram",
		&net.UnixAddr{Name: s.Path, Net: "unixgram"})
	if err != nil {
		return err
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		os.Remove(s.Path)
		return err
	}
	if err := setSockBufs(raw, s.SndBuf, s.RcvBuf); err != nil {
		conn.Close()
		os.Remove(s.Path)
		return err
	}
	if s.MaxGram == 0 {
		s.MaxGram = MaxGramSizeUXD
	}
	s.conn = conn
	s.raw = raw
	s.rbuf = make([]byte, s.MaxGram)
	s.opened = true
	return nil
}

func (s *UXDGram) Close() error {
	if !s.opened {
		return nil
	}
	s.opened = false
	err := s.conn.Close()
	s.conn = nil
	s.raw = nil
	os.Remove(s.Path)
	return err
}

func (s *UXDGram) Opened() bool { return s.opened }

func (s *UXDGram) MaxGramSize() int {
	if s.MaxGram == 0 {
		return MaxGramSizeUXD
	}
	return s.MaxGram
}

func (s *UXDGram) Receive() (gram []byte, src string, err error) {
	if !s.opened {
		return nil, "", nil
	}
	var n int
	var from unix.Sockaddr
	var rerr error
	err = s.raw.Read(func(fd uintptr) bool {
		n, from, rerr = unix.Recvfrom(int(fd), s.rbuf, unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return nil, "", err
	}
	if rerr != nil {
		if errors.Is(rerr, unix.EAGAIN) || errors.Is(rerr, unix.EWOULDBLOCK) {
			return nil, "", nil
		}
		return nil, "", rerr
	}
	if n == 0 {
		return nil, "", nil
	}
	gram = append([]byte(nil), s.rbuf[:n]...)
	return gram, sockaddrString(from), nil
}

func (s *UXDGram) Send(b []byte, dst string) (n int, err error) {
	if !s.opened {
		return 0, nil
	}
	sa := &unix.SockaddrUnix{Name: dst}
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
			return 0, nil // peer buffer full, retry next pass
		}
		return 0, serr
	}
	return len(b), nil
}
