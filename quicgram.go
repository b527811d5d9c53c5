package memogram

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sys/unix"
)

// MaxGramSizeQUIC bounds one QUIC DATAGRAM frame. The
// frame has to fit in a single QUIC packet along with
// its overhead, and we dial with InitialPacketSize 1200
// to survive tunnels with small MTUs (Tailscale defaults
// to 1280), so 1150 leaves headroom for the packet and
// frame headers.
const MaxGramSizeQUIC = 1150

// quicAlpn is the ALPN protocol name offered/required on
// QUICGram connections.
const quicAlpn = "memogram-1"

// quicGramConfig is shared by dial and listen sides.
func quicGramConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams:   true,
		InitialPacketSize: 1200,
		KeepAlivePeriod:   5 * time.Second,
	}
}

// QUICGram carries grams as unreliable QUIC DATAGRAM
// frames (RFC 9221): encrypted and authenticated like
// UDP never is, congestion controlled, but still
// fire-and-forget per gram. Addresses are the remote
// "host:port" strings of established connections.
//
// A QUICGram is either dialed to a single peer
// (DialQUICGram) or accepting many (ListenQUICGram).
// Internally connection pumps run on their own
// goroutines feeding a buffered channel; Receive and
// Send themselves never block, keeping the engine
// contract.
type QUICGram struct {
	mut sync.Mutex

	opened bool
	halt   chan struct{}

	// conns maps remote addr string to live connection.
	conns map[string]*quic.Conn

	rx chan gramAddr

	lsn   *quic.Listener
	laddr string
}

func newQUICGram() *QUICGram {
	return &QUICGram{
		conns: make(map[string]*quic.Conn),
		rx:    make(chan gramAddr, 1024),
		halt:  make(chan struct{}),
	}
}

// DialQUICGram connects to a single remote QUICGram
// listener and returns an opened Transport talking to
// it. Grams to any dst go to that peer.
func DialQUICGram(ctx context.Context, addr string, tlsConfig *tls.Config) (*QUICGram, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicGramConfig())
	if err != nil {
		return nil, err
	}
	select {
	case <-conn.HandshakeComplete():
	case <-conn.Context().Done():
		return nil, fmt.Errorf("quicgram dial to '%v': handshake "+
			"failed: %w", addr, context.Cause(conn.Context()))
	}
	s := newQUICGram()
	s.opened = true
	s.laddr = conn.LocalAddr().String()
	s.addConn(conn)
	return s, nil
}

// ListenQUICGram binds laddr and accepts QUICGram
// connections from any number of dialers. Grams can be
// sent back to any connected peer by its remote addr
// string, as reported by Receive.
func ListenQUICGram(laddr string, tlsConfig *tls.Config) (*QUICGram, error) {
	lsn, err := quic.ListenAddr(laddr, tlsConfig, quicGramConfig())
	if err != nil {
		return nil, err
	}
	s := newQUICGram()
	s.opened = true
	s.lsn = lsn
	s.laddr = lsn.Addr().String()
	go s.acceptLoop()
	return s, nil
}

func (s *QUICGram) acceptLoop() {
	ctx := context.Background()
	for {
		conn, err := s.lsn.Accept(ctx)
		if err != nil {
			// listener closed.
			return
		}
		select {
		case <-conn.HandshakeComplete():
			s.addConn(conn)
		case <-conn.Context().Done():
			alwaysPrintf("quicgram: handshake failure on accept "+
				"from '%v'", conn.RemoteAddr())
		case <-s.halt:
			conn.CloseWithError(0, "shutdown")
			return
		}
	}
}

func (s *QUICGram) addConn(conn *quic.Conn) {
	raddr := conn.RemoteAddr().String()
	s.mut.Lock()
	s.conns[raddr] = conn
	s.mut.Unlock()
	go s.pump(conn, raddr)
}

// pump moves incoming datagrams from one connection into
// the shared receive channel until the connection dies.
func (s *QUICGram) pump(conn *quic.Conn, raddr string) {
	defer func() {
		s.mut.Lock()
		if s.conns[raddr] == conn {
			delete(s.conns, raddr)
		}
		s.mut.Unlock()
	}()
	ctx := context.Background()
	for {
		b, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		select {
		case s.rx <- gramAddr{gram: b, addr: raddr}:
		case <-s.halt:
			return
		default:
			// engine is far behind; shed the gram like a
			// full socket buffer would.
		}
	}
}

// LocalAddr returns the bound "host:port".
func (s *QUICGram) LocalAddr() string { return s.laddr }

func (s *QUICGram) Open() error {
	// connections are established by Dial/Listen; Open
	// only confirms we still have a live transport.
	s.mut.Lock()
	defer s.mut.Unlock()
	if !s.opened {
		return fmt.Errorf("quicgram: closed; dial or listen again")
	}
	return nil
}

func (s *QUICGram) Close() error {
	s.mut.Lock()
	if !s.opened {
		s.mut.Unlock()
		return nil
	}
	s.opened = false
	close(s.halt)
	conns := s.conns
	s.conns = make(map[string]*quic.Conn)
	lsn := s.lsn
	s.lsn = nil
	s.mut.Unlock()

	for _, conn := range conns {
		conn.CloseWithError(0, "shutdown")
	}
	if lsn != nil {
		return lsn.Close()
	}
	return nil
}

func (s *QUICGram) Opened() bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.opened
}

func (s *QUICGram) MaxGramSize() int { return MaxGramSizeQUIC }

func (s *QUICGram) Receive() (gram []byte, src string, err error) {
	select {
	case ga := <-s.rx:
		return ga.gram, ga.addr, nil
	default:
		return nil, "", nil
	}
}

// Send transmits one DATAGRAM frame, all-or-nothing. A
// missing or dead destination surfaces as EHOSTUNREACH
// so the usual unreachable-peer drop applies.
func (s *QUICGram) Send(b []byte, dst string) (n int, err error) {
	s.mut.Lock()
	conn := s.conns[dst]
	if conn == nil && len(s.conns) == 1 && s.lsn == nil {
		// dialed single-peer mode: any dst means the peer.
		for _, c := range s.conns {
			conn = c
		}
	}
	s.mut.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("quicgram: no connection to "+
			"'%v': %w", dst, unix.EHOSTUNREACH)
	}
	if err := conn.SendDatagram(b); err != nil {
		return 0, fmt.Errorf("quicgram: send to '%v' failed: "+
			"'%v': %w", dst, err, unix.EHOSTUNREACH)
	}
	return len(b), nil
}

// SelfSignedTLS makes a throwaway ed25519 certificate
// and returns matching server and client tls configs for
// QUICGram. The client config trusts exactly this
// certificate. For anything beyond tests and closed
// networks, bring real certs.
func SelfSignedTLS() (srv, cli *tls.Config, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}
	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "memogram"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, pub, priv)
	if err != nil {
		return nil, nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	srv = &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  priv,
			Leaf:        leaf,
		}},
		NextProtos: []string{quicAlpn},
	}
	cli = &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		NextProtos: []string{quicAlpn},
	}
	return srv, cli, nil
}
