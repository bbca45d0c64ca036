package sink

import (
	"net"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// UDPWriter sends RTP packets to one UDP destination.
type UDPWriter struct {
	conn *net.UDPConn
	buf  []byte
}

var _ PacketWriter = (*UDPWriter)(nil)

// DialUDP returns a writer sending to addr ("host:port").
func DialUDP(addr string) (*UDPWriter, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", addr)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &UDPWriter{conn: conn, buf: make([]byte, 1500)}, nil
}

// WriteRTP implements PacketWriter. It is not safe for concurrent use.
func (u *UDPWriter) WriteRTP(pkt *rtp.Packet) error {
	if n := pkt.MarshalSize(); n > len(u.buf) {
		u.buf = make([]byte, n)
	}
	n, err := pkt.MarshalTo(u.buf)
	if err != nil {
		return errors.Wrap(err, "marshal rtp")
	}
	_, err = u.conn.Write(u.buf[:n])
	return err
}

// LocalAddr returns the local socket address.
func (u *UDPWriter) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Close closes the socket.
func (u *UDPWriter) Close() error {
	return u.conn.Close()
}
