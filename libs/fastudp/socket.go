// Package fastudp wraps a UDPConn so that reads never block the caller.
// A background goroutine pulls datagrams off the socket, in batches on
// linux, into a bounded queue that TryRead drains.
package fastudp

import (
	"net"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"gopkg.in/tomb.v1"
)

const readQuantum = 16

// ErrClosed is returned once the Conn has been closed.
var ErrClosed = errors.New("fastudp: use of closed connection")

// Datagram is one received packet. Data comes from a shared pool and must be
// given back with Release.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// Release returns the buffer to the pool.
func (d Datagram) Release() {
	if d.Data != nil {
		free(d.Data)
	}
}

type batchReader interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}

// Conn is a UDP socket with a non-blocking read side.
type Conn struct {
	sock  *net.UDPConn
	batch batchReader
	death tomb.Tomb
	queue chan Datagram

	received uint64
	dropped  uint64
}

// Options tunes a Conn. Zero values keep the kernel defaults.
type Options struct {
	ReadBuffer  int
	WriteBuffer int
	// QueueLength bounds the datagrams waiting for TryRead. Default 1024.
	QueueLength int
}

// Listen opens a UDP socket on addr.
func Listen(network string, addr *net.UDPAddr, opts Options) (*Conn, error) {
	sock, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	conn, err := NewConn(sock, opts)
	if err != nil {
		sock.Close()
		return nil, err
	}
	return conn, nil
}

// NewConn takes ownership of sock and starts its reader.
func NewConn(sock *net.UDPConn, opts Options) (*Conn, error) {
	if opts.WriteBuffer > 0 {
		if err := sock.SetWriteBuffer(opts.WriteBuffer); err != nil {
			return nil, errors.Wrap(err, "cannot set write buffer")
		}
	}
	if opts.ReadBuffer > 0 {
		if err := sock.SetReadBuffer(opts.ReadBuffer); err != nil {
			return nil, errors.Wrap(err, "cannot set read buffer")
		}
	}
	if opts.QueueLength <= 0 {
		opts.QueueLength = 1024
	}
	c := &Conn{
		sock:  sock,
		queue: make(chan Datagram, opts.QueueLength),
	}
	if runtime.GOOS == "linux" {
		if la, ok := sock.LocalAddr().(*net.UDPAddr); ok && la.IP.To4() != nil {
			c.batch = ipv4.NewPacketConn(sock)
		} else {
			c.batch = ipv6.NewPacketConn(sock)
		}
	}
	go c.bkgRead()
	return c, nil
}

func (conn *Conn) bkgRead() {
	defer conn.death.Done()
	defer close(conn.queue)
	if conn.batch != nil {
		conn.readBatch()
	} else {
		conn.readSingle()
	}
}

func (conn *Conn) readBatch() {
	msgs := make([]ipv4.Message, readQuantum)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, maxDatagram)}
	}
	for {
		n, err := conn.batch.ReadBatch(msgs, 0)
		if err != nil {
			conn.death.Kill(err)
			return
		}
		for _, m := range msgs[:n] {
			addr, _ := m.Addr.(*net.UDPAddr)
			conn.push(m.Buffers[0][:m.N], addr)
		}
	}
}

func (conn *Conn) readSingle() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.sock.ReadFromUDP(buf)
		if err != nil {
			conn.death.Kill(err)
			return
		}
		conn.push(buf[:n], addr)
	}
}

func (conn *Conn) push(b []byte, addr *net.UDPAddr) {
	if addr == nil {
		return
	}
	d := Datagram{Data: malloc(len(b)), Addr: addr}
	copy(d.Data, b)
	atomic.AddUint64(&conn.received, 1)
	select {
	case conn.queue <- d:
	default:
		d.Release()
		atomic.AddUint64(&conn.dropped, 1)
	}
}

// TryRead returns the next queued datagram. ok is false when nothing is
// queued. Once the reader has died, queued datagrams are still returned and
// then the error that killed it.
func (conn *Conn) TryRead() (d Datagram, ok bool, err error) {
	select {
	case d, ok = <-conn.queue:
		if !ok {
			err = conn.death.Err()
			if err == nil {
				err = ErrClosed
			}
			return
		}
		return
	default:
		return
	}
}

// WriteTo sends p to addr right away.
func (conn *Conn) WriteTo(p []byte, addr *net.UDPAddr) error {
	_, err := conn.sock.WriteToUDP(p, addr)
	return errors.WithStack(err)
}

// Close closes the socket and waits for the reader to exit.
func (conn *Conn) Close() error {
	conn.death.Kill(ErrClosed)
	err := conn.sock.Close()
	conn.death.Wait()
	for d := range conn.queue {
		d.Release()
	}
	return errors.WithStack(err)
}

// LocalAddr returns the local address.
func (conn *Conn) LocalAddr() *net.UDPAddr {
	addr, _ := conn.sock.LocalAddr().(*net.UDPAddr)
	return addr
}

// Received returns how many datagrams the reader took off the socket.
func (conn *Conn) Received() uint64 {
	return atomic.LoadUint64(&conn.received)
}

// Dropped returns how many datagrams were lost to a full queue.
func (conn *Conn) Dropped() uint64 {
	return atomic.LoadUint64(&conn.dropped)
}
