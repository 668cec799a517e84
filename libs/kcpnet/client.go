// Package kcpnet drives sessions over real UDP sockets: one session for a
// Client, one per remote endpoint for a Server. Both are polled by the
// embedding loop through EarlyUpdate and AfterUpdate and must be used from a
// single goroutine.
package kcpnet

import (
	"net"

	"github.com/geph-official/gamekcp/libs/fastudp"
	"github.com/geph-official/gamekcp/libs/peer"
	"github.com/pkg/errors"
)

// ErrNotConnected is returned when no session exists.
var ErrNotConnected = errors.New("not connected")

// ClientCallbacks are the notifications a Client delivers.
type ClientCallbacks struct {
	OnConnected    func()
	OnData         func(data []byte, ch peer.Channel)
	OnDisconnected func()
	OnError        func(code peer.ErrorCode, err error)
}

// Client is the dialing side.
type Client struct {
	setting peer.Setting
	cb      ClientCallbacks
	opts    options

	conn   *fastudp.Conn
	remote *net.UDPAddr
	peer   *peer.Peer
}

// NewClient creates an idle client.
func NewClient(setting peer.Setting, cb ClientCallbacks, opts ...Option) *Client {
	c := &Client{setting: setting, cb: cb, opts: defaultOptions()}
	for _, o := range opts {
		o(&c.opts)
	}
	return c
}

func (c *Client) fail(code peer.ErrorCode, err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(code, err)
	}
}

// Connect resolves address, opens a socket and sends the handshake.
func (c *Client) Connect(address string) error {
	if c.peer != nil && c.peer.State() != peer.Disconnected {
		return errors.New("already connected")
	}
	remote, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		err = errors.Wrapf(err, "cannot resolve %v", address)
		c.fail(peer.DNSResolve, err)
		return err
	}
	network := "udp6"
	if remote.IP.To4() != nil {
		network = "udp4"
	}
	conn, err := fastudp.Listen(network, nil, fastudp.Options{
		ReadBuffer:  c.setting.RecvBufferSize,
		WriteBuffer: c.setting.SendBufferSize,
		QueueLength: c.opts.queueLength,
	})
	if err != nil {
		c.fail(peer.ConnectionClosed, err)
		return err
	}
	log := c.opts.log.WithField("remote", remote.String())
	p, err := peer.New(c.setting, peer.Callbacks{
		OnAuthenticated: func() {
			log.Debug("connected")
			if c.cb.OnConnected != nil {
				c.cb.OnConnected()
			}
		},
		OnData:         c.cb.OnData,
		OnDisconnected: c.onDisconnected,
		OnError:        c.cb.OnError,
	}, func(b []byte) error {
		return conn.WriteTo(b, remote)
	}, c.opts.peerOptions(log)...)
	if err != nil {
		conn.Close()
		return err
	}
	c.conn, c.remote, c.peer = conn, remote, p
	return p.Handshake()
}

func (c *Client) onDisconnected() {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected()
	}
}

// EarlyUpdate feeds every datagram from the server into the session, then
// delivers complete messages and checks liveness.
func (c *Client) EarlyUpdate() {
	if c.peer == nil || c.peer.State() == peer.Disconnected {
		return
	}
	for c.peer.State() != peer.Disconnected {
		d, ok, err := c.conn.TryRead()
		if err != nil {
			c.fail(peer.ConnectionClosed, err)
			c.peer.Disconnect()
			return
		}
		if !ok {
			break
		}
		if d.Addr.Port == c.remote.Port && d.Addr.IP.Equal(c.remote.IP) {
			c.peer.RawInput(d.Data)
		}
		d.Release()
	}
	c.peer.TickIncoming()
}

// AfterUpdate flushes whatever the application sent this frame.
func (c *Client) AfterUpdate() {
	if c.peer == nil {
		return
	}
	c.peer.TickOutgoing()
}

// Send sends data to the server.
func (c *Client) Send(data []byte, ch peer.Channel) error {
	if c.peer == nil {
		return ErrNotConnected
	}
	return c.peer.Send(data, ch)
}

// Disconnect closes the session and its socket.
func (c *Client) Disconnect() {
	if c.peer != nil {
		c.peer.Disconnect()
	}
}

// Connected reports whether the handshake finished and the session is alive.
func (c *Client) Connected() bool {
	return c.peer != nil && c.peer.State() == peer.Authenticated
}

// State returns the session state, Disconnected when there is none.
func (c *Client) State() peer.State {
	if c.peer == nil {
		return peer.Disconnected
	}
	return c.peer.State()
}

// LocalAddr returns the socket address, or nil.
func (c *Client) LocalAddr() *net.UDPAddr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// RemoteAddr returns the resolved server address, or nil.
func (c *Client) RemoteAddr() *net.UDPAddr {
	return c.remote
}
