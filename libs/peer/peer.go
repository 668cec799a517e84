// Package peer implements one end of a session: the cookie handshake,
// reliable and unreliable channels on top of a kcp engine, and keepalive.
//
// A Peer never blocks and never starts goroutines. The owner feeds it raw
// datagrams with RawInput and calls TickIncoming and TickOutgoing once per
// frame, in that order.
package peer

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/geph-official/gamekcp/libs/erand"
	"github.com/geph-official/gamekcp/libs/kcp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var defaultLog logrus.FieldLogger

func init() {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	if os.Getenv("KCPLOG") != "" {
		l.SetLevel(logrus.DebugLevel)
	}
	defaultLog = l
}

// DefaultLogger is the logger used when none is injected.
func DefaultLogger() logrus.FieldLogger {
	return defaultLog
}

// Callbacks are invoked synchronously from RawInput, the tick methods,
// Send and Disconnect. Nil callbacks are skipped.
type Callbacks struct {
	OnAuthenticated func()
	// OnData gets a slice that is only valid during the call.
	OnData         func(data []byte, ch Channel)
	OnDisconnected func()
	OnError        func(code ErrorCode, err error)
}

// Option customizes a Peer.
type Option func(*Peer)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Peer) { p.log = log }
}

// WithClock replaces the millisecond clock.
func WithClock(clock func() uint32) Option {
	return func(p *Peer) { p.clock = clock }
}

// WithRand sets the source the local cookie is drawn from.
func WithRand(r io.Reader) Option {
	return func(p *Peer) { p.rng = r }
}

// Accepting marks the peer as the listening side: it starts Connected and
// answers the first Hello.
func Accepting() Option {
	return func(p *Peer) { p.accepting = true }
}

// Peer is one session.
type Peer struct {
	setting   Setting
	cb        Callbacks
	rawSend   func([]byte) error
	log       logrus.FieldLogger
	clock     func() uint32
	rng       io.Reader
	accepting bool

	state         State
	engine        *kcp.KCP
	localCookie   uint32
	remoteCookie  uint32
	pendingCookie uint32
	lastReceive   uint32
	lastPing      uint32
	sendErr       error

	sendBuf []byte
	recvBuf []byte
	rawBuf  []byte
}

// New creates a session that writes datagrams through rawSend. Dialing peers
// start Connecting and need Handshake; accepting peers start Connected.
func New(setting Setting, cb Callbacks, rawSend func([]byte) error, opts ...Option) (*Peer, error) {
	if err := setting.Validate(); err != nil {
		return nil, err
	}
	p := &Peer{
		setting: setting,
		cb:      cb,
		rawSend: rawSend,
		log:     defaultLog,
		clock:   kcp.CurrentMS,
		state:   Connecting,
	}
	for _, o := range opts {
		o(p)
	}
	cookie, err := erand.Cookie(p.rng)
	if err != nil {
		return nil, err
	}
	p.localCookie = cookie
	p.log = p.log.WithField("cookie", cookie)
	if p.accepting {
		p.state = Connected
	}

	p.engine = kcp.NewKCP(0, p.output)
	if err := p.engine.SetMtu(setting.Mtu); err != nil {
		return nil, err
	}
	if err := p.engine.ReserveBytes(datagramHeader); err != nil {
		return nil, err
	}
	p.engine.SetNoDelay(setting.NoDelay, setting.Interval, setting.FastResend, !setting.CongestionWindow)
	p.engine.SetWindowSize(setting.SendWindowSize, setting.RecvWindowSize)
	p.engine.SetDeadLink(uint32(setting.MaxRetransmits))
	p.engine.SetQueueLimit(setting.QueueLimit)

	p.sendBuf = make([]byte, setting.ReliableMax()+1)
	p.recvBuf = make([]byte, setting.ReliableMax()+1)
	p.rawBuf = make([]byte, setting.Mtu)
	now := p.clock()
	p.lastReceive = now
	p.lastPing = now
	return p, nil
}

// State returns the session state.
func (p *Peer) State() State { return p.state }

// LocalCookie returns the cookie stamped on outgoing datagrams.
func (p *Peer) LocalCookie() uint32 { return p.localCookie }

// RemoteCookie returns the cookie learned at the handshake, or 0.
func (p *Peer) RemoteCookie() uint32 { return p.remoteCookie }

// Stats returns the engine counters.
func (p *Peer) Stats() kcp.Stats { return p.engine.Stats() }

// output frames an engine flush into a reliable datagram in place.
func (p *Peer) output(buf []byte) {
	buf[0] = byte(Reliable)
	binary.LittleEndian.PutUint32(buf[1:], p.localCookie)
	if err := p.rawSend(buf); err != nil && p.sendErr == nil {
		p.sendErr = err
	}
}

func (p *Peer) sendReliable(h reliableHeader, payload []byte) error {
	p.sendBuf[0] = byte(h)
	n := copy(p.sendBuf[1:], payload)
	return p.engine.Send(p.sendBuf[:n+1])
}

func (p *Peer) sendUnreliable(h unreliableHeader, payload []byte) error {
	p.rawBuf[0] = byte(Unreliable)
	binary.LittleEndian.PutUint32(p.rawBuf[1:], p.localCookie)
	p.rawBuf[datagramHeader] = byte(h)
	n := copy(p.rawBuf[datagramHeader+1:], payload)
	return p.rawSend(p.rawBuf[:datagramHeader+1+n])
}

func (p *Peer) fail(code ErrorCode, err error) {
	p.log.WithField("code", code).WithError(err).Debug("session error")
	if p.cb.OnError != nil {
		p.cb.OnError(code, err)
	}
}

// Handshake sends the Hello of a dialing peer.
func (p *Peer) Handshake() error {
	if p.state != Connecting {
		return errors.Errorf("handshake in state %v", p.state)
	}
	if err := p.sendReliable(headerHello, nil); err != nil {
		return err
	}
	p.state = Connected
	p.log.Debug("hello queued")
	return nil
}

// Send queues a payload. Oversized reliable payloads are fatal to the
// session; oversized unreliable payloads are only refused.
func (p *Peer) Send(data []byte, ch Channel) error {
	if p.state != Authenticated {
		return errors.Wrapf(ErrNotAuthenticated, "state %v", p.state)
	}
	if len(data) == 0 {
		return ErrEmptyMessage
	}
	switch ch {
	case Reliable:
		if len(data) > p.setting.ReliableMax() {
			err := errors.Wrapf(ErrMessageTooLarge, "%v bytes, reliable max %v", len(data), p.setting.ReliableMax())
			p.fail(InvalidSend, err)
			p.Disconnect()
			return err
		}
		if err := p.sendReliable(headerData, data); err != nil {
			p.fail(InvalidSend, err)
			p.Disconnect()
			return err
		}
	case Unreliable:
		if len(data) > p.setting.UnreliableMax() {
			err := errors.Wrapf(ErrMessageTooLarge, "%v bytes, unreliable max %v", len(data), p.setting.UnreliableMax())
			p.fail(InvalidSend, err)
			return err
		}
		if err := p.sendUnreliable(headerUnreliableData, data); err != nil {
			p.fail(ConnectionClosed, err)
			p.Disconnect()
			return err
		}
	default:
		return errors.Wrapf(ErrUnknownChannel, "%v", ch)
	}
	return nil
}

// RawInput handles one datagram addressed to this session.
func (p *Peer) RawInput(datagram []byte) {
	if p.state == Disconnected {
		return
	}
	if len(datagram) < datagramHeader {
		p.log.WithField("len", len(datagram)).Debug("runt datagram dropped")
		return
	}
	cookie := binary.LittleEndian.Uint32(datagram[1:])
	if p.state == Authenticated && cookie != p.remoteCookie {
		p.log.WithField("got", cookie).Debug("cookie mismatch, datagram dropped")
		return
	}
	body := datagram[datagramHeader:]
	switch Channel(datagram[0]) {
	case Reliable:
		if err := p.engine.Input(body); err != nil {
			p.fail(InvalidReceive, errors.Wrap(err, "reliable datagram"))
			return
		}
		p.pendingCookie = cookie
		p.lastReceive = p.clock()
	case Unreliable:
		if p.state != Authenticated {
			p.log.Debug("unreliable datagram before handshake dropped")
			return
		}
		if len(body) == 0 {
			p.log.Debug("empty unreliable datagram dropped")
			return
		}
		switch unreliableHeader(body[0]) {
		case headerUnreliableData:
			p.lastReceive = p.clock()
			if p.cb.OnData != nil {
				p.cb.OnData(body[1:], Unreliable)
			}
		case headerDisconnect:
			p.log.Debug("remote disconnected")
			p.Disconnect()
		default:
			p.log.WithField("header", body[0]).Debug("unknown unreliable header dropped")
		}
	default:
		p.log.WithField("channel", datagram[0]).Debug("unknown channel dropped")
	}
}

// TickIncoming checks liveness and delivers every complete reliable message.
func (p *Peer) TickIncoming() {
	if p.state == Disconnected {
		return
	}
	now := p.clock()
	if int32(now-p.lastReceive) >= int32(p.setting.Timeout) {
		p.fail(Timeout, errors.Errorf("nothing received for %vms", now-p.lastReceive))
		p.Disconnect()
		return
	}
	if p.engine.Dead() {
		p.fail(Timeout, errors.Errorf("segment retransmitted %v times", p.setting.MaxRetransmits))
		p.Disconnect()
		return
	}
	if p.state == Authenticated && int32(now-p.lastPing) >= int32(p.setting.PingInterval) {
		p.lastPing = now
		if err := p.sendReliable(headerPing, nil); err != nil {
			p.fail(Unexpected, err)
		}
	}
	if p.engine.Overloaded() {
		st := p.engine.Stats()
		p.fail(Congestion, errors.Errorf("processing too slow: %v queued, %v in flight, %v buffered",
			st.SendQueue, st.SendBuffer, st.ReceiveBuffer))
		p.engine.Release()
		p.Disconnect()
		return
	}
	for p.state != Disconnected {
		size := p.engine.PeekSize()
		if size < 0 {
			return
		}
		if size > len(p.recvBuf) {
			p.recvBuf = make([]byte, size)
		}
		n, err := p.engine.Receive(p.recvBuf)
		if err != nil {
			p.fail(Unexpected, err)
			p.Disconnect()
			return
		}
		p.handleMessage(p.recvBuf[:n])
	}
}

func (p *Peer) handleMessage(msg []byte) {
	if len(msg) == 0 {
		p.fail(InvalidReceive, errors.Wrap(ErrMalformed, "empty reliable message"))
		p.Disconnect()
		return
	}
	h, payload := reliableHeader(msg[0]), msg[1:]
	switch p.state {
	case Connected:
		if h != headerHello {
			p.fail(InvalidReceive, errors.Errorf("header %v before handshake", h))
			p.Disconnect()
			return
		}
		if p.accepting {
			if err := p.sendReliable(headerHello, nil); err != nil {
				p.fail(Unexpected, err)
				p.Disconnect()
				return
			}
		}
		p.remoteCookie = p.pendingCookie
		p.state = Authenticated
		p.lastPing = p.clock()
		p.log.WithField("remote_cookie", p.remoteCookie).Debug("authenticated")
		if p.cb.OnAuthenticated != nil {
			p.cb.OnAuthenticated()
		}
	case Authenticated:
		switch h {
		case headerPing:
		case headerData:
			if p.cb.OnData != nil {
				p.cb.OnData(payload, Reliable)
			}
		default:
			p.fail(InvalidReceive, errors.Errorf("header %v after handshake", h))
			p.Disconnect()
		}
	default:
		p.fail(InvalidReceive, errors.Errorf("message in state %v", p.state))
		p.Disconnect()
	}
}

// TickOutgoing flushes the engine. A failed write disconnects.
func (p *Peer) TickOutgoing() {
	if p.state == Disconnected {
		return
	}
	p.engine.Update(p.clock())
	if err := p.sendErr; err != nil {
		p.sendErr = nil
		p.fail(ConnectionClosed, errors.Wrap(err, "flush"))
		p.Disconnect()
	}
}

// Disconnect tears the session down. It is safe to call repeatedly;
// OnDisconnected fires once.
func (p *Peer) Disconnect() {
	if p.state == Disconnected {
		return
	}
	if p.state == Authenticated {
		for i := 0; i < 5; i++ {
			_ = p.sendUnreliable(headerDisconnect, nil)
		}
	}
	p.state = Disconnected
	p.engine.Release()
	p.log.Debug("disconnected")
	if p.cb.OnDisconnected != nil {
		p.cb.OnDisconnected()
	}
}
