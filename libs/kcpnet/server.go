package kcpnet

import (
	"net"
	"sync/atomic"

	"github.com/geph-official/gamekcp/libs/fastudp"
	"github.com/geph-official/gamekcp/libs/kcp"
	"github.com/geph-official/gamekcp/libs/limitcache"
	"github.com/geph-official/gamekcp/libs/peer"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnknownConnection is returned for ids that are not connected.
var ErrUnknownConnection = errors.New("unknown connection id")

// ServerCallbacks are the notifications a Server delivers. OnConnected and
// OnDisconnected only fire for sessions that completed the handshake.
type ServerCallbacks struct {
	OnConnected    func(id int)
	OnData         func(id int, data []byte, ch peer.Channel)
	OnDisconnected func(id int)
	OnError        func(id int, code peer.ErrorCode, err error)
}

// ServerStats is a snapshot published after every AfterUpdate. Segment
// counters include sessions that already closed.
type ServerStats struct {
	Connections   int
	Authenticated int

	Accepted    uint64
	Rejected    uint64
	Blacklisted uint64
	RateLimited uint64

	SocketReceived uint64
	SocketDropped  uint64

	OutPkts         uint64
	OutBytes        uint64
	InSegs          uint64
	RetransSegs     uint64
	FastRetransSegs uint64
	LostSegs        uint64
	RepeatSegs      uint64
}

func (st *ServerStats) addSegments(s kcp.Stats) {
	st.OutPkts += s.OutPkts
	st.OutBytes += s.OutBytes
	st.InSegs += s.InSegs
	st.RetransSegs += s.RetransSegs
	st.FastRetransSegs += s.FastRetransSegs
	st.LostSegs += s.LostSegs
	st.RepeatSegs += s.RepeatSegs
}

type connection struct {
	id            int
	key           string
	addr          *net.UDPAddr
	peer          *peer.Peer
	authenticated bool
}

// Server is the listening side.
type Server struct {
	setting peer.Setting
	cb      ServerCallbacks
	opts    options
	log     logrus.FieldLogger

	conn      *fastudp.Conn
	byAddr    map[string]*connection
	byID      map[int]*connection
	nextID    int
	removals  []*connection
	blacklist *cache.Cache
	limits    *limitcache.Cache

	// counters carries the totals of closed sessions
	counters ServerStats
	stats    atomic.Value
}

// NewServer creates a stopped server.
func NewServer(setting peer.Setting, cb ServerCallbacks, opts ...Option) (*Server, error) {
	if err := setting.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		setting: setting,
		cb:      cb,
		opts:    defaultOptions(),
		byAddr:  make(map[string]*connection),
		byID:    make(map[int]*connection),
	}
	for _, o := range opts {
		o(&s.opts)
	}
	s.log = s.opts.log
	if s.opts.blacklistTTL > 0 {
		s.blacklist = cache.New(s.opts.blacklistTTL, s.opts.blacklistTTL/5)
	}
	if s.opts.rateLimit > 0 {
		limits, err := limitcache.New(16384, s.opts.rateLimit, s.opts.rateBurst)
		if err != nil {
			return nil, err
		}
		s.limits = limits
	}
	s.stats.Store(ServerStats{})
	return s, nil
}

// Start binds the socket.
func (s *Server) Start(address string) error {
	if s.conn != nil {
		return errors.New("server already started")
	}
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return errors.Wrapf(err, "cannot resolve %v", address)
	}
	network := "udp"
	if !s.setting.DualMode && (laddr.IP == nil || laddr.IP.To4() != nil) {
		network = "udp4"
	}
	conn, err := fastudp.Listen(network, laddr, fastudp.Options{
		ReadBuffer:  s.setting.RecvBufferSize,
		WriteBuffer: s.setting.SendBufferSize,
		QueueLength: s.opts.queueLength,
	})
	if err != nil {
		return err
	}
	s.conn = conn
	s.log.WithField("addr", conn.LocalAddr().String()).Info("server listening")
	return nil
}

// Stop disconnects every session and closes the socket.
func (s *Server) Stop() {
	if s.conn == nil {
		return
	}
	for _, c := range s.byID {
		c.peer.Disconnect()
	}
	s.removePending()
	s.conn.Close()
	s.conn = nil
	s.log.Info("server stopped")
}

// LocalAddr returns the bound address, or nil.
func (s *Server) LocalAddr() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Server) reject(key string) {
	s.counters.Rejected++
	if s.blacklist != nil {
		s.blacklist.SetDefault(key, true)
	}
}

func (s *Server) newConnection(addr *net.UDPAddr, key string) (*connection, error) {
	s.nextID++
	c := &connection{id: s.nextID, key: key, addr: addr}
	log := s.log.WithFields(logrus.Fields{"conn": c.id, "remote": key})
	p, err := peer.New(s.setting, peer.Callbacks{
		OnAuthenticated: func() {
			c.authenticated = true
			log.Debug("client connected")
			if s.cb.OnConnected != nil {
				s.cb.OnConnected(c.id)
			}
		},
		OnData: func(data []byte, ch peer.Channel) {
			if s.cb.OnData != nil {
				s.cb.OnData(c.id, data, ch)
			}
		},
		OnDisconnected: func() {
			s.removals = append(s.removals, c)
			if c.authenticated {
				log.Debug("client disconnected")
				if s.cb.OnDisconnected != nil {
					s.cb.OnDisconnected(c.id)
				}
			}
		},
		OnError: func(code peer.ErrorCode, err error) {
			if !c.authenticated && code == peer.InvalidReceive {
				s.reject(key)
			}
			if s.cb.OnError != nil {
				s.cb.OnError(c.id, code, err)
			}
		},
	}, func(b []byte) error {
		return s.conn.WriteTo(b, addr)
	}, append(s.opts.peerOptions(log), peer.Accepting())...)
	if err != nil {
		return nil, err
	}
	c.peer = p
	s.byAddr[key] = c
	s.byID[c.id] = c
	s.counters.Accepted++
	return c, nil
}

func (s *Server) handle(d fastudp.Datagram) {
	key := d.Addr.String()
	if s.limits != nil && !s.limits.Allow(key) {
		s.counters.RateLimited++
		return
	}
	c, ok := s.byAddr[key]
	if !ok {
		if s.blacklist != nil {
			if _, bad := s.blacklist.Get(key); bad {
				s.counters.Blacklisted++
				return
			}
		}
		if len(d.Data) < 5 {
			s.reject(key)
			return
		}
		switch peer.Channel(d.Data[0]) {
		case peer.Reliable:
		case peer.Unreliable:
			// stray datagram of a closed session
			return
		default:
			s.reject(key)
			return
		}
		var err error
		c, err = s.newConnection(d.Addr, key)
		if err != nil {
			s.log.WithError(err).Error("cannot create session")
			return
		}
	}
	c.peer.RawInput(d.Data)
}

// EarlyUpdate drains the socket into the sessions, delivers complete
// messages and checks liveness.
func (s *Server) EarlyUpdate() {
	if s.conn == nil {
		return
	}
	for {
		d, ok, err := s.conn.TryRead()
		if err != nil {
			s.log.WithError(err).Error("socket failed")
			s.Stop()
			return
		}
		if !ok {
			break
		}
		s.handle(d)
		d.Release()
	}
	for _, c := range s.byID {
		c.peer.TickIncoming()
	}
	s.removePending()
}

// AfterUpdate flushes every session and publishes fresh statistics.
func (s *Server) AfterUpdate() {
	if s.conn == nil {
		return
	}
	for _, c := range s.byID {
		c.peer.TickOutgoing()
	}
	s.removePending()
	// a callback may have stopped the server
	if s.conn == nil {
		return
	}
	s.publishStats()
}

func (s *Server) removePending() {
	for _, c := range s.removals {
		if s.byID[c.id] != c {
			continue
		}
		s.counters.addSegments(c.peer.Stats())
		delete(s.byID, c.id)
		delete(s.byAddr, c.key)
	}
	s.removals = s.removals[:0]
}

func (s *Server) publishStats() {
	st := s.counters
	for _, c := range s.byID {
		st.Connections++
		if c.authenticated {
			st.Authenticated++
		}
		st.addSegments(c.peer.Stats())
	}
	st.SocketReceived = s.conn.Received()
	st.SocketDropped = s.conn.Dropped()
	s.stats.Store(st)
}

// Stats returns the last published snapshot. Safe for concurrent use.
func (s *Server) Stats() ServerStats {
	return s.stats.Load().(ServerStats)
}

// Send sends data to connection id.
func (s *Server) Send(id int, data []byte, ch peer.Channel) error {
	c, ok := s.byID[id]
	if !ok {
		return errors.Wrapf(ErrUnknownConnection, "%v", id)
	}
	return c.peer.Send(data, ch)
}

// Disconnect drops connection id. Unknown ids are ignored.
func (s *Server) Disconnect(id int) {
	if c, ok := s.byID[id]; ok {
		c.peer.Disconnect()
	}
}

// ClientAddress returns the remote address of connection id.
func (s *Server) ClientAddress(id int) (*net.UDPAddr, bool) {
	c, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return c.addr, true
}

// Connections returns the number of live sessions, handshaking or not.
func (s *Server) Connections() int {
	return len(s.byID)
}
