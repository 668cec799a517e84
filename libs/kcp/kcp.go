// Package kcp implements the sliding-window ARQ engine used by the reliable
// channel. An engine is single-threaded: the owner calls Send, Input, Receive
// and Update from one goroutine and gets wire frames through an output
// callback.
package kcp

import (
	"github.com/pkg/errors"
)

const (
	rtoNoDelay  = 30 // min rto in nodelay mode
	rtoMin      = 100
	rtoDefault  = 200
	rtoMax      = 60000
	askSend     = 1 // need to send WASK
	askTell     = 2 // need to send WINS
	wndSnd      = 32
	wndRcv      = 128
	mtuDefault  = 1200
	interval    = 100
	deadLink    = 20
	threshInit  = 2
	threshMin   = 2
	probeInit   = 7000   // 7 secs to probe window size
	probeLimit  = 120000 // up to 120 secs to probe window
	queueLimit  = 10000
	maxFragment = 255
)

var (
	// ErrEmptyMessage is returned by Send for a zero-length payload.
	ErrEmptyMessage = errors.New("kcp: empty message")
	// ErrMessageTooLarge is returned by Send when a payload needs more than 255 fragments.
	ErrMessageTooLarge = errors.New("kcp: message too large")
	// ErrWindowTooSmall is returned by Send when a payload needs more fragments than the receive window holds.
	ErrWindowTooSmall = errors.New("kcp: receive window too small for message")
	// ErrShortBuffer is returned by Receive when the next message does not fit.
	ErrShortBuffer = errors.New("kcp: buffer too small for message")
	// ErrTruncated means a frame header or body was cut short.
	ErrTruncated = errors.New("kcp: truncated frame")
	// ErrWrongConv means a frame belongs to another conversation.
	ErrWrongConv = errors.New("kcp: conversation id mismatch")
	// ErrBadCommand means a frame carried an unknown command.
	ErrBadCommand = errors.New("kcp: unknown command")
	// ErrBadMtu is returned for an MTU that cannot hold a header.
	ErrBadMtu = errors.New("kcp: invalid mtu")
)

// Output is called with every wire frame produced by a flush. buf starts with
// the reserved head room and is only valid during the call.
type Output func(buf []byte)

type ackItem struct {
	sn uint32
	ts uint32
}

// Stats is a snapshot of an engine's counters.
type Stats struct {
	OutPkts         uint64
	OutBytes        uint64
	OutSegs         uint64
	InSegs          uint64
	RetransSegs     uint64
	FastRetransSegs uint64
	LostSegs        uint64
	RepeatSegs      uint64

	SRTT         int32
	RTTVar       int32
	RTO          uint32
	Cwnd         uint32
	Ssthresh     uint32
	RemoteWindow uint32

	SendQueue     int
	SendBuffer    int
	ReceiveBuffer int
	ReceiveQueue  int
}

// KCP is one ARQ engine.
type KCP struct {
	conv, mtu, mss uint32
	dead           bool

	sndUna, sndNxt, rcvNxt uint32
	ssthresh               uint32
	rxRttvar, rxSrtt       int32
	rxRto, rxMinrto        uint32
	sndWnd, rcvWnd, rmtWnd uint32
	cwnd, incr             uint32
	probe                  uint32
	tsProbe, probeWait     uint32
	current, tsFlush       uint32
	interval               uint32
	nodelay, updated       bool
	deadLink               uint32
	fastresend             int
	nocwnd                 bool
	queueLimit             int
	unaAdvanced            bool

	sndQueue []*Segment
	sndBuf   []*Segment
	rcvBuf   []*Segment
	rcvQueue []*Segment
	acklist  []ackItem

	buffer   []byte
	reserved int
	output   Output
	pool     Pool
	stats    Stats
}

// NewKCP creates an engine. conv must be equal on both ends, otherwise input
// is rejected.
func NewKCP(conv uint32, output Output) *KCP {
	kcp := &KCP{
		conv:       conv,
		sndWnd:     wndSnd,
		rcvWnd:     wndRcv,
		rmtWnd:     wndRcv,
		mtu:        mtuDefault,
		mss:        mtuDefault - Overhead,
		rxRto:      rtoDefault,
		rxMinrto:   rtoMin,
		interval:   interval,
		tsFlush:    interval,
		ssthresh:   threshInit,
		cwnd:       1,
		deadLink:   deadLink,
		queueLimit: queueLimit,
		output:     output,
	}
	kcp.incr = kcp.mss
	kcp.buffer = make([]byte, kcp.mtu)
	return kcp
}

// SetMtu changes the maximum frame size handed to the output callback.
func (kcp *KCP) SetMtu(mtu int) error {
	if mtu < 50 || mtu < Overhead+kcp.reserved+1 {
		return errors.Wrapf(ErrBadMtu, "mtu %v", mtu)
	}
	kcp.mtu = uint32(mtu)
	kcp.mss = kcp.mtu - Overhead - uint32(kcp.reserved)
	kcp.buffer = make([]byte, mtu)
	return nil
}

// ReserveBytes keeps n bytes at the start of every output frame untouched, so
// the caller can write its own framing in place.
func (kcp *KCP) ReserveBytes(n int) error {
	if n < 0 || n >= int(kcp.mtu)-Overhead {
		return errors.Errorf("kcp: cannot reserve %v bytes with mtu %v", n, kcp.mtu)
	}
	kcp.reserved = n
	kcp.mss = kcp.mtu - Overhead - uint32(n)
	return nil
}

// SetNoDelay tunes latency. nodelay lowers the minimum rto and softens rto
// backoff, interval is the flush period in ms, resend is the fast retransmit
// threshold (0 disables) and nc turns congestion control off.
func (kcp *KCP) SetNoDelay(nodelay bool, interval, resend int, nc bool) {
	kcp.nodelay = nodelay
	if nodelay {
		kcp.rxMinrto = rtoNoDelay
	} else {
		kcp.rxMinrto = rtoMin
	}
	if interval >= 0 {
		if interval > 5000 {
			interval = 5000
		} else if interval < 10 {
			interval = 10
		}
		kcp.interval = uint32(interval)
	}
	if resend >= 0 {
		kcp.fastresend = resend
	}
	kcp.nocwnd = nc
}

// SetWindowSize sets the send and receive windows in segments. Non-positive
// values leave the current setting.
func (kcp *KCP) SetWindowSize(sndwnd, rcvwnd int) {
	if sndwnd > 0 {
		kcp.sndWnd = uint32(sndwnd)
	}
	if rcvwnd > 0 {
		kcp.rcvWnd = uint32(rcvwnd)
	}
}

// SetDeadLink sets how many transmissions of one segment mark the link dead.
func (kcp *KCP) SetDeadLink(n uint32) {
	if n > 0 {
		kcp.deadLink = n
	}
}

// SetQueueLimit sets the ceiling used by Overloaded.
func (kcp *KCP) SetQueueLimit(n int) {
	if n > 0 {
		kcp.queueLimit = n
	}
}

// Conv returns the conversation id.
func (kcp *KCP) Conv() uint32 { return kcp.conv }

// Mss returns the payload capacity of one segment.
func (kcp *KCP) Mss() int { return int(kcp.mss) }

// Interval returns the flush interval in ms.
func (kcp *KCP) Interval() uint32 { return kcp.interval }

// Dead reports whether some segment hit the dead link limit.
func (kcp *KCP) Dead() bool { return kcp.dead }

// WaitSnd returns the number of segments queued or in flight.
func (kcp *KCP) WaitSnd() int {
	return len(kcp.sndBuf) + len(kcp.sndQueue)
}

// Overloaded reports whether more segments are buffered than the queue limit
// allows, i.e. the application cannot keep up.
func (kcp *KCP) Overloaded() bool {
	return len(kcp.sndQueue)+len(kcp.sndBuf)+len(kcp.rcvBuf) > kcp.queueLimit
}

// Stats returns a snapshot of the counters and window state.
func (kcp *KCP) Stats() Stats {
	s := kcp.stats
	s.SRTT = kcp.rxSrtt
	s.RTTVar = kcp.rxRttvar
	s.RTO = kcp.rxRto
	s.Cwnd = kcp.cwnd
	s.Ssthresh = kcp.ssthresh
	s.RemoteWindow = kcp.rmtWnd
	s.SendQueue = len(kcp.sndQueue)
	s.SendBuffer = len(kcp.sndBuf)
	s.ReceiveBuffer = len(kcp.rcvBuf)
	s.ReceiveQueue = len(kcp.rcvQueue)
	return s
}

// Release returns every buffered segment to the pool and drops pending acks.
func (kcp *KCP) Release() {
	for _, q := range [][]*Segment{kcp.sndQueue, kcp.sndBuf, kcp.rcvBuf, kcp.rcvQueue} {
		for _, seg := range q {
			kcp.pool.Push(seg)
		}
	}
	kcp.sndQueue = kcp.sndQueue[:0]
	kcp.sndBuf = kcp.sndBuf[:0]
	kcp.rcvBuf = kcp.rcvBuf[:0]
	kcp.rcvQueue = kcp.rcvQueue[:0]
	kcp.acklist = kcp.acklist[:0]
}

// removeFront drops the first n entries of q in place.
func removeFront(q []*Segment, n int) []*Segment {
	copy(q, q[n:])
	for i := len(q) - n; i < len(q); i++ {
		q[i] = nil
	}
	return q[:len(q)-n]
}

// PeekSize returns the size of the next complete message, or -1.
func (kcp *KCP) PeekSize() (length int) {
	if len(kcp.rcvQueue) == 0 {
		return -1
	}
	seg := kcp.rcvQueue[0]
	if seg.frg == 0 {
		return len(seg.data)
	}
	if len(kcp.rcvQueue) < int(seg.frg)+1 {
		return -1
	}
	for _, seg := range kcp.rcvQueue {
		length += len(seg.data)
		if seg.frg == 0 {
			break
		}
	}
	return
}

// Receive copies the next complete message into buffer. It returns 0, nil
// when no message is complete yet. An empty message also reads as 0; check
// PeekSize first to tell the two apart.
func (kcp *KCP) Receive(buffer []byte) (n int, err error) {
	peeksize := kcp.PeekSize()
	if peeksize < 0 {
		return 0, nil
	}
	if peeksize > len(buffer) {
		return 0, errors.Wrapf(ErrShortBuffer, "need %v, have %v", peeksize, len(buffer))
	}
	fastRecover := len(kcp.rcvQueue) >= int(kcp.rcvWnd)

	count := 0
	for _, seg := range kcp.rcvQueue {
		copy(buffer[n:], seg.data)
		n += len(seg.data)
		count++
		frg := seg.frg
		kcp.pool.Push(seg)
		if frg == 0 {
			break
		}
	}
	if count > 0 {
		kcp.rcvQueue = removeFront(kcp.rcvQueue, count)
	}
	kcp.moveToQueue()

	// the window reopened, tell the remote right away
	if len(kcp.rcvQueue) < int(kcp.rcvWnd) && fastRecover {
		kcp.probe |= askTell
	}
	return
}

// Send slices buffer into segments and queues them. Nothing is queued on
// error.
func (kcp *KCP) Send(buffer []byte) error {
	if len(buffer) == 0 {
		return ErrEmptyMessage
	}
	mss := int(kcp.mss)
	count := (len(buffer) + mss - 1) / mss
	if count > maxFragment {
		return errors.Wrapf(ErrMessageTooLarge, "%v bytes need %v fragments", len(buffer), count)
	}
	if count > int(kcp.rcvWnd) {
		return errors.Wrapf(ErrWindowTooSmall, "%v fragments, window %v", count, kcp.rcvWnd)
	}
	for i := 0; i < count; i++ {
		size := len(buffer)
		if size > mss {
			size = mss
		}
		seg := kcp.pool.Pop(size)
		copy(seg.data, buffer[:size])
		seg.frg = uint8(count - i - 1)
		kcp.sndQueue = append(kcp.sndQueue, seg)
		buffer = buffer[size:]
	}
	return nil
}

func (kcp *KCP) updateAck(rtt int32) {
	if kcp.rxSrtt == 0 {
		kcp.rxSrtt = rtt
		kcp.rxRttvar = rtt / 2
	} else {
		delta := rtt - kcp.rxSrtt
		if delta < 0 {
			delta = -delta
		}
		kcp.rxRttvar = (3*kcp.rxRttvar + delta) / 4
		kcp.rxSrtt = (7*kcp.rxSrtt + rtt) / 8
		if kcp.rxSrtt < 1 {
			kcp.rxSrtt = 1
		}
	}
	rto := uint32(kcp.rxSrtt) + imax(kcp.interval, uint32(4*kcp.rxRttvar))
	kcp.rxRto = ibound(kcp.rxMinrto, rto, rtoMax)
}

func (kcp *KCP) shrinkBuf() {
	if len(kcp.sndBuf) > 0 {
		kcp.sndUna = kcp.sndBuf[0].sn
	} else {
		kcp.sndUna = kcp.sndNxt
	}
}

func (kcp *KCP) parseAck(sn uint32) {
	if timediff(sn, kcp.sndUna) < 0 || timediff(sn, kcp.sndNxt) >= 0 {
		return
	}
	for k, seg := range kcp.sndBuf {
		if sn == seg.sn {
			kcp.pool.Push(seg)
			copy(kcp.sndBuf[k:], kcp.sndBuf[k+1:])
			kcp.sndBuf[len(kcp.sndBuf)-1] = nil
			kcp.sndBuf = kcp.sndBuf[:len(kcp.sndBuf)-1]
			break
		}
		if timediff(sn, seg.sn) < 0 {
			break
		}
	}
}

func (kcp *KCP) parseFastack(sn, ts uint32) {
	if timediff(sn, kcp.sndUna) < 0 || timediff(sn, kcp.sndNxt) >= 0 {
		return
	}
	for _, seg := range kcp.sndBuf {
		if timediff(sn, seg.sn) < 0 {
			break
		} else if sn != seg.sn && timediff(seg.ts, ts) <= 0 {
			seg.fastack++
		}
	}
}

func (kcp *KCP) parseUna(una uint32) {
	count := 0
	for _, seg := range kcp.sndBuf {
		if timediff(una, seg.sn) > 0 {
			kcp.pool.Push(seg)
			count++
		} else {
			break
		}
	}
	if count > 0 {
		kcp.sndBuf = removeFront(kcp.sndBuf, count)
	}
}

func (kcp *KCP) ackPush(sn, ts uint32) {
	kcp.acklist = append(kcp.acklist, ackItem{sn, ts})
}

// parseData files a pushed segment into the reorder buffer and reports
// whether it was a duplicate.
func (kcp *KCP) parseData(newseg *Segment) bool {
	sn := newseg.sn
	if timediff(sn, kcp.rcvNxt+kcp.rcvWnd) >= 0 || timediff(sn, kcp.rcvNxt) < 0 {
		kcp.pool.Push(newseg)
		return true
	}

	insertIdx := 0
	repeat := false
	for i := len(kcp.rcvBuf) - 1; i >= 0; i-- {
		seg := kcp.rcvBuf[i]
		if seg.sn == sn {
			repeat = true
			break
		}
		if timediff(sn, seg.sn) > 0 {
			insertIdx = i + 1
			break
		}
	}

	if repeat {
		kcp.pool.Push(newseg)
		kcp.stats.RepeatSegs++
	} else {
		kcp.rcvBuf = append(kcp.rcvBuf, nil)
		copy(kcp.rcvBuf[insertIdx+1:], kcp.rcvBuf[insertIdx:])
		kcp.rcvBuf[insertIdx] = newseg
	}
	kcp.moveToQueue()
	return repeat
}

// moveToQueue slides the contiguous run at rcvNxt into the ready queue.
func (kcp *KCP) moveToQueue() {
	count := 0
	for _, seg := range kcp.rcvBuf {
		if seg.sn == kcp.rcvNxt && len(kcp.rcvQueue)+count < int(kcp.rcvWnd) {
			kcp.rcvNxt++
			count++
		} else {
			break
		}
	}
	if count > 0 {
		kcp.rcvQueue = append(kcp.rcvQueue, kcp.rcvBuf[:count]...)
		kcp.rcvBuf = removeFront(kcp.rcvBuf, count)
	}
}

// Input feeds one datagram worth of concatenated frames into the engine.
// Frames before a bad one have already been applied when an error returns.
func (kcp *KCP) Input(data []byte) error {
	prevUna := kcp.sndUna
	var maxack, latest uint32
	flag := false

	if len(data) < Overhead {
		return errors.Wrapf(ErrTruncated, "%v bytes", len(data))
	}

	for len(data) >= Overhead {
		h, _ := ParseHeader(data)
		data = data[Overhead:]
		if h.Conv != kcp.conv {
			return errors.Wrapf(ErrWrongConv, "got %v, want %v", h.Conv, kcp.conv)
		}
		if uint64(len(data)) < uint64(h.Length) {
			return errors.Wrapf(ErrTruncated, "body %v of %v", len(data), h.Length)
		}
		if !h.Cmd.Valid() {
			return errors.Wrapf(ErrBadCommand, "%v", h.Cmd)
		}
		kcp.stats.InSegs++

		kcp.rmtWnd = uint32(h.Wnd)
		kcp.parseUna(h.Una)
		kcp.shrinkBuf()

		switch h.Cmd {
		case CmdAck:
			if rtt := timediff(kcp.current, h.Ts); rtt >= 0 {
				kcp.updateAck(rtt)
			}
			kcp.parseAck(h.Sn)
			kcp.shrinkBuf()
			if !flag {
				flag = true
				maxack, latest = h.Sn, h.Ts
			} else if timediff(h.Sn, maxack) > 0 {
				maxack, latest = h.Sn, h.Ts
			}
		case CmdPush:
			if timediff(h.Sn, kcp.rcvNxt+kcp.rcvWnd) < 0 {
				kcp.ackPush(h.Sn, h.Ts)
				if timediff(h.Sn, kcp.rcvNxt) >= 0 {
					seg := kcp.pool.Pop(int(h.Length))
					seg.conv = h.Conv
					seg.cmd = h.Cmd
					seg.frg = h.Frg
					seg.wnd = h.Wnd
					seg.ts = h.Ts
					seg.sn = h.Sn
					seg.una = h.Una
					copy(seg.data, data[:h.Length])
					kcp.parseData(seg)
				} else {
					kcp.stats.RepeatSegs++
				}
			}
		case CmdWask:
			kcp.probe |= askTell
		case CmdWins:
			// rmtWnd already updated
		}
		data = data[h.Length:]
	}

	if flag {
		kcp.parseFastack(maxack, latest)
	}
	if timediff(kcp.sndUna, prevUna) > 0 {
		kcp.unaAdvanced = true
	}
	return nil
}

func (kcp *KCP) wndUnused() uint16 {
	if len(kcp.rcvQueue) < int(kcp.rcvWnd) {
		free := int(kcp.rcvWnd) - len(kcp.rcvQueue)
		if free > 0xffff {
			free = 0xffff
		}
		return uint16(free)
	}
	return 0
}

func (kcp *KCP) emit(buf []byte) {
	kcp.stats.OutPkts++
	kcp.stats.OutBytes += uint64(len(buf))
	kcp.output(buf)
}

// Flush emits pending acks, probes and every segment that is due.
func (kcp *KCP) Flush() {
	current := kcp.current
	buffer := kcp.buffer
	ptr := buffer[kcp.reserved:]

	makeSpace := func(space int) {
		size := len(buffer) - len(ptr)
		if size+space > int(kcp.mtu) {
			kcp.emit(buffer[:size])
			ptr = buffer[kcp.reserved:]
		}
	}

	wnd := kcp.wndUnused()
	var seg Segment
	seg.conv = kcp.conv
	seg.cmd = CmdAck
	seg.wnd = wnd
	seg.una = kcp.rcvNxt

	// acks
	for _, ack := range kcp.acklist {
		makeSpace(Overhead)
		seg.sn, seg.ts = ack.sn, ack.ts
		ptr = seg.encode(ptr)
		kcp.stats.OutSegs++
	}
	kcp.acklist = kcp.acklist[:0]

	// probe the window while the remote says it is full
	if kcp.rmtWnd == 0 {
		if kcp.probeWait == 0 {
			kcp.probeWait = probeInit
			kcp.tsProbe = current + kcp.probeWait
		} else if timediff(current, kcp.tsProbe) >= 0 {
			kcp.probeWait *= 2
			if kcp.probeWait > probeLimit {
				kcp.probeWait = probeLimit
			}
			kcp.tsProbe = current + kcp.probeWait
			kcp.probe |= askSend
		}
	} else {
		kcp.tsProbe = 0
		kcp.probeWait = 0
	}

	seg.sn, seg.ts = 0, 0
	if kcp.probe&askSend != 0 {
		seg.cmd = CmdWask
		makeSpace(Overhead)
		ptr = seg.encode(ptr)
		kcp.stats.OutSegs++
	}
	if kcp.probe&askTell != 0 {
		seg.cmd = CmdWins
		makeSpace(Overhead)
		ptr = seg.encode(ptr)
		kcp.stats.OutSegs++
	}
	kcp.probe = 0

	// sliding window admission
	cwnd := imin(kcp.sndWnd, kcp.rmtWnd)
	if !kcp.nocwnd {
		cwnd = imin(kcp.cwnd, cwnd)
	}
	newSegs := 0
	for newSegs < len(kcp.sndQueue) && timediff(kcp.sndNxt, kcp.sndUna+cwnd) < 0 {
		newseg := kcp.sndQueue[newSegs]
		newseg.conv = kcp.conv
		newseg.cmd = CmdPush
		newseg.sn = kcp.sndNxt
		kcp.sndNxt++
		kcp.sndBuf = append(kcp.sndBuf, newseg)
		newSegs++
	}
	if newSegs > 0 {
		kcp.sndQueue = removeFront(kcp.sndQueue, newSegs)
	}

	resent := uint32(kcp.fastresend)
	if kcp.fastresend <= 0 {
		resent = 0xffffffff
	}
	var rtomin uint32
	if !kcp.nodelay {
		rtomin = kcp.rxRto >> 3
	}

	change := 0
	lost := false
	for _, segment := range kcp.sndBuf {
		needsend := false
		if segment.xmit == 0 {
			needsend = true
			segment.rto = kcp.rxRto
			segment.resendts = current + segment.rto + rtomin
		} else if timediff(current, segment.resendts) >= 0 {
			needsend = true
			if kcp.nodelay {
				segment.rto += segment.rto / 2
			} else {
				segment.rto += imax(segment.rto, kcp.rxRto)
			}
			if segment.rto > rtoMax {
				segment.rto = rtoMax
			}
			segment.resendts = current + segment.rto
			lost = true
			kcp.stats.LostSegs++
			kcp.stats.RetransSegs++
		} else if segment.fastack >= resent {
			needsend = true
			segment.fastack = 0
			segment.resendts = current + segment.rto
			change++
			kcp.stats.FastRetransSegs++
			kcp.stats.RetransSegs++
		}

		if needsend {
			segment.xmit++
			segment.ts = current
			segment.wnd = wnd
			segment.una = kcp.rcvNxt

			makeSpace(Overhead + len(segment.data))
			ptr = segment.encode(ptr)
			copy(ptr, segment.data)
			ptr = ptr[len(segment.data):]
			kcp.stats.OutSegs++

			if segment.xmit >= kcp.deadLink {
				kcp.dead = true
			}
		}
	}

	if size := len(buffer) - len(ptr); size > kcp.reserved {
		kcp.emit(buffer[:size])
	}

	// congestion control
	if change > 0 {
		inflight := kcp.sndNxt - kcp.sndUna
		kcp.ssthresh = inflight / 2
		if kcp.ssthresh < threshMin {
			kcp.ssthresh = threshMin
		}
		kcp.cwnd = kcp.ssthresh + resent
		kcp.incr = kcp.cwnd * kcp.mss
	}
	if lost {
		kcp.ssthresh = cwnd / 2
		if kcp.ssthresh < threshMin {
			kcp.ssthresh = threshMin
		}
		kcp.cwnd = 1
		kcp.incr = kcp.mss
	}
	if !lost && change == 0 && kcp.unaAdvanced {
		kcp.growCwnd()
	}
	kcp.unaAdvanced = false
	if kcp.cwnd < 1 {
		kcp.cwnd = 1
		kcp.incr = kcp.mss
	}
}

// growCwnd opens the congestion window after clean progress: one segment at
// a time in slow start, additively past ssthresh.
func (kcp *KCP) growCwnd() {
	if kcp.cwnd >= kcp.rmtWnd {
		return
	}
	mss := kcp.mss
	if kcp.cwnd < kcp.ssthresh {
		kcp.cwnd++
		kcp.incr += mss
	} else {
		if kcp.incr < mss {
			kcp.incr = mss
		}
		kcp.incr += (mss*mss)/kcp.incr + mss/16
		if (kcp.cwnd+1)*mss <= kcp.incr {
			kcp.cwnd = (kcp.incr + mss - 1) / mss
		}
	}
	if kcp.cwnd > kcp.rmtWnd {
		kcp.cwnd = kcp.rmtWnd
		kcp.incr = kcp.rmtWnd * mss
	}
}

// Update advances the engine clock to current (ms) and flushes once per
// interval. Call it every tick.
func (kcp *KCP) Update(current uint32) {
	kcp.current = current
	if !kcp.updated {
		kcp.updated = true
		kcp.tsFlush = current
	}

	slap := timediff(current, kcp.tsFlush)
	if slap >= 10000 || slap < -10000 {
		kcp.tsFlush = current
		slap = 0
	}

	if slap >= 0 {
		kcp.tsFlush += kcp.interval
		if timediff(current, kcp.tsFlush) >= 0 {
			kcp.tsFlush = current + kcp.interval
		}
		kcp.Flush()
	}
}

func imin(a, b uint32) uint32 {
	if a <= b {
		return a
	}
	return b
}

func imax(a, b uint32) uint32 {
	if a >= b {
		return a
	}
	return b
}

func ibound(lower, middle, upper uint32) uint32 {
	return imin(imax(lower, middle), upper)
}
