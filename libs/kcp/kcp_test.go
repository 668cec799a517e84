package kcp

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

// link connects two engines through an in-memory, manually clocked wire.
type link struct {
	tb       testing.TB
	now      uint32
	a, b     *KCP
	toA, toB [][]byte
	// drop returns true to lose a frame; fromA tells the direction.
	drop func(fromA bool, frame []byte) bool
}

func newLink(tb testing.TB, conv uint32) *link {
	l := &link{tb: tb}
	l.a = NewKCP(conv, func(buf []byte) { l.carry(true, buf) })
	l.b = NewKCP(conv, func(buf []byte) { l.carry(false, buf) })
	return l
}

func (l *link) carry(fromA bool, buf []byte) {
	if l.drop != nil && l.drop(fromA, buf) {
		return
	}
	cp := append([]byte(nil), buf...)
	if fromA {
		l.toB = append(l.toB, cp)
	} else {
		l.toA = append(l.toA, cp)
	}
}

// step advances the clock, delivers everything in flight and ticks both ends.
func (l *link) step(ms uint32) {
	l.now += ms
	toA, toB := l.toA, l.toB
	l.toA, l.toB = nil, nil
	for _, f := range toB {
		if err := l.b.Input(f); err != nil {
			l.tb.Fatal(err)
		}
	}
	for _, f := range toA {
		if err := l.a.Input(f); err != nil {
			l.tb.Fatal(err)
		}
	}
	l.a.Update(l.now)
	l.b.Update(l.now)
}

func drain(tb testing.TB, k *KCP, buf []byte) [][]byte {
	var out [][]byte
	for {
		n, err := k.Receive(buf)
		if err != nil {
			tb.Fatal(err)
		}
		if n == 0 {
			return out
		}
		out = append(out, append([]byte(nil), buf[:n]...))
	}
}

func randomMessages(rng *rand.Rand, count, maxSize int) [][]byte {
	msgs := make([][]byte, count)
	for i := range msgs {
		msgs[i] = make([]byte, 1+rng.Intn(maxSize))
		rng.Read(msgs[i])
	}
	return msgs
}

func TestOrderingUnderLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	l := newLink(t, 7)
	l.a.SetNoDelay(true, 10, 2, false)
	l.b.SetNoDelay(true, 10, 2, false)
	l.drop = func(bool, []byte) bool { return rng.Intn(5) == 0 }

	msgs := randomMessages(rng, 200, 3*l.a.Mss())
	for _, m := range msgs {
		if err := l.a.Send(m); err != nil {
			t.Fatal(err)
		}
	}
	buf := make([]byte, 4*l.b.Mss())
	var got [][]byte
	for i := 0; i < 100000 && len(got) < len(msgs); i++ {
		l.step(10)
		got = append(got, drain(t, l.b, buf)...)
	}
	if len(got) != len(msgs) {
		t.Fatalf("received %v of %v messages", len(got), len(msgs))
	}
	for i := range msgs {
		if !bytes.Equal(got[i], msgs[i]) {
			t.Fatalf("message %v differs", i)
		}
	}
	// nothing more may show up
	for i := 0; i < 100; i++ {
		l.step(10)
		if extra := drain(t, l.b, buf); len(extra) > 0 {
			t.Fatalf("got %v duplicate messages", len(extra))
		}
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	l := newLink(t, 1)
	msg := make([]byte, 10*l.a.Mss()+7)
	rand.New(rand.NewSource(1)).Read(msg)
	if err := l.a.Send(msg); err != nil {
		t.Fatal(err)
	}
	if l.a.WaitSnd() != 11 {
		t.Fatalf("expected 11 fragments, got %v", l.a.WaitSnd())
	}
	buf := make([]byte, len(msg))
	for i := 0; i < 1000; i++ {
		l.step(10)
		if l.b.PeekSize() >= 0 {
			break
		}
	}
	if l.b.PeekSize() != len(msg) {
		t.Fatalf("peek size %v, want %v", l.b.PeekSize(), len(msg))
	}
	if _, err := l.b.Receive(buf[:len(msg)-1]); errors.Cause(err) != ErrShortBuffer {
		t.Fatalf("expected short buffer, got %v", err)
	}
	n, err := l.b.Receive(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Fatal("reassembled message differs")
	}
}

func TestDuplicateAckIsNoop(t *testing.T) {
	var acks [][]byte
	l := newLink(t, 3)
	l.drop = func(fromA bool, frame []byte) bool {
		if !fromA {
			acks = append(acks, append([]byte(nil), frame...))
		}
		return false
	}
	if err := l.a.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50 && l.a.WaitSnd() > 0; i++ {
		l.step(10)
	}
	if l.a.WaitSnd() != 0 || len(acks) == 0 {
		t.Fatalf("segment never acknowledged")
	}
	una, nxt := l.a.sndUna, l.a.sndNxt
	for i := 0; i < 3; i++ {
		for _, ack := range acks {
			if err := l.a.Input(ack); err != nil {
				t.Fatal(err)
			}
		}
	}
	if l.a.sndUna != una || l.a.sndNxt != nxt || l.a.WaitSnd() != 0 {
		t.Fatal("duplicate ack changed sender state")
	}
}

func TestWindowBound(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := newLink(t, 9)
	l.a.SetWindowSize(8, 128)
	l.b.SetWindowSize(32, 16)
	l.a.SetNoDelay(true, 10, 2, true)
	l.drop = func(bool, []byte) bool { return rng.Intn(10) == 0 }

	for i := 0; i < 300; i++ {
		if err := l.a.Send([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	buf := make([]byte, 16)
	received := 0
	for i := 0; i < 100000 && received < 300; i++ {
		before := l.a.sndNxt
		l.step(10)
		inflight := l.a.sndNxt - l.a.sndUna
		if l.a.sndNxt != before && inflight > imin(l.a.sndWnd, l.a.rmtWnd) {
			t.Fatalf("%v segments in flight, window %v/%v", inflight, l.a.sndWnd, l.a.rmtWnd)
		}
		if len(l.a.sndBuf) > int(l.a.sndWnd) {
			t.Fatalf("send buffer holds %v", len(l.a.sndBuf))
		}
		// read slowly so the remote window closes now and then
		if i%3 == 0 {
			received += len(drain(t, l.b, buf))
		}
	}
	if received != 300 {
		t.Fatalf("received %v", received)
	}
}

func TestRTOBackoff(t *testing.T) {
	l := newLink(t, 5)
	l.drop = func(bool, []byte) bool { return true }
	if err := l.a.Send([]byte("lost forever")); err != nil {
		t.Fatal(err)
	}
	var lastXmit, lastRto uint32
	for i := 0; i < 20000 && lastXmit < 25; i++ {
		l.step(100)
		seg := l.a.sndBuf[0]
		if seg.xmit == lastXmit {
			continue
		}
		if seg.rto > rtoMax {
			t.Fatalf("rto %v above ceiling", seg.rto)
		}
		if lastXmit > 0 && lastRto < rtoMax && seg.rto <= lastRto {
			t.Fatalf("rto did not grow: %v -> %v", lastRto, seg.rto)
		}
		if lastRto == rtoMax && seg.rto != rtoMax {
			t.Fatalf("rto left the ceiling: %v", seg.rto)
		}
		lastXmit, lastRto = seg.xmit, seg.rto
	}
	if lastXmit < 25 {
		t.Fatalf("only %v transmissions", lastXmit)
	}
	if lastRto != rtoMax {
		t.Fatalf("rto %v never reached ceiling", lastRto)
	}
	if !l.a.Dead() {
		t.Fatal("link should be dead")
	}
	if s := l.a.Stats(); s.LostSegs != uint64(lastXmit-1) {
		t.Fatalf("lost %v, xmit %v", s.LostSegs, lastXmit)
	}
}

func TestFastRetransmit(t *testing.T) {
	l := newLink(t, 11)
	l.a.SetNoDelay(true, 10, 2, true)
	l.b.SetNoDelay(true, 10, 2, true)
	dropped := false
	l.drop = func(fromA bool, frame []byte) bool {
		h, _ := ParseHeader(frame)
		if fromA && !dropped && h.Cmd == CmdPush && h.Sn == 0 {
			dropped = true
			return true
		}
		return false
	}
	payload := make([]byte, 1000)
	buf := make([]byte, 2000)
	var got [][]byte
	for i := 0; i < 100 && len(got) < 10; i++ {
		if i < 5 {
			for j := 0; j < 2; j++ {
				payload[0] = byte(2*i + j)
				if err := l.a.Send(payload); err != nil {
					t.Fatal(err)
				}
			}
		}
		l.step(10)
		got = append(got, drain(t, l.b, buf)...)
	}
	if len(got) != 10 {
		t.Fatalf("received %v", len(got))
	}
	for i, m := range got {
		if m[0] != byte(i) {
			t.Fatalf("message %v out of order", i)
		}
	}
	s := l.a.Stats()
	if s.FastRetransSegs == 0 {
		t.Fatal("expected a fast retransmit")
	}
	if s.LostSegs != 0 {
		t.Fatalf("unexpected rto loss: %v", s.LostSegs)
	}
}

func TestFastRetransmitWindow(t *testing.T) {
	l := newLink(t, 12)
	l.a.SetNoDelay(true, 10, 2, true)
	l.b.SetNoDelay(true, 10, 2, true)
	dropped := false
	l.drop = func(fromA bool, frame []byte) bool {
		h, _ := ParseHeader(frame)
		if fromA && !dropped && h.Cmd == CmdPush && h.Sn == 0 {
			dropped = true
			return true
		}
		return false
	}
	for i := 0; i < 20; i++ {
		if i < 6 {
			if err := l.a.Send([]byte{byte(i)}); err != nil {
				t.Fatal(err)
			}
		}
		l.step(10)
		if l.a.Stats().FastRetransSegs == 0 {
			continue
		}
		inflight := l.a.sndNxt - l.a.sndUna
		ssthresh := inflight / 2
		if ssthresh < threshMin {
			ssthresh = threshMin
		}
		// fast retransmit halves to the flight size and keeps sending
		if l.a.ssthresh != ssthresh || l.a.cwnd != ssthresh+2 {
			t.Fatalf("inflight %v: ssthresh %v cwnd %v", inflight, l.a.ssthresh, l.a.cwnd)
		}
		if l.a.Stats().LostSegs != 0 {
			t.Fatal("timeout fired before fast retransmit")
		}
		return
	}
	t.Fatal("no fast retransmit")
}

func TestWindowProbe(t *testing.T) {
	var cmds []Command
	l := newLink(t, 13)
	l.b.SetWindowSize(32, 4)
	l.a.SetNoDelay(true, 10, 0, true)
	l.drop = func(fromA bool, frame []byte) bool {
		for len(frame) >= Overhead {
			h, _ := ParseHeader(frame)
			cmds = append(cmds, h.Cmd)
			frame = frame[Overhead+int(h.Length):]
		}
		return false
	}
	for i := 0; i < 5; i++ {
		if err := l.a.Send([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 20; i++ {
		l.step(10)
	}
	// four messages fill b's queue, the fifth waits in its receive buffer
	if l.a.rmtWnd != 0 || l.a.WaitSnd() != 0 {
		t.Fatalf("remote window %v, wait snd %v", l.a.rmtWnd, l.a.WaitSnd())
	}
	if len(l.b.rcvQueue) != 4 || len(l.b.rcvBuf) != 1 {
		t.Fatalf("receiver holds %v queued, %v buffered", len(l.b.rcvQueue), len(l.b.rcvBuf))
	}
	if err := l.a.Send([]byte{5}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 800; i++ {
		l.step(10)
	}
	if !containsCmd(cmds, CmdWask) || !containsCmd(cmds, CmdWins) {
		t.Fatalf("no probe exchange in %v", cmds)
	}
	if l.a.rmtWnd != 0 || l.a.WaitSnd() != 1 {
		t.Fatalf("sent into a closed window: rmt %v wait %v", l.a.rmtWnd, l.a.WaitSnd())
	}

	buf := make([]byte, 8)
	got := drain(t, l.b, buf)
	if len(got) != 5 {
		t.Fatalf("drained %v", len(got))
	}
	for i, m := range got {
		if m[0] != byte(i) {
			t.Fatalf("message %v out of order", i)
		}
	}
	for i := 0; i < 100 && l.a.WaitSnd() > 0; i++ {
		l.step(10)
	}
	if l.a.rmtWnd == 0 || l.a.WaitSnd() != 0 {
		t.Fatalf("window never reopened: rmt %v wait %v", l.a.rmtWnd, l.a.WaitSnd())
	}
	if got := drain(t, l.b, buf); len(got) != 1 || got[0][0] != 5 {
		t.Fatalf("last message missing: %v", got)
	}
}

func containsCmd(cmds []Command, c Command) bool {
	for _, x := range cmds {
		if x == c {
			return true
		}
	}
	return false
}

func TestSendFailures(t *testing.T) {
	k := NewKCP(1, func([]byte) {})
	if err := k.Send(nil); errors.Cause(err) != ErrEmptyMessage {
		t.Fatalf("empty: %v", err)
	}
	if err := k.Send(make([]byte, 256*k.Mss())); errors.Cause(err) != ErrMessageTooLarge {
		t.Fatalf("too large: %v", err)
	}
	k.SetWindowSize(32, 4)
	if err := k.Send(make([]byte, 4*k.Mss()+1)); errors.Cause(err) != ErrWindowTooSmall {
		t.Fatalf("window: %v", err)
	}
	if k.WaitSnd() != 0 {
		t.Fatalf("partial enqueue of %v segments", k.WaitSnd())
	}
	if err := k.Send(make([]byte, 4*k.Mss())); err != nil {
		t.Fatal(err)
	}
	if k.WaitSnd() != 4 {
		t.Fatalf("wait snd %v", k.WaitSnd())
	}
}

func TestInputErrors(t *testing.T) {
	k := NewKCP(1, func([]byte) {})
	frame := make([]byte, Overhead+4)
	seg := Segment{conv: 2, cmd: CmdPush, data: []byte{1, 2, 3, 4}}
	copy(seg.encode(frame), seg.data)

	if err := k.Input(frame); errors.Cause(err) != ErrWrongConv {
		t.Fatalf("conv: %v", err)
	}
	seg.conv = 1
	seg.encode(frame)
	if err := k.Input(frame[:Overhead+2]); errors.Cause(err) != ErrTruncated {
		t.Fatalf("body: %v", err)
	}
	if err := k.Input(frame[:10]); errors.Cause(err) != ErrTruncated {
		t.Fatalf("header: %v", err)
	}
	frame[4] = 99
	if err := k.Input(frame); errors.Cause(err) != ErrBadCommand {
		t.Fatalf("command: %v", err)
	}
	if k.PeekSize() != -1 {
		t.Fatal("bad frames produced data")
	}
}

func TestReserveBytes(t *testing.T) {
	var frames [][]byte
	k := NewKCP(1, func(buf []byte) { frames = append(frames, append([]byte(nil), buf...)) })
	if err := k.ReserveBytes(5); err != nil {
		t.Fatal(err)
	}
	if k.Mss() != mtuDefault-Overhead-5 {
		t.Fatalf("mss %v", k.Mss())
	}
	if err := k.Send(make([]byte, k.Mss())); err != nil {
		t.Fatal(err)
	}
	k.Update(0)
	if len(frames) != 1 || len(frames[0]) != mtuDefault {
		t.Fatalf("frames %v", len(frames))
	}
	h, err := ParseHeader(frames[0][5:])
	if err != nil || h.Cmd != CmdPush || int(h.Length) != k.Mss() {
		t.Fatalf("bad header %+v %v", h, err)
	}
	if err := k.SetMtu(20); errors.Cause(err) != ErrBadMtu {
		t.Fatalf("mtu: %v", err)
	}
}

func TestPoolResets(t *testing.T) {
	var p Pool
	seg := p.Pop(10)
	seg.sn, seg.xmit, seg.fastack, seg.frg = 4, 5, 6, 7
	p.Push(seg)
	if p.Len() != 1 {
		t.Fatalf("pool len %v", p.Len())
	}
	again := p.Pop(3)
	if again != seg {
		t.Fatal("segment not reused")
	}
	if again.sn != 0 || again.xmit != 0 || again.fastack != 0 || again.frg != 0 || len(again.data) != 3 {
		t.Fatalf("segment not reset: %+v", again)
	}
}

func TestTimediffWraps(t *testing.T) {
	if timediff(2, 0xfffffffe) != 4 {
		t.Fatal("wrap forward")
	}
	if timediff(0xfffffffe, 2) != -4 {
		t.Fatal("wrap backward")
	}
}

func BenchmarkRoundTrip(b *testing.B) {
	l := newLink(b, 1)
	l.a.SetNoDelay(true, 10, 2, true)
	l.b.SetNoDelay(true, 10, 2, true)
	l.a.SetWindowSize(1024, 1024)
	l.b.SetWindowSize(1024, 1024)
	msg := make([]byte, 512)
	buf := make([]byte, 1024)
	b.SetBytes(int64(len(msg)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := l.a.Send(msg); err != nil {
			b.Fatal(err)
		}
		for {
			l.step(10)
			n, err := l.b.Receive(buf)
			if err != nil {
				b.Fatal(err)
			}
			if n > 0 {
				break
			}
		}
	}
}
