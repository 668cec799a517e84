package kcp

import (
	"encoding/binary"
	"fmt"
)

// Overhead is the size of a segment header on the wire.
const Overhead = 24

// Command is the type of a segment.
type Command uint8

const (
	CmdPush Command = 81 // push data
	CmdAck  Command = 82 // acknowledge one pushed segment
	CmdWask Command = 83 // window probe (ask)
	CmdWins Command = 84 // window size (tell)
)

// Valid reports whether c is one of the four known commands.
func (c Command) Valid() bool {
	switch c {
	case CmdPush, CmdAck, CmdWask, CmdWins:
		return true
	}
	return false
}

func (c Command) String() string {
	switch c {
	case CmdPush:
		return "PUSH"
	case CmdAck:
		return "ACK"
	case CmdWask:
		return "WASK"
	case CmdWins:
		return "WINS"
	}
	return fmt.Sprintf("CMD(%d)", uint8(c))
}

// Header is a decoded segment header.
type Header struct {
	Conv   uint32
	Cmd    Command
	Frg    uint8
	Wnd    uint16
	Ts     uint32
	Sn     uint32
	Una    uint32
	Length uint32
}

// ParseHeader decodes the segment header at the start of b. It does not check
// that the body is present.
func ParseHeader(b []byte) (h Header, err error) {
	if len(b) < Overhead {
		err = ErrTruncated
		return
	}
	h.Conv = binary.LittleEndian.Uint32(b)
	h.Cmd = Command(b[4])
	h.Frg = b[5]
	h.Wnd = binary.LittleEndian.Uint16(b[6:])
	h.Ts = binary.LittleEndian.Uint32(b[8:])
	h.Sn = binary.LittleEndian.Uint32(b[12:])
	h.Una = binary.LittleEndian.Uint32(b[16:])
	h.Length = binary.LittleEndian.Uint32(b[20:])
	return
}

// Segment is one ARQ transmission unit.
type Segment struct {
	conv uint32
	cmd  Command
	frg  uint8
	wnd  uint16
	ts   uint32
	sn   uint32
	una  uint32

	resendts uint32
	rto      uint32
	xmit     uint32
	fastack  uint32

	data []byte
}

// encode writes the header of seg into ptr and returns the rest of ptr.
func (seg *Segment) encode(ptr []byte) []byte {
	binary.LittleEndian.PutUint32(ptr, seg.conv)
	ptr[4] = byte(seg.cmd)
	ptr[5] = seg.frg
	binary.LittleEndian.PutUint16(ptr[6:], seg.wnd)
	binary.LittleEndian.PutUint32(ptr[8:], seg.ts)
	binary.LittleEndian.PutUint32(ptr[12:], seg.sn)
	binary.LittleEndian.PutUint32(ptr[16:], seg.una)
	binary.LittleEndian.PutUint32(ptr[20:], uint32(len(seg.data)))
	return ptr[Overhead:]
}
