package kcp

import "time"

var refTime = time.Now()

// CurrentMS returns monotonic milliseconds elapsed since process start. The
// value wraps around every ~49 days, so compare with timediff.
func CurrentMS() uint32 {
	return uint32(time.Since(refTime) / time.Millisecond)
}

// timediff compares two wrapping 32-bit counters.
func timediff(later, earlier uint32) int32 {
	return int32(later - earlier)
}
