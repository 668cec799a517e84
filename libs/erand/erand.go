package erand

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Cookie draws a non-zero 32-bit value from r. A nil r means crypto/rand.
func Cookie(r io.Reader) (uint32, error) {
	if r == nil {
		r = rand.Reader
	}
	var buf [4]byte
	for i := 0; i < 16; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errors.Wrap(err, "cannot draw cookie")
		}
		if c := binary.LittleEndian.Uint32(buf[:]); c != 0 {
			return c, nil
		}
	}
	return 0, errors.New("randomness source keeps returning zero")
}
