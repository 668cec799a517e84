package fastudp

import pool "github.com/libp2p/go-buffer-pool"

// maxDatagram is the largest datagram the reader accepts.
const maxDatagram = 65536

func malloc(n int) []byte {
	return pool.Get(n)
}

func free(bts []byte) {
	pool.Put(bts)
}
