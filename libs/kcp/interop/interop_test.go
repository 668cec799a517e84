package interop

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/geph-official/gamekcp/libs/kcp"
	xkcp "github.com/xtaci/kcp-go"
)

func TestBothDirections(t *testing.T) {
	var toOurs, toTheirs [][]byte
	ours := kcp.NewKCP(42, func(buf []byte) {
		toTheirs = append(toTheirs, append([]byte(nil), buf...))
	})
	theirs := xkcp.NewKCP(42, func(buf []byte, size int) {
		toOurs = append(toOurs, append([]byte(nil), buf[:size]...))
	})
	ours.SetNoDelay(true, 10, 2, true)
	theirs.NoDelay(1, 10, 2, 1)
	theirs.WndSize(128, 128)

	rng := rand.New(rand.NewSource(3))
	var sent [][]byte
	for i := 0; i < 20; i++ {
		msg := make([]byte, 1+rng.Intn(3000))
		rng.Read(msg)
		sent = append(sent, msg)
		if err := ours.Send(msg); err != nil {
			t.Fatal(err)
		}
		if theirs.Send(msg) < 0 {
			t.Fatal("kcp-go refused message")
		}
	}

	buf := make([]byte, 8192)
	var gotOurs, gotTheirs [][]byte
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && (len(gotOurs) < len(sent) || len(gotTheirs) < len(sent)) {
		for _, f := range toOurs {
			if err := ours.Input(f); err != nil {
				t.Fatal(err)
			}
		}
		for _, f := range toTheirs {
			if theirs.Input(f, true, false) < 0 {
				t.Fatal("kcp-go rejected frame")
			}
		}
		toOurs, toTheirs = nil, nil
		ours.Update(kcp.CurrentMS())
		theirs.Update()

		for {
			n, err := ours.Receive(buf)
			if err != nil {
				t.Fatal(err)
			}
			if n == 0 {
				break
			}
			gotOurs = append(gotOurs, append([]byte(nil), buf[:n]...))
		}
		for {
			n := theirs.Recv(buf)
			if n < 0 {
				break
			}
			gotTheirs = append(gotTheirs, append([]byte(nil), buf[:n]...))
		}
		time.Sleep(2 * time.Millisecond)
	}
	for name, got := range map[string][][]byte{"ours": gotOurs, "kcp-go": gotTheirs} {
		if len(got) != len(sent) {
			t.Fatalf("%v received %v of %v", name, len(got), len(sent))
		}
		for i := range sent {
			if !bytes.Equal(got[i], sent[i]) {
				t.Fatalf("%v: message %v differs", name, i)
			}
		}
	}
}
