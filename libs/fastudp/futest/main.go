package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/geph-official/gamekcp/libs/fastudp"
	"github.com/google/gops/agent"
)

func main() {
	var size int
	var queue int
	flag.IntVar(&size, "size", 1200, "datagram size")
	flag.IntVar(&queue, "queue", 4096, "read queue length")
	flag.Parse()

	if err := agent.Listen(agent.Options{}); err != nil {
		log.Fatal(err)
	}

	dst, err := fastudp.Listen("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)},
		fastudp.Options{QueueLength: queue, ReadBuffer: 1 << 22})
	if err != nil {
		panic(err)
	}
	src, err := fastudp.Listen("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, fastudp.Options{})
	if err != nil {
		panic(err)
	}
	go func() {
		pkt := make([]byte, size)
		for {
			if err := src.WriteTo(pkt, dst.LocalAddr()); err != nil {
				panic(err)
			}
		}
	}()

	start := time.Now()
	for i := 1; ; {
		d, ok, err := dst.TryRead()
		if err != nil {
			panic(err)
		}
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		d.Release()
		if i%100000 == 0 {
			elapsed := time.Since(start)
			speed := float64(i) / elapsed.Seconds()
			fmt.Println("received", i, "packets in", elapsed, "dropped", dst.Dropped())
			fmt.Printf("\t(%.2f pp/s)\n", speed)
		}
		i++
	}
}
