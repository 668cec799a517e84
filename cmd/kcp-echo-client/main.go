package main

import (
	"encoding/binary"
	"flag"
	"os"
	"time"

	"github.com/geph-official/gamekcp/libs/kcpnet"
	"github.com/geph-official/gamekcp/libs/peer"
	"github.com/google/gops/agent"
	log "github.com/sirupsen/logrus"
	"github.com/vharitonsky/iniflags"
)

var serverAddr string
var settingPath string
var tickMs int
var msgSize int
var msgCount int
var unreliable bool

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: false,
	})
	iniflags.SetAllowMissingConfigFile(true)
	flag.StringVar(&serverAddr, "server", "127.0.0.1:7777", "echo server address")
	flag.StringVar(&settingPath, "setting", "", "YAML file with session settings; defaults when empty")
	flag.IntVar(&tickMs, "tick", 10, "update period in milliseconds")
	flag.IntVar(&msgSize, "size", 64, "message size in bytes, at least 16")
	flag.IntVar(&msgCount, "count", 1000, "number of messages to send")
	flag.BoolVar(&unreliable, "unreliable", false, "use the unreliable channel")
	iniflags.Parse()
	if msgSize < 16 {
		msgSize = 16
	}

	if err := agent.Listen(agent.Options{}); err != nil {
		log.WithError(err).Warn("gops agent not started")
	}

	setting := peer.DefaultSetting()
	if settingPath != "" {
		var err error
		setting, err = peer.LoadSetting(settingPath)
		if err != nil {
			log.WithError(err).Fatal("cannot load setting")
		}
	}
	ch := peer.Reliable
	if unreliable {
		ch = peer.Unreliable
	}

	var sent, received int
	var expect uint64
	var totalRTT, maxRTT time.Duration
	done := false
	start := time.Now()

	client := kcpnet.NewClient(setting, kcpnet.ClientCallbacks{
		OnConnected: func() {
			log.Infof("connected to %v in %v", serverAddr, time.Since(start))
		},
		OnData: func(data []byte, got peer.Channel) {
			if len(data) < 16 {
				log.Warnf("short echo of %v bytes", len(data))
				return
			}
			seq := binary.BigEndian.Uint64(data)
			rtt := time.Duration(time.Now().UnixNano() - int64(binary.BigEndian.Uint64(data[8:])))
			if got == peer.Reliable && seq != expect {
				log.Fatalf("echo %v arrived, expected %v", seq, expect)
			}
			expect = seq + 1
			received++
			totalRTT += rtt
			if rtt > maxRTT {
				maxRTT = rtt
			}
			log.WithField("seq", seq).Debugf("rtt %v", rtt)
		},
		OnDisconnected: func() {
			log.Info("disconnected")
			done = true
		},
		OnError: func(code peer.ErrorCode, err error) {
			log.WithField("code", code).WithError(err).Warn("session error")
		},
	}, kcpnet.WithLogger(log.StandardLogger()))
	if err := client.Connect(serverAddr); err != nil {
		log.WithError(err).Fatal("cannot connect")
	}

	msg := make([]byte, msgSize)
	ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
	defer ticker.Stop()
	var lastProgress time.Time
	for !done {
		<-ticker.C
		client.EarlyUpdate()
		if client.Connected() && sent < msgCount {
			binary.BigEndian.PutUint64(msg, uint64(sent))
			binary.BigEndian.PutUint64(msg[8:], uint64(time.Now().UnixNano()))
			if err := client.Send(msg, ch); err != nil {
				log.WithError(err).Warn("send failed")
			} else {
				sent++
				lastProgress = time.Now()
			}
		}
		client.AfterUpdate()
		if sent == msgCount && (received == msgCount || time.Since(lastProgress) > 5*time.Second) {
			client.Disconnect()
		}
	}

	if received == 0 {
		log.Errorf("no echoes out of %v messages", sent)
		os.Exit(1)
	}
	log.Infof("%v/%v echoes, mean rtt %v, max rtt %v",
		received, sent, totalRTT/time.Duration(received), maxRTT)
}
