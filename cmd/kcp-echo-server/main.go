package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	statsd "github.com/etsy/statsd/examples/go"
	"github.com/geph-official/gamekcp/libs/kcpnet"
	"github.com/geph-official/gamekcp/libs/peer"
	"github.com/google/gops/agent"
	log "github.com/sirupsen/logrus"
	"github.com/vharitonsky/iniflags"
	"golang.org/x/sync/errgroup"
)

var listenAddr string
var settingPath string
var tickMs int
var metricsAddr string
var statsdAddr string
var rateLimit float64
var debug bool

var hostname string
var statClient *statsd.StatsdClient

func main() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: false,
	})
	iniflags.SetAllowMissingConfigFile(true)
	flag.StringVar(&listenAddr, "listen", ":7777", "UDP address to serve on")
	flag.StringVar(&settingPath, "setting", "", "YAML file with session settings; defaults when empty")
	flag.IntVar(&tickMs, "tick", 10, "update period in milliseconds")
	flag.StringVar(&metricsAddr, "metricsAddr", "localhost:9090", "HTTP address for /metrics and /stats; empty disables")
	flag.StringVar(&statsdAddr, "statsdAddr", "", "address of StatsD for gathering statistics")
	flag.Float64Var(&rateLimit, "rateLimit", 0, "max datagrams per second from one endpoint; 0 disables")
	flag.BoolVar(&debug, "debug", false, "log every session event")
	iniflags.Parse()
	if debug {
		log.SetLevel(log.DebugLevel)
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

	if statsdAddr != "" {
		z, e := net.ResolveUDPAddr("udp", statsdAddr)
		if e != nil {
			log.WithError(e).Fatal("cannot resolve statsd")
		}
		hostname, _ = os.Hostname()
		statClient = statsd.New(z.IP.String(), z.Port)
	}

	var srv *kcpnet.Server
	opts := []kcpnet.Option{kcpnet.WithLogger(log.StandardLogger())}
	if rateLimit > 0 {
		opts = append(opts, kcpnet.WithRateLimit(rateLimit, int(rateLimit)*2))
	}
	srv, err := kcpnet.NewServer(setting, kcpnet.ServerCallbacks{
		OnConnected: func(id int) {
			addr, _ := srv.ClientAddress(id)
			log.WithField("conn", id).Infof("client %v connected", addr)
		},
		OnData: func(id int, data []byte, ch peer.Channel) {
			if err := srv.Send(id, data, ch); err != nil {
				log.WithField("conn", id).WithError(err).Warn("echo failed")
			}
		},
		OnDisconnected: func(id int) {
			log.WithField("conn", id).Info("client disconnected")
		},
		OnError: func(id int, code peer.ErrorCode, err error) {
			log.WithField("conn", id).WithField("code", code).WithError(err).Debug("session error")
		},
	}, opts...)
	if err != nil {
		log.WithError(err).Fatal("bad setting")
	}
	if err := srv.Start(listenAddr); err != nil {
		log.WithError(err).Fatal("cannot listen")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tickLoop(ctx, srv)
	})
	if metricsAddr != "" {
		g.Go(func() error {
			return serveHTTP(ctx, metricsAddr, srv)
		})
	}
	if statClient != nil {
		g.Go(func() error {
			pushStatsd(ctx, srv)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

// tickLoop is the only goroutine touching srv besides Stats readers.
func tickLoop(ctx context.Context, srv *kcpnet.Server) error {
	defer srv.Stop()
	ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			srv.EarlyUpdate()
			srv.AfterUpdate()
		}
	}
}

func pushStatsd(ctx context.Context, srv *kcpnet.Server) {
	var last kcpnet.ServerStats
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st := srv.Stats()
		statClient.Timing(hostname+".connections", int64(st.Connections))
		statClient.UpdateStats([]string{hostname + ".accepted"}, int(st.Accepted-last.Accepted), 1)
		statClient.UpdateStats([]string{hostname + ".retransmits"}, int(st.RetransSegs-last.RetransSegs), 1)
		statClient.UpdateStats([]string{hostname + ".lostSegs"}, int(st.LostSegs-last.LostSegs), 1)
		statClient.UpdateStats([]string{hostname + ".socketDropped"}, int(st.SocketDropped-last.SocketDropped), 1)
		last = st
	}
}
