package kcpnet

import (
	"io"
	"time"

	"github.com/geph-official/gamekcp/libs/peer"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type options struct {
	log          logrus.FieldLogger
	rand         io.Reader
	clock        func() uint32
	rateLimit    rate.Limit
	rateBurst    int
	blacklistTTL time.Duration
	queueLength  int
}

func defaultOptions() options {
	return options{
		log:          peer.DefaultLogger(),
		blacklistTTL: 5 * time.Minute,
		queueLength:  4096,
	}
}

// Option customizes a Client or Server.
type Option func(*options)

// WithLogger sets the logger for the driver and its sessions.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithRand sets the source cookies are drawn from.
func WithRand(r io.Reader) Option {
	return func(o *options) { o.rand = r }
}

// WithClock replaces the millisecond clock of every session.
func WithClock(clock func() uint32) Option {
	return func(o *options) { o.clock = clock }
}

// WithRateLimit caps the datagrams a server accepts from one endpoint.
// Excess datagrams are dropped before they reach the session.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.rateLimit = rate.Limit(perSecond)
		o.rateBurst = burst
	}
}

// WithBlacklist sets how long a server ignores an endpoint whose first
// contact was invalid. Zero disables the blacklist.
func WithBlacklist(ttl time.Duration) Option {
	return func(o *options) { o.blacklistTTL = ttl }
}

// WithQueueLength bounds the datagrams buffered between two updates.
func WithQueueLength(n int) Option {
	return func(o *options) { o.queueLength = n }
}

func (o options) peerOptions(log logrus.FieldLogger) []peer.Option {
	opts := []peer.Option{peer.WithLogger(log), peer.WithRand(o.rand)}
	if o.clock != nil {
		opts = append(opts, peer.WithClock(o.clock))
	}
	return opts
}
