package peer

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Setting configures a session. It is copied into every peer and never
// changed afterwards.
type Setting struct {
	// DualMode makes drivers listen on [::] and accept IPv4 too.
	DualMode       bool `yaml:"dual_mode"`
	RecvBufferSize int  `yaml:"recv_buffer_size"`
	SendBufferSize int  `yaml:"send_buffer_size"`

	Mtu              int  `yaml:"mtu"`
	NoDelay          bool `yaml:"no_delay"`
	Interval         int  `yaml:"interval"`
	FastResend       int  `yaml:"fast_resend"`
	CongestionWindow bool `yaml:"congestion_window"`
	SendWindowSize   int  `yaml:"send_window_size"`
	RecvWindowSize   int  `yaml:"receive_window_size"`
	// Timeout in ms without any inbound datagram before the session is dropped.
	Timeout        int `yaml:"timeout"`
	MaxRetransmits int `yaml:"max_retransmits"`
	PingInterval   int `yaml:"ping_interval"`
	QueueLimit     int `yaml:"queue_limit"`
}

// DefaultSetting returns the settings tuned for game traffic.
func DefaultSetting() Setting {
	return Setting{
		DualMode:         true,
		RecvBufferSize:   1024 * 1024 * 7,
		SendBufferSize:   1024 * 1024 * 7,
		Mtu:              1200,
		NoDelay:          true,
		Interval:         10,
		FastResend:       2,
		CongestionWindow: true,
		SendWindowSize:   32,
		RecvWindowSize:   128,
		Timeout:          10000,
		MaxRetransmits:   20,
		PingInterval:     1000,
		QueueLimit:       10000,
	}
}

// LoadSetting reads a YAML file over the defaults.
func LoadSetting(path string) (Setting, error) {
	s := DefaultSetting()
	bts, err := ioutil.ReadFile(path)
	if err != nil {
		return s, errors.Wrap(err, "cannot read setting")
	}
	if err := yaml.Unmarshal(bts, &s); err != nil {
		return s, errors.Wrapf(err, "cannot parse %v", path)
	}
	return s, s.Validate()
}

// Validate checks that the values can drive a session.
func (s Setting) Validate() error {
	switch {
	case s.Mtu < 64 || s.Mtu > 65000:
		return errors.Errorf("mtu %v out of range", s.Mtu)
	case s.Interval <= 0:
		return errors.Errorf("interval must be positive, got %v", s.Interval)
	case s.FastResend < 0:
		return errors.Errorf("negative fast_resend %v", s.FastResend)
	case s.SendWindowSize <= 0 || s.RecvWindowSize <= 1:
		return errors.Errorf("bad window sizes %v/%v", s.SendWindowSize, s.RecvWindowSize)
	case s.Timeout <= 0:
		return errors.Errorf("timeout must be positive, got %v", s.Timeout)
	case s.MaxRetransmits <= 0:
		return errors.Errorf("max_retransmits must be positive, got %v", s.MaxRetransmits)
	case s.PingInterval <= 0:
		return errors.Errorf("ping_interval must be positive, got %v", s.PingInterval)
	case s.QueueLimit <= 0:
		return errors.Errorf("queue_limit must be positive, got %v", s.QueueLimit)
	}
	return nil
}

// ReliableMax is the largest payload Send accepts on the reliable channel:
// 254 full segments minus the message header byte, or fewer when the
// receive window is smaller.
func (s Setting) ReliableMax() int {
	wnd := s.RecvWindowSize
	if wnd > 255 {
		wnd = 255
	}
	return (s.Mtu-24-datagramHeader)*(wnd-1) - 1
}

// UnreliableMax is the largest payload Send accepts on the unreliable
// channel.
func (s Setting) UnreliableMax() int {
	return s.Mtu - datagramHeader - 1
}
