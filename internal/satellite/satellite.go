// Package satellite assembles the flight side: frame downlink and command channel.
package satellite

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/thermolink/helpers"
	"github.com/temoto/thermolink/helpers/clock"
	"github.com/temoto/thermolink/internal/sensor"
	"github.com/temoto/thermolink/internal/state"
	"github.com/temoto/thermolink/internal/uplink"
	"github.com/temoto/thermolink/log2"
	"github.com/temoto/thermolink/tele/locate"
	telenet "github.com/temoto/thermolink/tele/net"
)

const ServiceName = "thermolink-satellite"

type Options struct {
	Clock  clock.Clock
	Source telenet.FrameSource // nil = from config
}

type Satellite struct {
	Command  *uplink.Server // nil when disabled
	Downlink *telenet.Downlink
	Source   telenet.FrameSource

	cfg        *state.Config
	consul     *locate.ConsulResolver
	consulPort int
	log        *log2.Log
}

func NewSource(cfg *state.Config) (telenet.FrameSource, error) {
	switch cfg.Satellite.Source {
	case "", "sim":
		return sensor.NewSimulated(sensor.SimOptions{
			Baseline: float32(cfg.Satellite.SimBaseline),
			Hotspot:  float32(cfg.Satellite.SimHotspot),
			Noise:    0.3,
			Seed:     time.Now().UnixNano(),
		}), nil
	case "replay":
		return sensor.OpenReplay(cfg.Satellite.ReplayPath)
	}
	return nil, errors.NotValidf("satellite.source=%s", cfg.Satellite.Source)
}

func New(cfg *state.Config, log *log2.Log, opt Options) (*Satellite, error) {
	s := &Satellite{cfg: cfg, log: log, Source: opt.Source}
	var err error
	if s.Source == nil {
		if s.Source, err = NewSource(cfg); err != nil {
			return nil, errors.Annotate(err, "sensor")
		}
	}
	if s.Downlink, err = telenet.NewDownlink(telenet.DownlinkOptions{
		Log:            log,
		Clock:          opt.Clock,
		Source:         s.Source,
		Interval:       helpers.IntMillisecondDefault(cfg.Satellite.FrameIntervalMs, telenet.DefaultFrameInterval),
		NetworkTimeout: helpers.IntSecondDefault(cfg.Satellite.WriteTimeoutSec, telenet.DefaultNetworkTimeout),
		OnClient: func(remote string, connected bool) {
			log.Infof("ground remote=%s connected=%t", remote, connected)
		},
	}); err != nil {
		return nil, errors.Annotate(err, "downlink")
	}

	s.Command, err = uplink.NewServer(uplink.ServerOptions{
		Secret:         cfg.Command.Secret,
		Shell:          cfg.Command.Shell,
		CommandTimeout: cfg.CommandTimeout(),
		NetworkTimeout: helpers.IntSecondDefault(cfg.Command.NetworkTimeoutSec, uplink.DefaultNetworkTimeout),
		Log:            log,
	})
	if err != nil {
		// fail closed, telemetry still works
		log.Errorf("command channel disabled: %v", err)
		s.Command = nil
	}
	return s, nil
}

// Start fails when telemetry can not listen. Command channel bind error
// disables only the command channel.
func (s *Satellite) Start(ctx context.Context) error {
	if err := s.Downlink.Listen(ctx, []telenet.ListenOptions{{StreamURL: s.cfg.Satellite.TelemetryListen}}); err != nil {
		return errors.Annotate(err, "telemetry")
	}
	if s.Command != nil {
		if err := s.Command.Listen(ctx, s.cfg.Command.Listen); err != nil {
			s.log.Errorf("command channel disabled: %v", err)
			_ = s.Command.Close()
			s.Command = nil
		}
	}
	if s.cfg.Satellite.ConsulRegister {
		if err := s.register(); err != nil {
			s.log.Errorf("consul register err=%v", err)
		}
	}
	return nil
}

func (s *Satellite) register() error {
	addrs := s.Downlink.Addrs()
	if len(addrs) == 0 {
		return errors.Errorf("no telemetry listener")
	}
	_, portStr, err := net.SplitHostPort(addrs[0])
	if err != nil {
		return errors.Annotatef(err, "listen addr=%s", addrs[0])
	}
	port, _ := strconv.Atoi(portStr)
	cr, err := locate.NewConsulResolver(s.cfg.Satellite.ConsulAddr)
	if err != nil {
		return err
	}
	if err = cr.Register(ServiceName, s.cfg.Satellite.Advertise, port); err != nil {
		return err
	}
	s.consul, s.consulPort = cr, port
	return nil
}

func (s *Satellite) Close() {
	if s.consul != nil {
		if err := s.consul.Deregister(ServiceName, s.consulPort); err != nil {
			s.log.Errorf("consul deregister err=%v", err)
		}
	}
	if s.Command != nil {
		_ = s.Command.Close()
	}
	_ = s.Downlink.Close()
}
