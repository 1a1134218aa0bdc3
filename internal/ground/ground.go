// Package ground assembles the ground station: telemetry link, fire
// watchdog, dashboard and optional MQTT publishing.
package ground

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/thermolink/helpers"
	"github.com/temoto/thermolink/helpers/clock"
	"github.com/temoto/thermolink/internal/dashboard"
	"github.com/temoto/thermolink/internal/notify"
	"github.com/temoto/thermolink/internal/state"
	"github.com/temoto/thermolink/internal/uplink"
	"github.com/temoto/thermolink/internal/watchdog"
	"github.com/temoto/thermolink/log2"
	"github.com/temoto/thermolink/tele"
	"github.com/temoto/thermolink/tele/locate"
	telenet "github.com/temoto/thermolink/tele/net"
)

type Station struct {
	Dashboard *dashboard.Server
	Link      *telenet.Link
	Locator   *locate.Locator
	Mqtt      *notify.Mqtt
	Watchdog  *watchdog.Watchdog

	cfg *state.Config
	log *log2.Log
}

type Options struct {
	Clock clock.Clock // nil = real time
	// Notifier is extra alert channel besides configured SMTP and MQTT.
	Notifier notify.Notifier
}

// New only builds components, network IO starts in Start.
func New(cfg *state.Config, log *log2.Log, opt Options) (*Station, error) {
	clk := opt.Clock
	s := &Station{cfg: cfg, log: log}
	var err error
	if s.Locator, err = NewLocator(cfg, log); err != nil {
		return nil, err
	}

	notifiers := make(notify.Multi, 0, 2)
	if cfg.Alert.Smtp.Addr != "" {
		smtp, err := notify.NewSmtp(notify.SmtpOptions{
			Addr:     cfg.Alert.Smtp.Addr,
			From:     cfg.Alert.Smtp.From,
			Username: cfg.Alert.Smtp.Username,
			Password: cfg.Alert.Smtp.Password,
			Timeout:  helpers.IntSecondDefault(cfg.Alert.TimeoutSec, notify.DefaultSmtpTimeout),
			Log:      log,
		})
		if err != nil {
			return nil, errors.Annotate(err, "alert smtp")
		}
		notifiers = append(notifiers, smtp)
	}
	if cfg.Mqtt.Broker != "" {
		if s.Mqtt, err = notify.NewMqtt(notify.MqttOptions{
			Broker:      cfg.Mqtt.Broker,
			ClientID:    cfg.Mqtt.ClientID,
			Username:    cfg.Mqtt.Username,
			Password:    cfg.Mqtt.Password,
			TopicPrefix: cfg.Mqtt.TopicPrefix,
			Keepalive:   helpers.IntSecondDefault(cfg.Mqtt.KeepaliveSec, 60*time.Second),
			Log:         log,
		}); err != nil {
			return nil, errors.Annotate(err, "mqtt")
		}
		if cfg.Alert.Mqtt {
			notifiers = append(notifiers, s.Mqtt)
		}
	}
	if opt.Notifier != nil {
		notifiers = append(notifiers, opt.Notifier)
	}
	var notifier notify.Notifier
	if len(notifiers) != 0 {
		notifier = notifiers
	}
	s.Watchdog = watchdog.New(watchdog.Options{
		Notifier:          notifier,
		Recipients:        cfg.Alert.Recipients,
		Cooldown:          cfg.Cooldown(),
		DashboardURL:      cfg.Alert.DashboardURL,
		AllowNoRecipients: cfg.Alert.Mqtt && s.Mqtt != nil,
		Workers:           cfg.Alert.Workers,
		Timeout:           helpers.IntSecondDefault(cfg.Alert.TimeoutSec, watchdog.DefaultTimeout),
		Clock:             clk,
		Log:               log,
	})

	if s.Link, err = telenet.NewLink(&telenet.LinkOptions{
		ConnOptions: telenet.ConnOptions{
			Log:            log,
			ConnectTimeout: helpers.IntSecondDefault(cfg.Ground.ConnectTimeoutSec, telenet.DefaultConnectTimeout),
			NetworkTimeout: helpers.IntSecondDefault(cfg.Ground.ReadTimeoutSec, telenet.DefaultNetworkTimeout),
		},
		Locator:       s.Locator,
		Clock:         clk,
		RetryDelay:    helpers.IntSecondDefault(cfg.Ground.RetryDelaySec, telenet.DefaultRetryDelay),
		FireThreshold: float32(cfg.Ground.FireThreshold),
	}); err != nil {
		return nil, errors.Annotate(err, "link")
	}
	s.Link.Subscribe(func(st tele.State) { s.Watchdog.Observe(st) })
	if s.Mqtt != nil {
		sp := notify.NewStatePublisher(s.Mqtt, s.Mqtt.Topic("state"),
			helpers.IntSecondDefault(cfg.Mqtt.StateIntervalSec, notify.DefaultStateInterval), clk, log)
		s.Link.Subscribe(sp.Observe)
	}

	if s.Dashboard, err = dashboard.New(dashboard.Options{
		State:     s.Link.State,
		LinkStat:  s.Link.Stat().Value,
		AlertStat: s.Watchdog.Stat,
		PublicURL: cfg.Alert.DashboardURL,
		Log:       log,
	}); err != nil {
		return nil, errors.Annotate(err, "dashboard")
	}
	log.SetErrorFunc(s.Dashboard.CountError)
	return s, nil
}

func NewLocator(cfg *state.Config, log *log2.Log) (*locate.Locator, error) {
	l := &locate.Locator{
		Name:         cfg.Ground.DiscoveryName,
		Port:         cfg.Ground.TelemetryPort,
		Fallback:     cfg.Ground.Fallback,
		ProbeTimeout: helpers.IntMillisecondDefault(cfg.Ground.ProbeTimeoutMs, locate.DefaultProbeTimeout),
		Resolver:     locate.NetResolver{},
		Log:          log,
	}
	if cfg.Ground.DiscoveryConsul {
		cr, err := locate.NewConsulResolver(cfg.Ground.ConsulAddr)
		if err != nil {
			return nil, errors.Annotate(err, "consul discovery")
		}
		l.Resolver = cr
	}
	return l, nil
}

// Start fails only when dashboard can not bind. MQTT connect failure is
// logged, client keeps reconnecting in background.
func (s *Station) Start(ctx context.Context) error {
	if s.Mqtt != nil {
		if err := s.Mqtt.Connect(); err != nil {
			s.log.Errorf("mqtt err=%v", err)
		}
	}
	if err := s.Dashboard.Listen(ctx, s.cfg.Dashboard.Listen); err != nil {
		return err
	}
	s.Link.Start(ctx)
	return nil
}

func (s *Station) Close() {
	_ = s.Link.Close()
	s.Watchdog.Close()
	_ = s.Dashboard.Close()
	if s.Mqtt != nil {
		s.Mqtt.Close()
	}
}

// CommandAddr is configured command.addr or satellite host with command port.
// Satellite host comes from active link, else fresh locate.
func CommandAddr(ctx context.Context, cfg *state.Config, link func() tele.State, loc telenet.Locator) (string, error) {
	if cfg.Command.Addr != "" {
		return cfg.Command.Addr, nil
	}
	addr := ""
	if link != nil {
		addr = link().Addr
	}
	if addr == "" && loc != nil {
		var err error
		if addr, err = loc.Locate(ctx); err != nil {
			return "", errors.Annotate(err, "command locate satellite")
		}
	}
	if addr == "" {
		return "", locate.ErrNotFound
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", errors.Annotatef(err, "command addr=%s", addr)
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Command.Port)), nil
}

func NewCommandClient(ctx context.Context, cfg *state.Config, link func() tele.State, loc telenet.Locator, log *log2.Log) (*uplink.Client, error) {
	addr, err := CommandAddr(ctx, cfg, link, loc)
	if err != nil {
		return nil, err
	}
	return uplink.NewClient(uplink.ClientOptions{
		Addr:    addr,
		Secret:  cfg.Command.Secret,
		Timeout: cfg.CommandNetworkTimeout(),
		Log:     log,
	})
}
