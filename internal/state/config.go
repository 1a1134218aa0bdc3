package state

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/thermolink/helpers"
	"github.com/temoto/thermolink/log2"
)

const (
	DefaultTelemetryPort = 5000
	DefaultCommandPort   = 5001
	DefaultWebListen     = ":9876"
	DefaultCooldown      = 60 * time.Second
	DefaultMissionPid    = "logs/mission.pids"
)

type Config struct { //nolint:maligned
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Satellite struct {
		TelemetryListen string  `hcl:"telemetry_listen"`
		FrameIntervalMs int     `hcl:"frame_interval_ms"`
		WriteTimeoutSec int     `hcl:"write_timeout_sec"`
		Source          string  `hcl:"source"` // sim | replay
		ReplayPath      string  `hcl:"replay_path"`
		SimBaseline     float64 `hcl:"sim_baseline"`
		SimHotspot      float64 `hcl:"sim_hotspot"`
		ConsulRegister  bool    `hcl:"consul_register"`
		ConsulAddr      string  `hcl:"consul_addr"`
		Advertise       string  `hcl:"advertise"`
	} `hcl:"satellite"`

	Ground struct {
		DiscoveryName     string   `hcl:"discovery_name"`
		DiscoveryConsul   bool     `hcl:"discovery_consul"`
		ConsulAddr        string   `hcl:"consul_addr"`
		Fallback          []string `hcl:"fallback"`
		TelemetryPort     int      `hcl:"telemetry_port"`
		ProbeTimeoutMs    int      `hcl:"probe_timeout_ms"`
		ConnectTimeoutSec int      `hcl:"connect_timeout_sec"`
		ReadTimeoutSec    int      `hcl:"read_timeout_sec"`
		RetryDelaySec     int      `hcl:"retry_delay_sec"`
		FireThreshold     float64  `hcl:"fire_threshold"`
	} `hcl:"ground"`

	Command struct {
		Listen            string `hcl:"listen"` // satellite side
		Addr              string `hcl:"addr"`   // ground side, empty = located satellite host
		Port              int    `hcl:"port"`
		Secret            string `hcl:"secret"` // secret
		TimeoutSec        int    `hcl:"timeout_sec"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
		Shell             string `hcl:"shell"`
	} `hcl:"command"`

	Alert struct {
		CooldownSec  int      `hcl:"cooldown_sec"`
		DashboardURL string   `hcl:"dashboard_url"`
		Recipients   []string `hcl:"recipients"`
		Workers      int      `hcl:"workers"`
		TimeoutSec   int      `hcl:"timeout_sec"`
		Mqtt         bool     `hcl:"mqtt"`
		Smtp         struct {
			Addr     string `hcl:"addr"`
			From     string `hcl:"from"`
			Username string `hcl:"username"`
			Password string `hcl:"password"` // secret
		} `hcl:"smtp"`
	} `hcl:"alert"`

	Mqtt struct {
		Broker           string `hcl:"broker"`
		ClientID         string `hcl:"client_id"`
		Username         string `hcl:"username"`
		Password         string `hcl:"password"` // secret
		TopicPrefix      string `hcl:"topic_prefix"`
		StateIntervalSec int    `hcl:"state_interval_sec"`
		KeepaliveSec     int    `hcl:"keepalive_sec"`
	} `hcl:"mqtt"`

	Dashboard struct {
		Listen string `hcl:"listen"`
	} `hcl:"dashboard"`

	Mission struct {
		PidFile string `hcl:"pid_file"`
	} `hcl:"mission"`

	LogDebug bool `hcl:"log_debug"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) CommandTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Command.TimeoutSec, 10*time.Second)
}
func (c *Config) CommandNetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Command.NetworkTimeoutSec, 15*time.Second)
}
func (c *Config) Cooldown() time.Duration {
	return helpers.IntSecondDefault(c.Alert.CooldownSec, DefaultCooldown)
}

// FillDefaults sets zero values to defaults, explicit values are kept.
func (c *Config) FillDefaults() {
	if c.Satellite.TelemetryListen == "" {
		c.Satellite.TelemetryListen = "tcp://:5000"
	}
	if c.Satellite.Source == "" {
		c.Satellite.Source = "sim"
	}
	if c.Satellite.SimBaseline == 0 {
		c.Satellite.SimBaseline = 24
	}
	if c.Satellite.SimHotspot == 0 {
		c.Satellite.SimHotspot = 12
	}
	if c.Ground.DiscoveryName == "" {
		c.Ground.DiscoveryName = "satellite.local"
	}
	if c.Ground.TelemetryPort == 0 {
		c.Ground.TelemetryPort = DefaultTelemetryPort
	}
	if c.Ground.FireThreshold == 0 {
		c.Ground.FireThreshold = 40
	}
	if c.Command.Listen == "" {
		c.Command.Listen = "tcp://:5001"
	}
	if c.Command.Port == 0 {
		c.Command.Port = DefaultCommandPort
	}
	if c.Command.Shell == "" {
		c.Command.Shell = "/bin/sh"
	}
	if c.Alert.DashboardURL == "" {
		c.Alert.DashboardURL = "http://localhost" + DefaultWebListen + "/"
	}
	if c.Mqtt.TopicPrefix == "" {
		c.Mqtt.TopicPrefix = "thermolink"
	}
	if c.Dashboard.Listen == "" {
		c.Dashboard.Listen = DefaultWebListen
	}
	if c.Mission.PidFile == "" {
		c.Mission.PidFile = DefaultMissionPid
	}
}

func (c *Config) Validate() error {
	errs := make([]error, 0)
	if c.Ground.TelemetryPort < 0 || c.Ground.TelemetryPort > 65535 {
		errs = append(errs, errors.NotValidf("ground.telemetry_port=%d", c.Ground.TelemetryPort))
	}
	if c.Command.Port < 0 || c.Command.Port > 65535 {
		errs = append(errs, errors.NotValidf("command.port=%d", c.Command.Port))
	}
	if c.Alert.CooldownSec < 0 {
		errs = append(errs, errors.NotValidf("alert.cooldown_sec=%d", c.Alert.CooldownSec))
	}
	if c.Satellite.FrameIntervalMs < 0 {
		errs = append(errs, errors.NotValidf("satellite.frame_interval_ms=%d", c.Satellite.FrameIntervalMs))
	}
	switch c.Satellite.Source {
	case "", "sim":
	case "replay":
		if c.Satellite.ReplayPath == "" {
			errs = append(errs, errors.NotValidf("satellite.source=replay without replay_path"))
		}
	default:
		errs = append(errs, errors.NotValidf("satellite.source=%s", c.Satellite.Source))
	}
	if len(c.Alert.Recipients) != 0 && c.Alert.Smtp.Addr != "" && c.Alert.Smtp.From == "" {
		errs = append(errs, errors.NotValidf("alert.smtp.from is required with recipients"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
