package state

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/thermolink/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, DefaultTelemetryPort, c.Ground.TelemetryPort)
			assert.Equal(t, DefaultCommandPort, c.Command.Port)
			assert.Equal(t, "satellite.local", c.Ground.DiscoveryName)
			assert.Equal(t, 40.0, c.Ground.FireThreshold)
			assert.Equal(t, DefaultCooldown, c.Cooldown())
			assert.Equal(t, 10*time.Second, c.CommandTimeout())
			assert.Equal(t, "thermolink", c.Mqtt.TopicPrefix)
			assert.Equal(t, DefaultMissionPid, c.Mission.PidFile)
		}, ""},

		{"ground",
			`ground { fallback = ["192.168.40.20", "10.0.0.7"] telemetry_port = 6000 fire_threshold = 55.5 }
alert { cooldown_sec = 5 recipients = ["ops@example.org"] smtp { addr = "mx:25" from = "sat@example.org" } }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, []string{"192.168.40.20", "10.0.0.7"}, c.Ground.Fallback)
				assert.Equal(t, 6000, c.Ground.TelemetryPort)
				assert.Equal(t, 55.5, c.Ground.FireThreshold)
				assert.Equal(t, 5*time.Second, c.Cooldown())
				assert.Equal(t, "mx:25", c.Alert.Smtp.Addr)
			},
			"",
		},

		{"bad-source", `satellite { source = "camera" }`, nil, "satellite.source=camera not valid"},
		{"replay-no-path", `satellite { source = "replay" }`, nil, "satellite.source=replay without replay_path not valid"},
		{"bad-port", `command { port = 70000 }`, nil, "command.port=70000 not valid"},
		{"syntax", `ground {`, nil, "config unmarshal source=test-inline"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{"test-inline": c.input})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				_, g := NewContext(log)
				err = g.Init(context.Background(), cfg)
			}
			if c.expectErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
				return
			}
			require.NoError(t, err, errors.ErrorStack(err))
			c.check(t, cfg)
		})
	}
}

func TestReadConfigInclude(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	fs := NewMockFullReader(map[string]string{
		"main":  `include "local" {} include "extra" { optional = true } command { port = 7001 }`,
		"local": `command { secret = "s3cret" }`,
	})
	cfg, err := ReadConfig(log, fs, "main")
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Command.Port)
	assert.Equal(t, "s3cret", cfg.Command.Secret)
}

func TestReadConfigIncludeLoop(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	fs := NewMockFullReader(map[string]string{
		"a": `include "b" {}`,
		"b": `include "a" {}`,
	})
	_, err := ReadConfig(log, fs, "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include loop")
}

func TestReadConfigRequiredMissing(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	_, err := ReadConfig(log, NewMockFullReader(nil), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config required name=nope path=nope not found")
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	c := &Config{}
	c.Command.Secret = "from-file"
	c.Mqtt.Password = "keep"
	env := map[string]string{
		EnvCommandSecret: "from-env",
		EnvSmtpPassword:  "smtp-pw",
	}
	c.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "from-env", c.Command.Secret)
	assert.Equal(t, "smtp-pw", c.Alert.Smtp.Password)
	assert.Equal(t, "keep", c.Mqtt.Password)
}

func TestNewTestContext(t *testing.T) {
	t.Parallel()
	ctx, g := NewTestContext(t, `log_debug = true dashboard { listen = "127.0.0.1:0" }`)
	assert.Equal(t, g, GetGlobal(ctx))
	assert.Equal(t, "127.0.0.1:0", g.Config.Dashboard.Listen)
	assert.True(t, g.StopWait(time.Second))
}
