package satellite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/thermolink/internal/sensor"
	"github.com/temoto/thermolink/internal/state"
	"github.com/temoto/thermolink/internal/uplink"
	"github.com/temoto/thermolink/tele"
	telenet "github.com/temoto/thermolink/tele/net"
)

type fixedLocator string

func (l fixedLocator) Locate(context.Context) (string, error) { return string(l), nil }

func TestSatelliteToGround(t *testing.T) {
	t.Parallel()
	ctx, g := state.NewTestContext(t, `
satellite { telemetry_listen = "tcp://127.0.0.1:0" frame_interval_ms = 10 }
command { listen = "tcp://127.0.0.1:0" secret = "s3cret" }
`)
	sim := sensor.NewSimulated(sensor.SimOptions{Seed: 1})
	sat, err := New(g.Config, g.Log, Options{Source: sim})
	require.NoError(t, err)
	require.NoError(t, sat.Start(ctx))
	defer sat.Close()
	require.NotNil(t, sat.Command)

	link, err := telenet.NewLink(&telenet.LinkOptions{
		ConnOptions: telenet.ConnOptions{Log: g.Log},
		Locator:     fixedLocator(sat.Downlink.Addrs()[0]),
	})
	require.NoError(t, err)
	link.Start(ctx)
	defer link.Close()

	require.Eventually(t, func() bool { return link.State().Status == tele.StatusNominal }, 5*time.Second, 10*time.Millisecond)
	sim.SetFire(true)
	require.Eventually(t, func() bool { return link.State().Status == tele.StatusFire }, 5*time.Second, 10*time.Millisecond)

	cl, err := uplink.NewClient(uplink.ClientOptions{Addr: sat.Command.Addr().String(), Secret: "s3cret", Log: g.Log})
	require.NoError(t, err)
	resp, err := cl.Send(ctx, "echo pong")
	require.NoError(t, err)
	assert.Equal(t, "pong\n", resp)
}

func TestCommandDisabledWithoutSecret(t *testing.T) {
	t.Parallel()
	ctx, g := state.NewTestContext(t, `satellite { telemetry_listen = "tcp://127.0.0.1:0" }`)
	g.Config.Command.Secret = ""
	sat, err := New(g.Config, g.Log, Options{Source: sensor.NewSimulated(sensor.SimOptions{})})
	require.NoError(t, err)
	assert.Nil(t, sat.Command)
	require.NoError(t, sat.Start(ctx))
	sat.Close()
}

func TestNewSource(t *testing.T) {
	t.Parallel()
	cfg := &state.Config{}
	cfg.FillDefaults()
	src, err := NewSource(cfg)
	require.NoError(t, err)
	assert.IsType(t, &sensor.Simulated{}, src)

	cfg.Satellite.Source = "replay"
	cfg.Satellite.ReplayPath = "/nonexistent"
	_, err = NewSource(cfg)
	assert.Error(t, err)

	cfg.Satellite.Source = "camera"
	_, err = NewSource(cfg)
	assert.Error(t, err)
}
