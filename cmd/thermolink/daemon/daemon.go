// Package daemon holds long running modes: satellite and ground station.
package daemon

import (
	"context"
	"time"

	sd "github.com/coreos/go-systemd/daemon"
	"github.com/temoto/thermolink/cmd/thermolink/subcmd"
	"github.com/temoto/thermolink/internal/ground"
	"github.com/temoto/thermolink/internal/satellite"
	"github.com/temoto/thermolink/internal/state"
)

const stopTimeout = 5 * time.Second

var SatelliteMod = subcmd.Mod{Name: "satellite", Usage: "stream frames, accept commands", Main: SatelliteMain}
var GroundMod = subcmd.Mod{Name: "ground", Usage: "receive telemetry, alert, serve dashboard", Main: GroundMain}

func SatelliteMain(ctx context.Context, cfg *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, cfg)

	sat, err := satellite.New(cfg, g.Log, satellite.Options{})
	if err != nil {
		return err
	}
	if err = sat.Start(ctx); err != nil {
		sat.Close()
		return err
	}
	g.Log.Infof("satellite streaming on %v", sat.Downlink.Addrs())
	subcmd.SdNotify(sd.SdNotifyReady)

	<-g.Alive.StopChan()
	sat.Close()
	g.StopWait(stopTimeout)
	return nil
}

func GroundMain(ctx context.Context, cfg *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, cfg)

	st, err := ground.New(cfg, g.Log, ground.Options{})
	if err != nil {
		return err
	}
	if err = st.Start(ctx); err != nil {
		st.Close()
		return err
	}
	g.Log.Infof("ground station dashboard=%s", cfg.Alert.DashboardURL)
	subcmd.SdNotify(sd.SdNotifyReady)

	<-g.Alive.StopChan()
	st.Close()
	g.StopWait(stopTimeout)
	return nil
}
