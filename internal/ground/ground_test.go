package ground

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/thermolink/internal/notify"
	"github.com/temoto/thermolink/internal/state"
	"github.com/temoto/thermolink/log2"
	"github.com/temoto/thermolink/tele"
	"github.com/temoto/thermolink/tele/frame"
)

func uniform(v float32) []byte {
	f := &frame.Frame{}
	for i := range f {
		f[i] = v
	}
	return frame.Encode(f)
}

func fetchStatus(t testing.TB, base string) string {
	resp, err := http.Get(base + "/api/telemetry")
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	var j struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(b, &j))
	return j.Status
}

func TestStationScenario(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	step := make(chan []byte)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for b := range step {
			if _, err := conn.Write(b); err != nil {
				return
			}
		}
	}()

	ctx, g := state.NewTestContext(t, `
ground { fallback = ["127.0.0.1"] }
dashboard { listen = "127.0.0.1:0" }
alert { recipients = ["ops@example.org"] }
`)
	g.Config.Ground.TelemetryPort = port
	var alerts uint32
	st, err := New(g.Config, g.Log, Options{
		Notifier: notify.Func(func(context.Context, *notify.Message) error {
			atomic.AddUint32(&alerts, 1)
			return nil
		}),
	})
	require.NoError(t, err)
	st.Locator.Name = "" // no name service in tests
	require.NoError(t, st.Start(ctx))
	defer st.Close()
	base := "http://" + st.Dashboard.Addr().String()

	waitStatus := func(expect string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if fetchStatus(t, base) == expect {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("status %s timeout, last=%s", expect, st.Link.State())
	}

	step <- uniform(38.5)
	waitStatus("NOMINAL")
	assert.Equal(t, uint32(0), atomic.LoadUint32(&alerts))

	step <- uniform(45)
	waitStatus("FIRE")
	step <- uniform(46)
	require.Eventually(t, func() bool { return st.Link.State().Frames >= 3 }, 5*time.Second, 10*time.Millisecond)
	close(step)

	st.Watchdog.Close()
	assert.Equal(t, uint32(1), atomic.LoadUint32(&alerts), "cooldown allows one alert")
}

func TestCommandAddr(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cfg := &state.Config{}
	cfg.FillDefaults()
	streaming := func() tele.State {
		s := tele.InitialState()
		s.Addr = "10.1.2.3:5000"
		return s
	}

	addr, err := CommandAddr(context.Background(), cfg, streaming, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3:5001", addr)

	_, err = CommandAddr(context.Background(), cfg, tele.InitialState, nil)
	assert.Error(t, err)

	cfg.Command.Addr = "sat:7001"
	addr, err = CommandAddr(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "sat:7001", addr)

	cfg.Command.Addr = ""
	cl, err := NewCommandClient(context.Background(), cfg, streaming, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3:5001", cl.Addr())
}
