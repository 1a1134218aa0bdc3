package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io/ioutil"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/thermolink/internal/watchdog"
	"github.com/temoto/thermolink/log2"
	"github.com/temoto/thermolink/tele"
	"github.com/temoto/thermolink/tele/frame"
	telenet "github.com/temoto/thermolink/tele/net"
)

func testState() tele.State {
	f := &frame.Frame{}
	for i := range f {
		f[i] = 21.5
	}
	f[5] = 45
	f[6] = float32(math.NaN())
	return tele.State{
		Status:  tele.StatusFire,
		Link:    tele.LinkStreaming,
		Addr:    "192.168.40.20:5000",
		Max:     45,
		Frame:   f,
		Frames:  7,
		Updated: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
}

func newTestServer(t testing.TB, st tele.State) *Server {
	cell := tele.NewCell()
	cell.Store(st)
	linkStat := &telenet.SessionStat{}
	linkStat.Conn.Add(3)
	linkStat.Errors.Desync.Add(1)
	s, err := New(Options{
		State:     cell.Load,
		LinkStat:  linkStat.Value,
		AlertStat: func() watchdog.Stat { return watchdog.Stat{Fired: 2, Sent: 1, Dropped: 1} },
		PublicURL: "http://ground.local:9876/",
		Log:       log2.NewTest(t, log2.LDebug),
	})
	require.NoError(t, err)
	return s
}

func get(t testing.TB, h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTelemetry(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testState())
	rec := get(t, s.Handler(), "/api/telemetry")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got struct {
		Status string     `json:"status"`
		Link   string     `json:"link"`
		Addr   string     `json:"addr"`
		Max    *float64   `json:"max"`
		Frames uint64     `json:"frames"`
		Data   []*float64 `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "FIRE", got.Status)
	assert.Equal(t, "STREAMING", got.Link)
	assert.Equal(t, "192.168.40.20:5000", got.Addr)
	require.NotNil(t, got.Max)
	assert.Equal(t, 45.0, *got.Max)
	assert.Equal(t, uint64(7), got.Frames)
	require.Len(t, got.Data, frame.Len)
	assert.Equal(t, 21.5, *got.Data[0])
	assert.Equal(t, 45.0, *got.Data[5])
	assert.Nil(t, got.Data[6], "NaN becomes null")
}

func TestTelemetryInitial(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, tele.InitialState())
	rec := get(t, s.Handler(), "/api/telemetry")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "SEARCHING", got["status"])
	assert.Nil(t, got["max"])
	assert.Nil(t, got["updated"])
}

func TestIndex(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testState())
	rec := get(t, s.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/telemetry")
	assert.Contains(t, rec.Body.String(), "WAITING FOR SIGNAL")

	rec = get(t, s.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQR(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testState())
	rec := get(t, s.Handler(), "/qr.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, img.Bounds().Dx(), 256)
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testState())
	s.CountError(nil)
	s.CountError(nil)
	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "thermolink_max_temperature_celsius 45")
	assert.Contains(t, body, `thermolink_status{status="FIRE"} 1`)
	assert.Contains(t, body, `thermolink_status{status="NOMINAL"} 0`)
	assert.Contains(t, body, `thermolink_link_state{state="STREAMING"} 1`)
	assert.Contains(t, body, "thermolink_frames_total 7")
	assert.Contains(t, body, "thermolink_link_connects_total 3")
	assert.Contains(t, body, `thermolink_link_errors_total{kind="desync"} 1`)
	assert.Contains(t, body, `thermolink_alerts_total{result="dropped"} 1`)
	assert.Contains(t, body, "thermolink_log_errors_total 2")
}

func TestListen(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, testState())
	require.NoError(t, s.Listen(context.Background(), "127.0.0.1:0"))
	defer s.Close()

	resp, err := http.Get("http://" + s.Addr().String() + "/api/telemetry")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), `"status":"FIRE"`)
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()
	_, err := New(Options{})
	assert.True(t, errors.IsNotValid(err))
}
