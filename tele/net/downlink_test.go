package telenet_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/thermolink/log2"
	"github.com/temoto/thermolink/tele"
	"github.com/temoto/thermolink/tele/frame"
	telenet "github.com/temoto/thermolink/tele/net"
)

type seqSource struct {
	sync.Mutex
	n       int
	failOdd bool
}

func (s *seqSource) Fill(f *frame.Frame) error {
	s.Lock()
	defer s.Unlock()
	s.n++
	if s.failOdd && s.n%2 == 1 {
		return fmt.Errorf("i2c read error")
	}
	for i := range f {
		f[i] = float32(s.n)
	}
	return nil
}

func testDownlink(t testing.TB, src telenet.FrameSource) (*telenet.Downlink, string) {
	d, err := telenet.NewDownlink(telenet.DownlinkOptions{
		Log:      log2.NewTest(t, log2.LDebug),
		Source:   src,
		Interval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, d.Listen(context.Background(), []telenet.ListenOptions{{StreamURL: "tcp://127.0.0.1:0"}}))
	addrs := d.Addrs()
	require.Equal(t, 1, len(addrs))
	return d, addrs[0]
}

func readFrames(t testing.TB, conn net.Conn, n int) []*frame.Frame {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	dec := telenet.Decoder{}
	dec.Attach(bufio.NewReader(conn))
	fs := make([]*frame.Frame, 0, n)
	for i := 0; i < n; i++ {
		f := &frame.Frame{}
		require.NoError(t, dec.Read(f))
		fs = append(fs, f)
	}
	return fs
}

func TestDownlinkStream(t *testing.T) {
	t.Parallel()
	d, addr := testDownlink(t, &seqSource{})
	defer d.Close()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	fs := readFrames(t, conn, 3)
	for i := 1; i < len(fs); i++ {
		assert.Equal(t, fs[i-1][0]+1, fs[i][0], "frames must be consecutive")
		assert.Equal(t, fs[i][0], fs[i][frame.Len-1])
	}
}

func TestDownlinkSensorErrorSkips(t *testing.T) {
	t.Parallel()
	d, addr := testDownlink(t, &seqSource{failOdd: true})
	defer d.Close()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	fs := readFrames(t, conn, 3)
	for _, f := range fs {
		assert.Equal(t, 0, int(f[0])%2, "odd readings failed and must be skipped")
	}
}

func TestDownlinkOvertake(t *testing.T) {
	t.Parallel()
	d, addr := testDownlink(t, &seqSource{})
	defer d.Close()

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer first.Close()
	readFrames(t, first, 1)

	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()
	readFrames(t, second, 2)

	// first connection is closed by satellite, drain until error
	require.NoError(t, first.SetReadDeadline(time.Now().Add(testTimeout)))
	buf := make([]byte, frame.Size)
	for {
		if _, err = first.Read(buf); err != nil {
			break
		}
	}
	assert.Error(t, err)
}

func TestDownlinkListenError(t *testing.T) {
	t.Parallel()
	d, err := telenet.NewDownlink(telenet.DownlinkOptions{Source: &seqSource{}})
	require.NoError(t, err)
	defer d.Close()
	err = d.Listen(context.Background(), []telenet.ListenOptions{{StreamURL: "bogus"}})
	assert.Error(t, err)
}

func TestLinkWithDownlink(t *testing.T) {
	t.Parallel()
	d, addr := testDownlink(t, &seqSource{})
	defer d.Close()

	link, err := telenet.NewLink(&telenet.LinkOptions{
		ConnOptions: telenet.ConnOptions{Log: log2.NewTest(t, log2.LDebug)},
		Locator:     &switchLocator{addr: addr},
	})
	require.NoError(t, err)
	states := collectStates(link)
	link.Start(context.Background())
	defer link.Close()
	// seqSource value n crosses fire threshold 40 after 40 frames
	s := waitState(t, states, "fire", func(s tele.State) bool { return s.Status == tele.StatusFire })
	assert.True(t, s.Max > 40)
}
