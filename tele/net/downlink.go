package telenet

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/thermolink/helpers"
	"github.com/temoto/thermolink/helpers/clock"
	"github.com/temoto/thermolink/log2"
	"github.com/temoto/thermolink/tele/frame"
)

var ErrOvertake = fmt.Errorf("replaced by new ground client")

// FrameSource fills f with fresh sensor readings.
// Error means skip this frame, connection stays.
type FrameSource interface {
	Fill(f *frame.Frame) error
}

// Telemetry downlink, satellite side.
// Serves one ground client at a time, newer connection replaces older one.
type Downlink struct {
	alive   *alive.Alive
	clock   clock.Clock
	current struct {
		sync.Mutex
		conn *StreamConn
	}
	listens struct {
		sync.RWMutex
		m map[string]net.Listener
	}
	log    *log2.Log
	opt    DownlinkOptions
	source struct {
		sync.Mutex
		FrameSource
	}
	stat SessionStat
}

type DownlinkOptions struct {
	Log            *log2.Log
	Clock          clock.Clock
	Source         FrameSource
	Interval       time.Duration
	NetworkTimeout time.Duration // write timeout
	OnClient       func(remote string, connected bool)
}

type ListenOptions struct {
	StreamURL string
	TLS       *tls.Config
}

func NewDownlink(opt DownlinkOptions) (*Downlink, error) {
	if opt.Source == nil {
		return nil, errors.NotValidf("code error downlink Source=nil")
	}
	if opt.Interval == 0 {
		opt.Interval = DefaultFrameInterval
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	d := &Downlink{
		alive: alive.NewAlive(),
		clock: clock.Or(opt.Clock),
		log:   opt.Log,
		opt:   opt,
	}
	d.source.FrameSource = opt.Source
	d.listens.m = make(map[string]net.Listener)
	return d, nil
}

func (d *Downlink) Addrs() []string {
	d.listens.RLock()
	defer d.listens.RUnlock()
	addrs := make([]string, 0, len(d.listens.m))
	for _, l := range d.listens.m {
		addrs = append(addrs, l.Addr().String())
	}
	return addrs
}

func (d *Downlink) Listen(ctx context.Context, opts []ListenOptions) error {
	d.listens.Lock()
	defer d.listens.Unlock()

	if !d.alive.Add(len(opts)) {
		return errors.Errorf("Listen after Close")
	}
	errs := make([]error, 0)
	for _, opt := range opts {
		d.log.Debugf("downlink listen url=%s", opt.StreamURL)
		if err := d.listenStream(opt); err != nil {
			d.alive.Done()
			err = errors.Annotatef(err, "listenStream %s", opt.StreamURL)
			errs = append(errs, err)
			continue
		}
	}
	return helpers.FoldErrors(errs)
}

func (d *Downlink) Close() error {
	d.alive.Stop()
	d.listens.Lock()
	for _, ll := range d.listens.m {
		_ = ll.Close()
	}
	d.listens.Unlock()
	d.current.Lock()
	if d.current.conn != nil {
		_ = d.current.conn.Close()
	}
	d.current.Unlock()
	d.alive.Wait()
	return nil
}

func (d *Downlink) Stat() *SessionStat { return &d.stat }

func (d *Downlink) listenStream(opt ListenOptions) error {
	scheme, hostport, err := ParseURI(opt.StreamURL)
	if err != nil {
		return errors.Annotate(err, "parse url")
	}

	var ll net.Listener
	switch scheme {
	case "tls":
		if ll, err = tls.Listen("tcp", hostport, opt.TLS); err != nil {
			return errors.Annotate(err, "tls.Listen")
		}

	case "tcp", "unix":
		ll, err = net.Listen(scheme, hostport)
		if err != nil {
			return errors.Annotatef(err, "net.Listen network=%s address=%s", scheme, hostport)
		}
	}
	if ll == nil {
		return errors.Errorf("unsupported listen url=%s", opt.StreamURL)
	}

	d.listens.m[opt.StreamURL] = ll
	go d.acceptLoop(ll)
	return nil
}

func (d *Downlink) acceptLoop(ll net.Listener) {
	defer d.alive.Done() // one alive subtask for each listener
	for {
		conn, err := ll.Accept()
		if !d.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			err = errors.Annotatef(err, "accept listen=%s", addrString(ll.Addr()))
			d.log.Error(err)
			d.alive.Stop()
			return
		}

		if !d.alive.Add(1) { // and one alive subtask for each connection
			_ = conn.Close()
			return
		}
		go d.processConn(NewStreamConn(conn, ConnOptions{Log: d.log, NetworkTimeout: d.opt.NetworkTimeout}))
	}
}

func (d *Downlink) processConn(conn *StreamConn) {
	defer d.alive.Done()
	remote := addrString(conn.RemoteAddr())

	helpers.WithLock(&d.current, func() {
		if ex := d.current.conn; ex != nil {
			d.log.Infof("downlink client overtake ex=%s new=%s", addrString(ex.RemoteAddr()), remote)
			_ = ex.die(ErrOvertake)
		}
		d.current.conn = conn
	})
	d.log.Infof("downlink ground connected remote=%s", remote)
	if d.opt.OnClient != nil {
		d.opt.OnClient(remote, true)
	}

	err := d.stream(conn)

	closeErr := conn.die(err)
	helpers.WithLock(&d.current, func() {
		if d.current.conn == conn {
			d.current.conn = nil
		}
	})
	d.stat.AddMoveFrom(conn.Stat())
	d.log.Infof("downlink ground disconnected remote=%s err=%s", remote, PrettyError(closeErr))
	if d.opt.OnClient != nil {
		d.opt.OnClient(remote, false)
	}
}

func (d *Downlink) stream(conn *StreamConn) error {
	f := &frame.Frame{}
	stopch := d.alive.StopChan()
	for {
		if conn.Closed() {
			return conn.Err()
		}
		if err := d.fill(f); err != nil {
			// sensor glitch, skip frame but keep connection
			conn.Stat().Errors.Sensor.Add(1)
			d.log.Debugf("downlink sensor err=%v", err)
		} else if err = conn.Send(f, d.opt.NetworkTimeout); err != nil {
			return err
		}
		select {
		case <-d.clock.After(d.opt.Interval):
		case <-stopch:
			return ErrClosing
		}
	}
}

// Source is shared between sequential clients.
func (d *Downlink) fill(f *frame.Frame) error {
	d.source.Lock()
	defer d.source.Unlock()
	return d.source.Fill(f)
}
