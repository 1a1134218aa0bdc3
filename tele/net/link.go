package telenet

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/thermolink/helpers"
	"github.com/temoto/thermolink/helpers/clock"
	"github.com/temoto/thermolink/tele"
	"github.com/temoto/thermolink/tele/frame"
)

type Locator interface {
	Locate(ctx context.Context) (string, error)
}

type StateFunc = func(tele.State)

// Telemetry link, ground side.
// Responsible for:
// - locate satellite and connect, again after every failure
// - read frames, derive max and status
// - publish latest tele.State to Cell and subscribers
//
// State machine: SEARCHING -> CONNECTING -> STREAMING -> SEARCHING.
// Fixed delay between attempts, no retry storms.
type Link struct { //nolint:maligned
	sync.Mutex // protects current and subs
	alive      *alive.Alive
	backoff    *helpers.Backoff
	cell       *tele.Cell
	clock      clock.Clock
	current    *StreamConn
	opt        *LinkOptions
	stat       SessionStat
	subs       []StateFunc
}

type LinkOptions struct {
	ConnOptions
	Locator       Locator
	Clock         clock.Clock
	Dialer        *net.Dialer
	RetryDelay    time.Duration
	FireThreshold float32
}

func NewLink(opt *LinkOptions) (*Link, error) {
	if opt.Locator == nil {
		return nil, errors.NotValidf("code error link Locator=nil")
	}
	if opt.ConnectTimeout == 0 {
		opt.ConnectTimeout = DefaultConnectTimeout
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.RetryDelay == 0 {
		opt.RetryDelay = DefaultRetryDelay
	}
	if opt.FireThreshold == 0 {
		opt.FireThreshold = tele.DefaultFireThreshold
	}
	if opt.Dialer == nil {
		opt.Dialer = &net.Dialer{Timeout: opt.ConnectTimeout}
	}
	clk := clock.Or(opt.Clock)
	l := &Link{
		alive:   alive.NewAlive(),
		backoff: helpers.NewFixedBackoff(opt.RetryDelay, clk),
		cell:    tele.NewCell(),
		clock:   clk,
		opt:     opt,
	}
	return l, nil
}

// Subscribe f to every published state. f is called from link goroutine
// and must not block.
func (l *Link) Subscribe(f StateFunc) {
	l.Lock()
	l.subs = append(l.subs, f)
	l.Unlock()
}

// State is non-blocking read of latest snapshot.
func (l *Link) State() tele.State { return l.cell.Load() }

func (l *Link) Stat() *SessionStat { return &l.stat }

// Start runs link in background until Close or ctx done.
func (l *Link) Start(ctx context.Context) {
	if !l.alive.Add(1) {
		return
	}
	go func() {
		defer l.alive.Done()
		err := l.Run(ctx)
		l.opt.Log.Debugf("link stopped err=%v", err)
	}()
}

func (l *Link) Close() error {
	l.alive.Stop()
	l.closeCurrent()
	l.alive.Wait()
	return nil
}

// Run blocks until ctx is done or Close.
func (l *Link) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.alive.StopChan():
			cancel()
		case <-ctx.Done():
		}
		l.closeCurrent()
	}()

	for {
		delay := l.backoff.DelayBefore()
		if delay > 0 {
			l.opt.Log.Debugf("link retry delay=%s", delay)
		}
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
		err := l.session(ctx)
		l.backoff.Failure()
		if !l.alive.IsRunning() {
			return ErrClosing
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if frame.IsSizeMismatch(err) {
			l.opt.Log.Errorf("link desync, reconnect err=%v", err)
		} else {
			l.opt.Log.Infof("link lost err=%s", PrettyError(err))
		}
	}
}

// session walks the state machine once, always returns non-nil error.
func (l *Link) session(ctx context.Context) error {
	l.publishLink(tele.LinkSearching, "", -1)
	addr, err := l.opt.Locator.Locate(ctx)
	if err != nil {
		l.publishLink(tele.LinkSearching, "", tele.StatusOffline)
		return errors.Annotate(err, "locate")
	}

	l.publishLink(tele.LinkConnecting, addr, -1)
	conn, err := Dial(ctx, *l.opt.Dialer, addr, l.opt.ConnOptions)
	if err != nil {
		l.publishLink(tele.LinkSearching, addr, tele.StatusOffline)
		return errors.Annotatef(err, "connect addr=%s", addr)
	}
	l.setCurrent(conn)
	defer l.dropCurrent(conn)
	if err = ctx.Err(); err != nil {
		return err
	}
	l.opt.Log.Infof("link connected addr=%s", addr)
	l.backoff.Reset()
	l.publishLink(tele.LinkStreaming, addr, -1)

	for {
		f, err := conn.Receive(l.opt.NetworkTimeout)
		if err != nil {
			l.publishLink(tele.LinkSearching, addr, tele.StatusOffline)
			return err
		}
		l.publishFrame(addr, f)
	}
}

func (l *Link) publishFrame(addr string, f *frame.Frame) {
	s := l.cell.Load()
	s.Link = tele.LinkStreaming
	s.Addr = addr
	s.Frame = f
	s.Max = f.Max()
	s.Status = tele.Classify(s.Max, l.opt.FireThreshold)
	s.Frames++
	s.Updated = l.clock.Now()
	l.store(s)
}

// status<0 keeps previous status.
func (l *Link) publishLink(link tele.LinkState, addr string, status tele.Status) {
	s := l.cell.Load()
	if s.Link == link && s.Addr == addr && (status < 0 || s.Status == status) {
		return
	}
	s.Link = link
	s.Addr = addr
	if status >= 0 {
		s.Status = status
	}
	s.Updated = l.clock.Now()
	l.store(s)
}

func (l *Link) store(s tele.State) {
	l.cell.Store(s)
	l.Lock()
	subs := l.subs
	l.Unlock()
	for _, f := range subs {
		f(s)
	}
}

func (l *Link) setCurrent(conn *StreamConn) {
	l.Lock()
	l.current = conn
	l.Unlock()
}

func (l *Link) dropCurrent(conn *StreamConn) {
	_ = conn.Close()
	l.Lock()
	if l.current == conn {
		l.current = nil
	}
	l.Unlock()
	l.stat.AddMoveFrom(conn.Stat())
}

func (l *Link) closeCurrent() {
	l.Lock()
	conn := l.current
	l.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (l *Link) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-l.clock.After(d):
		return nil

	case <-ctx.Done():
		return ctx.Err()

	case <-l.alive.StopChan():
		return ErrClosing
	}
}
