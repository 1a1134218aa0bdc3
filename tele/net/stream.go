package telenet

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/thermolink/helpers"
	"github.com/temoto/thermolink/helpers/atomic_clock"
	"github.com/temoto/thermolink/tele/frame"
)

// StreamConn carries raw frames over net.Conn.
// Receive and Send are not safe for concurrent use with themselves.
type StreamConn struct {
	sync.Mutex // protects wbuf
	err        helpers.AtomicError
	last       atomic_clock.Clock
	dec        Decoder
	net        net.Conn
	opt        ConnOptions
	stat       SessionStat
	w          io.Writer
	wbuf       []byte
}

func NewStreamConn(netConn net.Conn, opt ConnOptions) *StreamConn {
	c := &StreamConn{
		net:  netConn,
		opt:  opt,
		wbuf: make([]byte, 0, frame.Size),
	}
	if tcp, ok := c.net.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(false)
		_ = tcp.SetLinger(0)
		_ = tcp.SetReadBuffer(4 * frame.Size)
		_ = tcp.SetWriteBuffer(4 * frame.Size)
	}
	c.w = countWriter{c.net, &c.stat.Send.Size}
	c.dec.Attach(bufio.NewReaderSize(countReader{c.net, &c.stat.Recv.Size}, 2*frame.Size))
	c.stat.Conn.Set(1)
	c.last.SetNow()
	return c
}

func (c *StreamConn) Close() error {
	return c.die(ErrClosing)
}

func (c *StreamConn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

// Err returns reason connection was closed.
func (c *StreamConn) Err() error {
	err, _ := c.err.Load()
	return err
}

// Receive reads exactly one frame. timeout=0 waits forever.
func (c *StreamConn) Receive(timeout time.Duration) (*frame.Frame, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.net.SetReadDeadline(deadline); err != nil {
		err = errors.Annotate(err, "SetReadDeadline")
		return nil, c.die(err)
	}
	f := &frame.Frame{}
	if err := c.dec.Read(f); err != nil {
		switch {
		case frame.IsSizeMismatch(err):
			c.stat.Errors.Desync.Add(1)
		case isTimeout(err):
			c.stat.Errors.Timeout.Add(1)
			// torn frame then silence
			if c.dec.Partial() != 0 {
				c.stat.Errors.Desync.Add(1)
			}
		}
		err = errors.Annotate(err, "receive")
		return nil, c.die(err)
	}
	c.last.SetNow()
	c.stat.Recv.Count.Add(1)
	return f, nil
}

func (c *StreamConn) Send(f *frame.Frame, timeout time.Duration) error {
	c.Lock()
	defer c.Unlock()
	c.wbuf = frame.AppendEncode(c.wbuf[:0], f)
	return c.write(c.wbuf, timeout)
}

// SendRaw writes b as is, for tests and diagnostics of desync handling.
func (c *StreamConn) SendRaw(b []byte, timeout time.Duration) error {
	c.Lock()
	defer c.Unlock()
	return c.write(b, timeout)
}

func (c *StreamConn) write(b []byte, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.net.SetWriteDeadline(deadline); err != nil {
		err = errors.Annotate(err, "SetWriteDeadline")
		return c.die(err)
	}
	// net.Conn returns error on short write
	if _, err := c.w.Write(b); err != nil {
		err = errors.Annotate(err, "send")
		return c.die(err)
	}
	c.stat.Send.Count.Add(1)
	return nil
}

func (c *StreamConn) LocalAddr() net.Addr          { return c.net.LocalAddr() }
func (c *StreamConn) RemoteAddr() net.Addr         { return c.net.RemoteAddr() }
func (c *StreamConn) SinceLastRecv() time.Duration { return atomic_clock.Since(&c.last) }
func (c *StreamConn) Stat() *SessionStat           { return &c.stat }

func (c *StreamConn) String() string {
	return "(remote=" + addrString(c.RemoteAddr()) + ")"
}

// die closes connection once and returns e, or first error if already dead.
func (c *StreamConn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	_ = c.net.Close()
	c.opt.Log.Debugf("die +close local=%s remote=%s e=%s",
		addrString(c.net.LocalAddr()), addrString(c.RemoteAddr()), PrettyError(e))
	return e
}

// PrettyError reformats some well known errors for easier log reading.
func PrettyError(e error) string {
	if e == nil {
		return ""
	}
	estr := e.Error()
	switch {
	case isTimeout(e):
		estr = "timeout"
	case strings.HasSuffix(estr, "connection reset by peer"):
		estr = "closed by remote"
	case errors.Cause(e) == io.EOF:
		estr = "closed by remote"
	case errors.Cause(e) == ErrClosing:
		estr = "closing"
	}
	return estr
}

func isTimeout(e error) bool {
	if neterr, ok := errors.Cause(e).(net.Error); ok && neterr.Timeout() {
		return true
	}
	return strings.HasSuffix(e.Error(), "i/o timeout")
}

// Decoder reads fixed size frames from byte stream.
type Decoder struct {
	buf     [frame.Size]byte
	partial int
	r       *bufio.Reader
}

func (d *Decoder) Attach(r *bufio.Reader) {
	d.r = r
}

// Partial is byte count of incomplete frame at last Read error, 0 if none.
func (d *Decoder) Partial() int { return d.partial }

// Read returns io.EOF on clean end of stream between frames.
// Stream ending inside frame is ErrFrameSizeMismatch, the partial frame
// is unusable and stream is out of sync.
func (d *Decoder) Read(dst *frame.Frame) error {
	n, err := io.ReadFull(d.r, d.buf[:])
	d.partial = 0
	if err != nil {
		d.partial = n
	}
	switch {
	case err == nil:
	case err == io.EOF:
		return io.EOF
	case err == io.ErrUnexpectedEOF:
		return errors.Annotate(frame.DecodeInto(dst, d.buf[:n]), "short frame")
	default:
		return errors.Annotatef(err, "readfull partial=%d", n)
	}
	if err = frame.DecodeInto(dst, d.buf[:]); err != nil {
		return errors.Annotate(err, "decode")
	}
	return nil
}
