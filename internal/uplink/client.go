package uplink

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/thermolink/log2"
	telenet "github.com/temoto/thermolink/tele/net"
)

const DefaultClientTimeout = 15 * time.Second

type ClientOptions struct {
	Addr    string // host:port
	Secret  string
	Timeout time.Duration // whole exchange
	Log     *log2.Log
}

// Client opens new connection for each command, no retries.
type Client struct {
	dialer net.Dialer
	opt    ClientOptions
}

type LinkFailure struct {
	Op   string
	Addr string
	Err  error
}

func (f *LinkFailure) Error() string {
	return fmt.Sprintf("command link %s addr=%s: %s", f.Op, f.Addr, telenet.PrettyError(f.Err))
}
func (f *LinkFailure) Cause() error { return f.Err }

func IsLinkFailure(err error) bool {
	_, ok := errors.Cause(err).(*LinkFailure)
	return ok
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.Addr == "" {
		return nil, errors.NotValidf("command client addr empty")
	}
	if opt.Timeout == 0 {
		opt.Timeout = DefaultClientTimeout
	}
	return &Client{opt: opt}, nil
}

func (c *Client) Addr() string { return c.opt.Addr }

func (c *Client) Send(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opt.Timeout)
	defer cancel()
	fail := func(op string, err error) (string, error) {
		return "", &LinkFailure{Op: op, Addr: c.opt.Addr, Err: err}
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.opt.Addr)
	if err != nil {
		return fail("dial", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c.opt.Log.Debugf("command send addr=%s command=%q", c.opt.Addr, command)

	if _, err = io.WriteString(conn, c.opt.Secret+Separator+command+"\n"); err != nil {
		return fail("write", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	b, err := ioutil.ReadAll(conn)
	if err != nil {
		return fail("read", err)
	}
	return string(b), nil
}
