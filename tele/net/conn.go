package telenet

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/temoto/thermolink/log2"
)

const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultNetworkTimeout = 8 * time.Second
	DefaultRetryDelay     = 2 * time.Second
	DefaultFrameInterval  = 250 * time.Millisecond
)

var ErrClosing = fmt.Errorf("closing")

type ConnOptions struct {
	Log *log2.Log
	TLS *tls.Config

	ConnectTimeout time.Duration
	// Read inactivity timeout on ground, write timeout on satellite.
	NetworkTimeout time.Duration
}

// Dial opens stream connection to host:port.
// Dialer timeout is shortened to ctx deadline when it is closer.
func Dial(ctx context.Context, dialer net.Dialer, addr string, opt ConnOptions) (*StreamConn, error) {
	if dialer.Timeout == 0 {
		dialer.Timeout = opt.ConnectTimeout
	}
	if dialer.Timeout == 0 {
		dialer.Timeout = DefaultConnectTimeout
	}
	if deadline, _ := ctx.Deadline(); !deadline.IsZero() {
		if timeout := time.Until(deadline); timeout > 0 && timeout < dialer.Timeout {
			dialer.Timeout = timeout
		} else if timeout < 0 {
			return nil, context.DeadlineExceeded
		}
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if opt.TLS != nil {
		config := opt.TLS
		if config.ServerName == "" {
			config = config.Clone()
			if config.ServerName, _, err = net.SplitHostPort(addr); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
		conn = tls.Client(conn, config)
	}
	return NewStreamConn(conn, opt), nil
}
