// Package locate finds satellite network address.
// Name resolution wins without probing, otherwise fallback hosts are probed
// with short TCP connect strictly in declared order.
package locate

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/thermolink/log2"
)

const (
	DefaultName          = "satellite.local"
	DefaultProbeTimeout  = 300 * time.Millisecond
	MaxProbeTimeout      = 300 * time.Millisecond
	DefaultLookupTimeout = 2 * time.Second
)

var ErrNotFound = errors.NotFoundf("satellite address")

// Resolver returns host:port addresses of name, best first.
type Resolver interface {
	Resolve(ctx context.Context, name string, port int) ([]string, error)
}

type Prober interface {
	Probe(ctx context.Context, addr string, timeout time.Duration) error
}

type Locator struct {
	Name          string
	Port          int
	Fallback      []string
	ProbeTimeout  time.Duration
	LookupTimeout time.Duration
	Resolver      Resolver
	Prober        Prober
	Log           *log2.Log
}

// Locate is bounded by LookupTimeout + len(Fallback) * ProbeTimeout.
func (l *Locator) Locate(ctx context.Context) (string, error) {
	if l.Name != "" && l.Resolver != nil {
		lookupTimeout := l.LookupTimeout
		if lookupTimeout <= 0 {
			lookupTimeout = DefaultLookupTimeout
		}
		rctx, cancel := context.WithTimeout(ctx, lookupTimeout)
		addrs, err := l.Resolver.Resolve(rctx, l.Name, l.Port)
		cancel()
		if err == nil && len(addrs) != 0 {
			l.Log.Debugf("locate name=%s resolved=%s", l.Name, addrs[0])
			return addrs[0], nil
		}
		l.Log.Debugf("locate name=%s err=%v", l.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	timeout := l.probeTimeout()
	prober := l.Prober
	if prober == nil {
		prober = TCPProber{}
	}
	for _, host := range l.Fallback {
		addr := JoinPort(host, l.Port)
		err := prober.Probe(ctx, addr, timeout)
		if err == nil {
			l.Log.Debugf("locate probe addr=%s reachable", addr)
			return addr, nil
		}
		l.Log.Debugf("locate probe addr=%s err=%v", addr, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
	}
	return "", ErrNotFound
}

func (l *Locator) probeTimeout() time.Duration {
	switch d := l.ProbeTimeout; {
	case d <= 0:
		return DefaultProbeTimeout
	case d > MaxProbeTimeout:
		return MaxProbeTimeout
	default:
		return d
	}
}

func IsNotFound(err error) bool { return errors.IsNotFound(err) }

// JoinPort keeps explicit port in host, otherwise appends port.
func JoinPort(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// TCPProber connects and immediately closes.
type TCPProber struct{}

func (TCPProber) Probe(ctx context.Context, addr string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// NetResolver is system name service, mDNS included when nss is set up for it.
type NetResolver struct {
	R *net.Resolver
}

func (nr NetResolver) Resolve(ctx context.Context, name string, port int) ([]string, error) {
	r := nr.R
	if r == nil {
		r = net.DefaultResolver
	}
	hosts, err := r.LookupHost(ctx, name)
	if err != nil {
		return nil, errors.Annotatef(err, "lookup name=%s", name)
	}
	addrs := make([]string, 0, len(hosts))
	for _, h := range hosts {
		addrs = append(addrs, JoinPort(h, port))
	}
	return addrs, nil
}
