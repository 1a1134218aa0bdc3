package telenet

import (
	"net"
	"net/url"
)

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// ParseURI splits "tcp://host:port" into scheme and host:port.
func ParseURI(s string) (scheme, hostport string, err error) {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return "", "", err
	}
	return u.Scheme, u.Host, nil
}
