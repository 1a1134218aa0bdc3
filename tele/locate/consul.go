package locate

import (
	"context"
	"strconv"

	consul "github.com/hashicorp/consul/api"
	"github.com/juju/errors"
)

// ConsulResolver asks consul catalog for passing instances of service name.
// Useful when satellite registers itself in a ground side consul agent
// instead of relying on mDNS.
type ConsulResolver struct {
	Client *consul.Client
	Tag    string
}

func NewConsulResolver(addr string) (*ConsulResolver, error) {
	config := consul.DefaultConfig()
	if addr != "" {
		config.Address = addr
	}
	c, err := consul.NewClient(config)
	if err != nil {
		return nil, errors.Annotate(err, "consul client")
	}
	return &ConsulResolver{Client: c}, nil
}

func (cr *ConsulResolver) Resolve(ctx context.Context, name string, port int) ([]string, error) {
	q := (&consul.QueryOptions{}).WithContext(ctx)
	entries, _, err := cr.Client.Health().Service(name, cr.Tag, true, q)
	if err != nil {
		return nil, errors.Annotatef(err, "consul service=%s", name)
	}
	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Service == nil {
			continue
		}
		host := e.Service.Address
		if host == "" && e.Node != nil {
			host = e.Node.Address
		}
		if host == "" {
			continue
		}
		p := port
		if e.Service.Port != 0 {
			p = e.Service.Port
		}
		addrs = append(addrs, JoinPort(host, p))
	}
	if len(addrs) == 0 {
		return nil, errors.NotFoundf("consul service=%s passing instances", name)
	}
	return addrs, nil
}

// Register satellite in local consul agent with TCP health check on telemetry port.
func (cr *ConsulResolver) Register(name, host string, port int) error {
	id := name + "-" + strconv.Itoa(port)
	reg := &consul.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Address: host,
		Port:    port,
		Check: &consul.AgentServiceCheck{
			TCP:      JoinPort(host, port),
			Interval: "10s",
			Timeout:  "1s",
		},
	}
	if cr.Tag != "" {
		reg.Tags = []string{cr.Tag}
	}
	return errors.Annotatef(cr.Client.Agent().ServiceRegister(reg), "consul register id=%s", id)
}

func (cr *ConsulResolver) Deregister(name string, port int) error {
	id := name + "-" + strconv.Itoa(port)
	return errors.Annotatef(cr.Client.Agent().ServiceDeregister(id), "consul deregister id=%s", id)
}
