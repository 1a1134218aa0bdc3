package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/thermolink/helpers/clock"
	"github.com/temoto/thermolink/log2"
	"github.com/temoto/thermolink/tele"
)

const (
	DefaultMqttTimeout   = 10 * time.Second
	DefaultStateInterval = time.Second
	DefaultTopicPrefix   = "thermolink"
)

// paho loggers are package globals
var setPahoLog sync.Once

type MqttOptions struct {
	Broker      string // tcp://host:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Keepalive   time.Duration
	Timeout     time.Duration
	Log         *log2.Log
}

// Mqtt publishes alerts on <prefix>/alert and link state on <prefix>/state.
type Mqtt struct {
	m    mqtt.Client
	opt  MqttOptions
	once sync.Once
}

func NewMqtt(opt MqttOptions) (*Mqtt, error) {
	if opt.Broker == "" {
		return nil, errors.NotValidf("mqtt broker empty")
	}
	if opt.TopicPrefix == "" {
		opt.TopicPrefix = DefaultTopicPrefix
	}
	if opt.ClientID == "" {
		opt.ClientID = "thermolink-ground"
	}
	if opt.Timeout == 0 {
		opt.Timeout = DefaultMqttTimeout
	}
	if opt.Keepalive == 0 {
		opt.Keepalive = 60 * time.Second
	}
	if opt.Log != nil {
		setPahoLog.Do(func() {
			mqtt.ERROR = opt.Log
			mqtt.CRITICAL = opt.Log
			mqtt.WARN = opt.Log
		})
	}

	mopt := mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(opt.ClientID).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetCleanSession(true).
		SetKeepAlive(opt.Keepalive).
		SetConnectTimeout(opt.Timeout).
		SetWriteTimeout(opt.Timeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) { opt.Log.Infof("mqtt connect broker=%s", opt.Broker) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { opt.Log.Errorf("mqtt connection lost err=%v", err) })
	self := &Mqtt{
		m:   mqtt.NewClient(mopt),
		opt: opt,
	}
	return self, nil
}

// Connect blocks until broker accepts connection or timeout.
func (self *Mqtt) Connect() error {
	token := self.m.Connect()
	if !token.WaitTimeout(self.opt.Timeout) {
		return errors.Timeoutf("mqtt connect broker=%s", self.opt.Broker)
	}
	return errors.Annotatef(token.Error(), "mqtt connect broker=%s", self.opt.Broker)
}

func (self *Mqtt) Close() {
	self.once.Do(func() { self.m.Disconnect(250) })
}

func (self *Mqtt) Topic(suffix string) string {
	return fmt.Sprintf("%s/%s", self.opt.TopicPrefix, suffix)
}

type alertPayload struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Max       float32   `json:"max"`
	Time      time.Time `json:"time"`
	Dashboard string    `json:"dashboard,omitempty"`
}

func (self *Mqtt) Notify(ctx context.Context, m *Message) error {
	b, err := json.Marshal(alertPayload{
		ID:        m.ID,
		Subject:   m.Subject,
		Body:      m.Body,
		Max:       m.Max,
		Time:      m.Time,
		Dashboard: m.Dashboard,
	})
	if err != nil {
		return &Failure{Via: "mqtt", Err: err}
	}
	if err := self.publishWait(ctx, self.Topic("alert"), 1, false, b); err != nil {
		return &Failure{Via: "mqtt", Err: err}
	}
	return nil
}

var ErrNotConnected = fmt.Errorf("mqtt not connected")

// Publish does not wait for delivery.
func (self *Mqtt) Publish(topic string, retain bool, payload []byte) error {
	if !self.m.IsConnected() {
		return ErrNotConnected
	}
	self.m.Publish(topic, 0, retain, payload)
	return nil
}

func (self *Mqtt) publishWait(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
	timeout := self.opt.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	token := self.m.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(timeout) {
		return errors.Timeoutf("mqtt publish topic=%s", topic)
	}
	return errors.Annotatef(token.Error(), "mqtt publish topic=%s", topic)
}

type Publisher interface {
	Publish(topic string, retain bool, payload []byte) error
}

// StatePublisher re-publishes latest state at most once per interval.
// Link state transitions are published immediately.
type StatePublisher struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	last     time.Time
	lastLink tele.LinkState
	log      *log2.Log
	pub      Publisher
	topic    string
}

func NewStatePublisher(pub Publisher, topic string, interval time.Duration, c clock.Clock, log *log2.Log) *StatePublisher {
	if interval == 0 {
		interval = DefaultStateInterval
	}
	return &StatePublisher{
		clock:    clock.Or(c),
		interval: interval,
		log:      log,
		pub:      pub,
		topic:    topic,
	}
}

// Observe is safe to call from link goroutine, publish is non-blocking.
func (self *StatePublisher) Observe(s tele.State) {
	now := self.clock.Now()
	self.mu.Lock()
	if !self.last.IsZero() && now.Sub(self.last) < self.interval && s.Link == self.lastLink {
		self.mu.Unlock()
		return
	}
	self.last = now
	self.lastLink = s.Link
	self.mu.Unlock()

	b, err := tele.MarshalState(&s, true)
	if err != nil {
		self.log.Errorf("state publish encode err=%v", err)
		return
	}
	if err := self.pub.Publish(self.topic, true, b); err != nil {
		self.log.Debugf("state publish topic=%s err=%v", self.topic, err)
	}
}
