// Package watchdog turns FIRE telemetry into rate limited operator alerts.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/temoto/alive/v2"
	"github.com/temoto/thermolink/helpers/clock"
	"github.com/temoto/thermolink/internal/notify"
	"github.com/temoto/thermolink/log2"
	"github.com/temoto/thermolink/tele"
)

const (
	DefaultCooldown = 60 * time.Second
	DefaultWorkers  = 2
	DefaultTimeout  = 60 * time.Second
)

type Options struct {
	Notifier     notify.Notifier
	Recipients   []string
	Cooldown     time.Duration
	DashboardURL string
	// Without recipients alerts are skipped unless notifier does not need them (MQTT).
	AllowNoRecipients bool
	Workers           int
	Timeout           time.Duration
	Clock             clock.Clock
	Log               *log2.Log
	NewID             func() string
}

type Stat struct {
	Fired   uint32
	Sent    uint32
	Failed  uint32
	Dropped uint32
}

type Watchdog struct {
	mu    sync.Mutex
	alive *alive.Alive
	clock clock.Clock
	last  time.Time
	opt   Options
	sem   chan struct{}
	stat  Stat
}

func New(opt Options) *Watchdog {
	if opt.Cooldown == 0 {
		opt.Cooldown = DefaultCooldown
	}
	if opt.Workers <= 0 {
		opt.Workers = DefaultWorkers
	}
	if opt.Timeout == 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.NewID == nil {
		opt.NewID = func() string { return uuid.New().String() }
	}
	return &Watchdog{
		alive: alive.NewAlive(),
		clock: clock.Or(opt.Clock),
		opt:   opt,
		sem:   make(chan struct{}, opt.Workers),
	}
}

func (self *Watchdog) enabled() bool {
	if self.opt.Notifier == nil {
		return false
	}
	return len(self.opt.Recipients) != 0 || self.opt.AllowNoRecipients
}

// Observe never blocks. Returns true when alert dispatch was started.
func (self *Watchdog) Observe(s tele.State) bool {
	if s.Status != tele.StatusFire || !self.enabled() {
		return false
	}
	now := self.clock.Now()
	self.mu.Lock()
	if !self.last.IsZero() && now.Sub(self.last) <= self.opt.Cooldown {
		self.mu.Unlock()
		return false
	}
	self.last = now
	self.mu.Unlock()
	atomic.AddUint32(&self.stat.Fired, 1)

	if !self.alive.Add(1) {
		return false
	}
	select {
	case self.sem <- struct{}{}:
	default:
		self.alive.Done()
		atomic.AddUint32(&self.stat.Dropped, 1)
		self.opt.Log.Errorf("watchdog alert dropped, all %d workers busy max=%.2f", self.opt.Workers, s.Max)
		return false
	}

	m := self.message(s, now)
	self.opt.Log.Infof("watchdog FIRE alert id=%s max=%.2f", m.ID, s.Max)
	go self.dispatch(m)
	return true
}

func (self *Watchdog) message(s tele.State, now time.Time) *notify.Message {
	id := self.opt.NewID()
	body := fmt.Sprintf("Thermal camera reports temperature above fire threshold.\n\n"+
		"Max temperature: %.1f C\nTime: %s\nSatellite: %s\nAlert ID: %s\n",
		s.Max, now.UTC().Format(time.RFC3339), s.Addr, id)
	if self.opt.DashboardURL != "" {
		body += fmt.Sprintf("\nDashboard: %s\n", self.opt.DashboardURL)
	}
	return &notify.Message{
		ID:         id,
		Subject:    fmt.Sprintf("FIRE alert: %.1f C", s.Max),
		Body:       body,
		Max:        s.Max,
		Time:       now,
		Recipients: self.opt.Recipients,
		Dashboard:  self.opt.DashboardURL,
	}
}

func (self *Watchdog) dispatch(m *notify.Message) {
	defer self.alive.Done()
	defer func() { <-self.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), self.opt.Timeout)
	defer cancel()
	if err := self.opt.Notifier.Notify(ctx, m); err != nil {
		atomic.AddUint32(&self.stat.Failed, 1)
		self.opt.Log.Errorf("watchdog alert id=%s err=%v", m.ID, err)
		return
	}
	atomic.AddUint32(&self.stat.Sent, 1)
}

// LastAlert returns zero time if no alert was dispatched yet.
func (self *Watchdog) LastAlert() time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.last
}

func (self *Watchdog) Stat() Stat {
	return Stat{
		Fired:   atomic.LoadUint32(&self.stat.Fired),
		Sent:    atomic.LoadUint32(&self.stat.Sent),
		Failed:  atomic.LoadUint32(&self.stat.Failed),
		Dropped: atomic.LoadUint32(&self.stat.Dropped),
	}
}

// Close waits for in-flight alerts.
func (self *Watchdog) Close() {
	self.alive.Stop()
	self.alive.Wait()
}
