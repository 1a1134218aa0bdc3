// Package sensor provides thermal frame sources for the satellite downlink.
package sensor

import (
	"fmt"
	"io/ioutil"
	"math"
	"math/rand"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/thermolink/tele/frame"
)

// ErrTransient means this frame is lost, next read may succeed.
var ErrTransient = fmt.Errorf("sensor transient read error")

func IsTransient(err error) bool { return errors.Cause(err) == ErrTransient }

type SimOptions struct {
	Baseline float32 // ambient, C
	Hotspot  float32 // peak above ambient, C
	Noise    float32
	Seed     int64
	// every Nth read fails with ErrTransient, 0 disables
	TransientEvery int
}

// Simulated renders ambient field with one drifting hot spot.
type Simulated struct {
	mu   sync.Mutex
	fire bool
	n    int
	opt  SimOptions
	rnd  *rand.Rand
}

func NewSimulated(opt SimOptions) *Simulated {
	if opt.Baseline == 0 {
		opt.Baseline = 24
	}
	if opt.Hotspot == 0 {
		opt.Hotspot = 12
	}
	return &Simulated{
		opt: opt,
		rnd: rand.New(rand.NewSource(opt.Seed)), //nolint:gosec
	}
}

// SetFire adds intense heat source to following frames.
func (s *Simulated) SetFire(on bool) {
	s.mu.Lock()
	s.fire = on
	s.mu.Unlock()
}

func (s *Simulated) Fill(f *frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if s.opt.TransientEvery > 0 && s.n%s.opt.TransientEvery == 0 {
		return errors.Annotatef(ErrTransient, "simulated read=%d", s.n)
	}

	phase := float64(s.n) / 40
	cy := float64(frame.Rows-1) * (0.5 + 0.35*math.Sin(phase))
	cx := float64(frame.Cols-1) * (0.5 + 0.35*math.Cos(phase*0.7))
	peak := float64(s.opt.Hotspot)
	if s.fire {
		peak += 60
	}
	const sigma2 = 2 * 3.0 * 3.0
	for row := 0; row < frame.Rows; row++ {
		for col := 0; col < frame.Cols; col++ {
			dy, dx := float64(row)-cy, float64(col)-cx
			v := float64(s.opt.Baseline) + peak*math.Exp(-(dx*dx+dy*dy)/sigma2)
			if s.opt.Noise != 0 {
				v += (s.rnd.Float64()*2 - 1) * float64(s.opt.Noise)
			}
			f.Set(row, col, float32(v))
		}
	}
	return nil
}

// Replay loops over recorded frames.
type Replay struct {
	mu   sync.Mutex
	data []byte
	off  int
}

func NewReplay(data []byte) (*Replay, error) {
	if len(data) == 0 || len(data)%frame.Size != 0 {
		return nil, errors.Annotatef(frame.ErrFrameSizeMismatch, "replay length=%d not multiple of %d", len(data), frame.Size)
	}
	return &Replay{data: data}, nil
}

func OpenReplay(path string) (*Replay, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "replay open")
	}
	r, err := NewReplay(b)
	return r, errors.Annotatef(err, "replay path=%s", path)
}

func (r *Replay) Frames() int { return len(r.data) / frame.Size }

func (r *Replay) Fill(f *frame.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := frame.DecodeInto(f, r.data[r.off:r.off+frame.Size])
	r.off = (r.off + frame.Size) % len(r.data)
	return err
}
