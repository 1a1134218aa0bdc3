// Package tele holds ground station view of the satellite: latest decoded
// frame with derived status, and its compact binary form for MQTT.
package tele

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/temoto/thermolink/tele/frame"
)

const DefaultFireThreshold float32 = 40.0

type Status int32

const (
	StatusSearching Status = iota
	StatusOffline
	StatusNominal
	StatusFire
)

var statusNames = [...]string{"SEARCHING", "OFFLINE", "NOMINAL", "FIRE"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type LinkState int32

const (
	LinkSearching LinkState = iota
	LinkConnecting
	LinkStreaming
)

var linkNames = [...]string{"SEARCHING", "CONNECTING", "STREAMING"}

func (l LinkState) String() string {
	if l >= 0 && int(l) < len(linkNames) {
		return linkNames[l]
	}
	return fmt.Sprintf("LinkState(%d)", int32(l))
}

func (l LinkState) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Classify returns FIRE only when max is strictly above threshold.
func Classify(max, threshold float32) Status {
	if max > threshold {
		return StatusFire
	}
	return StatusNominal
}

// State is immutable snapshot. Frame is shared between copies, never modify it.
type State struct {
	Status  Status
	Link    LinkState
	Addr    string
	Max     float32
	Frame   *frame.Frame
	Frames  uint64
	Updated time.Time
}

func (s State) String() string {
	return fmt.Sprintf("(status=%s link=%s addr=%s max=%.2f frames=%d)", s.Status, s.Link, s.Addr, s.Max, s.Frames)
}

func InitialState() State {
	return State{Status: StatusSearching, Link: LinkSearching, Frame: &frame.Frame{}}
}

// Cell is single writer, multi reader holder of latest State.
type Cell struct{ v atomic.Value }

func NewCell() *Cell {
	c := &Cell{}
	c.v.Store(InitialState())
	return c
}

func (c *Cell) Load() State   { return c.v.Load().(State) }
func (c *Cell) Store(s State) { c.v.Store(s) }
