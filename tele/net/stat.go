package telenet

// Complex values are read and modified atomically, but not consistently,
// i.e. it is possible to read .Count=1 .Size=0 because Size has not updated yet.

import (
	"expvar"
	"fmt"
	"io"
)

type SessionStat struct {
	Conn   expvar.Int
	Errors Errors
	Recv   CountSizePair
	Send   CountSizePair
}

type Errors struct {
	Desync  expvar.Int
	Timeout expvar.Int
	Sensor  expvar.Int
}

func (ss *SessionStat) Add(other *SessionStat) {
	ss.Conn.Add(other.Conn.Value())
	ss.Errors.Desync.Add(other.Errors.Desync.Value())
	ss.Errors.Timeout.Add(other.Errors.Timeout.Value())
	ss.Errors.Sensor.Add(other.Errors.Sensor.Value())
	ss.Recv.Add(&other.Recv)
	ss.Send.Add(&other.Send)
}

// AddMoveFrom moves counters of finished connection into long lived total.
func (ss *SessionStat) AddMoveFrom(other *SessionStat) {
	tmp := other.Value()
	ss.Add(&tmp)
	other.Sub(&tmp)
}

func (ss *SessionStat) Sub(other *SessionStat) {
	ss.Conn.Add(-other.Conn.Value())
	ss.Errors.Desync.Add(-other.Errors.Desync.Value())
	ss.Errors.Timeout.Add(-other.Errors.Timeout.Value())
	ss.Errors.Sensor.Add(-other.Errors.Sensor.Value())
	ss.Recv.Sub(&other.Recv)
	ss.Send.Sub(&other.Send)
}

func (ss *SessionStat) Value() (r SessionStat) {
	r.Conn.Set(ss.Conn.Value())
	r.Errors.Desync.Set(ss.Errors.Desync.Value())
	r.Errors.Timeout.Set(ss.Errors.Timeout.Value())
	r.Errors.Sensor.Set(ss.Errors.Sensor.Value())
	r.Recv.Set(ss.Recv.Value())
	r.Send.Set(ss.Send.Value())
	return
}

func (ss *SessionStat) String() string {
	return fmt.Sprintf(`{"conn":%d,"desync":%d,"timeout":%d,"sensor":%d,"recv":%s,"send":%s}`,
		ss.Conn.Value(), ss.Errors.Desync.Value(), ss.Errors.Timeout.Value(), ss.Errors.Sensor.Value(),
		ss.Recv.String(), ss.Send.String())
}

// Count is frames, Size is bytes including TCP overhead estimate.
type CountSizePair struct {
	Count expvar.Int
	Size  expvar.Int
}

func (csp *CountSizePair) Add(other *CountSizePair) {
	csp.Count.Add(other.Count.Value())
	csp.Size.Add(other.Size.Value())
}

func (csp *CountSizePair) Value() (r CountSizePair) {
	r.Count.Set(csp.Count.Value())
	r.Size.Set(csp.Size.Value())
	return
}

func (csp *CountSizePair) Set(new CountSizePair) {
	csp.Count.Set(new.Count.Value())
	csp.Size.Set(new.Size.Value())
}

func (csp *CountSizePair) Sub(other *CountSizePair) {
	csp.Count.Add(-other.Count.Value())
	csp.Size.Add(-other.Size.Value())
}

func (csp *CountSizePair) String() string {
	return fmt.Sprintf(`{"count":%d,"size":%d}`, csp.Count.Value(), csp.Size.Value())
}

// tcpOverhead is rough per-segment IP+TCP header estimate added to Size.
const tcpOverhead = 40

type countReader struct {
	r io.Reader
	v *expvar.Int
}

func (cr countReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.v.Add(int64(n) + tcpOverhead)
	}
	return n, err
}

type countWriter struct {
	w io.Writer
	v *expvar.Int
}

func (cw countWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.v.Add(int64(n) + tcpOverhead)
	}
	return n, err
}
