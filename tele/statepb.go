package tele

import (
	"math"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/thermolink/tele/frame"
)

// State message fields, protobuf wire compatible with:
//
//	message State {
//	  int32 status = 1; int32 link = 2; float max = 3; int64 updated = 4;
//	  uint64 frames = 5; string addr = 6; repeated float frame = 7 [packed=true];
//	}
const (
	fieldStatus  = 1
	fieldLink    = 2
	fieldMax     = 3
	fieldUpdated = 4
	fieldFrames  = 5
	fieldAddr    = 6
	fieldFrame   = 7
)

const (
	wireVarint  = 0
	wireBytes   = 2
	wireFixed32 = 5
)

func tag(field, wire uint64) uint64 { return field<<3 | wire }

type stateEncoder struct {
	buf *proto.Buffer
	err error
}

func (e *stateEncoder) varint(field, v uint64) {
	if e.err == nil {
		e.err = e.buf.EncodeVarint(tag(field, wireVarint))
	}
	if e.err == nil {
		e.err = e.buf.EncodeVarint(v)
	}
}

func (e *stateEncoder) fixed32(field uint64, v uint32) {
	if e.err == nil {
		e.err = e.buf.EncodeVarint(tag(field, wireFixed32))
	}
	if e.err == nil {
		e.err = e.buf.EncodeFixed32(uint64(v))
	}
}

func (e *stateEncoder) bytes(field uint64, b []byte) {
	if e.err == nil {
		e.err = e.buf.EncodeVarint(tag(field, wireBytes))
	}
	if e.err == nil {
		e.err = e.buf.EncodeRawBytes(b)
	}
}

// MarshalState encodes s, frame is included only when withFrame.
func MarshalState(s *State, withFrame bool) ([]byte, error) {
	size := 64 + len(s.Addr)
	if withFrame {
		size += frame.Size + 4
	}
	e := stateEncoder{buf: proto.NewBuffer(make([]byte, 0, size))}
	e.varint(fieldStatus, uint64(s.Status))
	e.varint(fieldLink, uint64(s.Link))
	e.fixed32(fieldMax, math.Float32bits(s.Max))
	if !s.Updated.IsZero() {
		e.varint(fieldUpdated, uint64(s.Updated.UnixNano()))
	}
	e.varint(fieldFrames, s.Frames)
	if s.Addr != "" {
		e.bytes(fieldAddr, []byte(s.Addr))
	}
	if withFrame && s.Frame != nil {
		e.bytes(fieldFrame, frame.Encode(s.Frame))
	}
	if e.err != nil {
		return nil, errors.Annotate(e.err, "marshal state")
	}
	return e.buf.Bytes(), nil
}

func UnmarshalState(b []byte) (State, error) {
	s := State{}
	buf := proto.NewBuffer(b)
	for len(buf.Unread()) > 0 {
		t, err := buf.DecodeVarint()
		if err != nil {
			return s, errors.Annotate(err, "tag")
		}
		field, wire := t>>3, t&7
		switch {
		case field == fieldStatus && wire == wireVarint:
			v, err := buf.DecodeVarint()
			if err != nil {
				return s, errors.Annotate(err, "status")
			}
			s.Status = Status(v)
		case field == fieldLink && wire == wireVarint:
			v, err := buf.DecodeVarint()
			if err != nil {
				return s, errors.Annotate(err, "link")
			}
			s.Link = LinkState(v)
		case field == fieldMax && wire == wireFixed32:
			v, err := buf.DecodeFixed32()
			if err != nil {
				return s, errors.Annotate(err, "max")
			}
			s.Max = math.Float32frombits(uint32(v))
		case field == fieldUpdated && wire == wireVarint:
			v, err := buf.DecodeVarint()
			if err != nil {
				return s, errors.Annotate(err, "updated")
			}
			s.Updated = time.Unix(0, int64(v))
		case field == fieldFrames && wire == wireVarint:
			v, err := buf.DecodeVarint()
			if err != nil {
				return s, errors.Annotate(err, "frames")
			}
			s.Frames = v
		case field == fieldAddr && wire == wireBytes:
			v, err := buf.DecodeStringBytes()
			if err != nil {
				return s, errors.Annotate(err, "addr")
			}
			s.Addr = v
		case field == fieldFrame && wire == wireBytes:
			raw, err := buf.DecodeRawBytes(false)
			if err != nil {
				return s, errors.Annotate(err, "frame")
			}
			f := &frame.Frame{}
			if err = frame.DecodeInto(f, raw); err != nil {
				return s, errors.Annotate(err, "frame")
			}
			s.Frame = f
		default:
			return s, errors.NotSupportedf("field=%d wire=%d", field, wire)
		}
	}
	return s, nil
}
