// Package export flattens decoded frames into records for sinks and APIs.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/sink"
)

// Record is one data item with the frame context it needs to stand alone.
type Record struct {
	Source       string       `cbor:"source" json:"source,omitempty"`
	Sequence     uint8        `cbor:"seq" json:"seq"`
	Index        int          `cbor:"index" json:"index"`
	TimeUnixNano int64        `cbor:"ts_ns" json:"ts_ns"`
	Offset       uint16       `cbor:"offset" json:"offset"`
	Flags        uint8        `cbor:"flags" json:"flags"`
	NetworkType  string       `cbor:"network_type" json:"network_type"`
	NetworkID    uint8        `cbor:"network_id" json:"network_id"`
	NetworkState *uint8       `cbor:"network_state" json:"network_state"`
	FrameID      *FrameIDView `cbor:"frame_id" json:"frame_id"`
	Payload      []byte       `cbor:"payload" json:"payload"`
}

// FrameIDView is the union of all frame id layouts; Kind selects the
// populated fields.
type FrameIDView struct {
	Kind     string `cbor:"kind" json:"kind"`
	ID       uint32 `cbor:"id,omitempty" json:"id,omitempty"`
	Extended bool   `cbor:"extended,omitempty" json:"extended,omitempty"`
	FD       bool   `cbor:"fd,omitempty" json:"fd,omitempty"`
	PID      uint8  `cbor:"pid,omitempty" json:"pid,omitempty"`
	Raw      []byte `cbor:"raw,omitempty" json:"raw,omitempty"`
}

// FrameView is the JSON shape of a whole event.
type FrameView struct {
	Source          string    `json:"source,omitempty"`
	Received        time.Time `json:"received,omitempty"`
	Summary         string    `json:"summary"`
	ProtocolVersion uint8     `json:"protocol_version"`
	SequenceNumber  uint8     `json:"sequence_number"`
	Seconds         uint64    `json:"seconds"`
	Nanoseconds     uint32    `json:"nanoseconds"`
	DataLength      uint16    `json:"data_length"`
	Items           []Record  `json:"items"`
	Error           string    `json:"error,omitempty"`
}

func viewFrameID(id busmirror.FrameID) *FrameIDView {
	switch v := id.(type) {
	case busmirror.CANFrameID:
		return &FrameIDView{
			Kind:     "can",
			ID:       v.ID,
			Extended: v.IDType == busmirror.CANExtended,
			FD:       v.FrameType == busmirror.CANFD,
		}
	case busmirror.LINFrameID:
		return &FrameIDView{Kind: "lin", PID: v.PID}
	case busmirror.FlexRayFrameID:
		return &FrameIDView{Kind: "flexray", Raw: append([]byte(nil), v.Raw[:]...)}
	default:
		return nil
	}
}

func (v *FrameIDView) frameID() (busmirror.FrameID, error) {
	if v == nil {
		return nil, nil
	}
	switch strings.ToLower(v.Kind) {
	case "can":
		id := busmirror.CANFrameID{ID: v.ID}
		if v.Extended {
			id.IDType = busmirror.CANExtended
		}
		if v.FD {
			id.FrameType = busmirror.CANFD
		}
		return id, nil
	case "lin":
		return busmirror.LINFrameID{PID: v.PID}, nil
	case "flexray":
		if len(v.Raw) != 3 {
			return nil, fmt.Errorf("export: flexray frame id needs 3 bytes, got %d", len(v.Raw))
		}
		var id busmirror.FlexRayFrameID
		copy(id.Raw[:], v.Raw)
		return id, nil
	default:
		return nil, fmt.Errorf("export: unknown frame id kind %q", v.Kind)
	}
}

// Records flattens f into one record per data item.
func Records(source string, f *busmirror.Frame) []Record {
	if f == nil {
		return nil
	}
	out := make([]Record, 0, len(f.Items))
	for _, item := range f.Items {
		out = append(out, Record{
			Source:       source,
			Sequence:     f.Header.SequenceNumber,
			Index:        item.Index,
			TimeUnixNano: item.Time(f.Header).UnixNano(),
			Offset:       item.Timestamp,
			Flags:        item.Flags.Byte(),
			NetworkType:  item.Flags.NetworkType.String(),
			NetworkID:    item.NetworkID,
			NetworkState: item.NetworkState,
			FrameID:      viewFrameID(item.FrameID),
			Payload:      item.Payload,
		})
	}
	return out
}

// FromEvent renders ev for JSON consumers.
func FromEvent(ev sink.Event) FrameView {
	view := FrameView{Source: ev.Source, Received: ev.Received}
	if ev.Err != nil {
		view.Error = ev.Err.Error()
	}
	if ev.Frame == nil {
		return view
	}
	h := ev.Frame.Header
	view.Summary = ev.Frame.Summary()
	view.ProtocolVersion = h.ProtocolVersion
	view.SequenceNumber = h.SequenceNumber
	view.Seconds = h.Timestamp.Seconds
	view.Nanoseconds = h.Timestamp.Nanoseconds
	view.DataLength = h.DataLength
	view.Items = Records("", ev.Frame)
	return view
}

// ToFrame rebuilds a frame from its view. Only the wire-relevant fields are
// read: flags, offsets and optional values.
func ToFrame(v FrameView) (*busmirror.Frame, error) {
	f := &busmirror.Frame{
		Header: busmirror.Header{
			ProtocolVersion: v.ProtocolVersion,
			SequenceNumber:  v.SequenceNumber,
			Timestamp:       busmirror.Timestamp{Seconds: v.Seconds, Nanoseconds: v.Nanoseconds},
			DataLength:      v.DataLength,
		},
		Items: make([]busmirror.DataItem, 0, len(v.Items)),
	}
	for i, rec := range v.Items {
		id, err := rec.FrameID.frameID()
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		flags := busmirror.Flags{
			NetworkStateAvailable: rec.Flags&0x80 != 0,
			FrameIDAvailable:      rec.Flags&0x40 != 0,
			PayloadAvailable:      rec.Flags&0x20 != 0,
			NetworkType:           busmirror.NetworkType(rec.Flags & 0x1F),
		}
		f.Items = append(f.Items, busmirror.DataItem{
			Index:        i,
			Timestamp:    rec.Offset,
			Flags:        flags,
			NetworkID:    rec.NetworkID,
			NetworkState: rec.NetworkState,
			FrameID:      id,
			Payload:      rec.Payload,
		})
	}
	return f, nil
}
