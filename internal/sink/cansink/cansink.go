// Package cansink replays mirrored CAN traffic onto a local SocketCAN bus.
package cansink

import (
	"context"
	"fmt"

	"github.com/brutella/can"
	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/sink"
	"github.com/rs/zerolog"
)

// effFlag marks extended identifiers in SocketCAN frames.
const effFlag uint32 = 0x80000000

// FramePublisher is the part of *can.Bus the sink writes to.
type FramePublisher interface {
	Publish(frame can.Frame) error
}

type Sink struct {
	pub      FramePublisher
	bus      *can.Bus
	networks map[uint8]struct{}
	logger   zerolog.Logger
}

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Closer = (*Sink)(nil)
)

// New replays onto pub. An empty networkIDs accepts every network.
func New(pub FramePublisher, networkIDs []int, logger zerolog.Logger) *Sink {
	s := &Sink{pub: pub, logger: logger.With().Str("sink", "canbus").Logger()}
	if len(networkIDs) > 0 {
		s.networks = make(map[uint8]struct{}, len(networkIDs))
		for _, id := range networkIDs {
			s.networks[uint8(id)] = struct{}{}
		}
	}
	return s
}

// Open binds to the named SocketCAN interface.
func Open(iface string, networkIDs []int, logger zerolog.Logger) (*Sink, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("open can interface %s: %w", iface, err)
	}
	s := New(bus, networkIDs, logger)
	s.bus = bus
	return s, nil
}

func (s *Sink) Name() string { return "canbus" }

func (s *Sink) Handle(_ context.Context, ev sink.Event) error {
	if ev.Frame == nil {
		return nil
	}
	for _, item := range ev.Frame.Items {
		frame, ok := s.convert(item)
		if !ok {
			continue
		}
		if err := s.pub.Publish(frame); err != nil {
			return fmt.Errorf("publish item %d: %w", item.Index, err)
		}
	}
	return nil
}

// convert maps a CAN data item to a classic SocketCAN frame. Items that
// cannot be represented are skipped.
func (s *Sink) convert(item busmirror.DataItem) (can.Frame, bool) {
	if item.Flags.NetworkType != busmirror.NetworkCAN {
		return can.Frame{}, false
	}
	if s.networks != nil {
		if _, ok := s.networks[item.NetworkID]; !ok {
			return can.Frame{}, false
		}
	}
	id, ok := item.FrameID.(busmirror.CANFrameID)
	if !ok {
		return can.Frame{}, false
	}
	if len(item.Payload) > 8 {
		s.logger.Debug().
			Int("item", item.Index).
			Int("payload_len", len(item.Payload)).
			Msg("skipping payload too long for classic CAN")
		return can.Frame{}, false
	}

	frame := can.Frame{ID: id.ID, Length: uint8(len(item.Payload))}
	if id.IDType == busmirror.CANExtended {
		frame.ID |= effFlag
	}
	copy(frame.Data[:], item.Payload)
	return frame, true
}

func (s *Sink) Close() error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Disconnect()
}
