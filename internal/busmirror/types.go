package busmirror

import (
	"fmt"
	"time"
)

// DefaultPort is the UDP port Bus Mirroring senders use by convention.
const DefaultPort uint16 = 30511

// HeaderLen is the fixed header size in bytes.
const HeaderLen = 14

// ItemTick is the resolution of a data item timestamp.
const ItemTick = 10 * time.Microsecond

const (
	flagNetworkState byte = 0x80
	flagFrameID      byte = 0x40
	flagPayload      byte = 0x20
	maskNetworkType  byte = 0x1F

	maxSeconds = 1<<48 - 1
)

// NetworkType identifies the mirrored network technology.
type NetworkType uint8

const (
	NetworkUnknown  NetworkType = 0
	NetworkCAN      NetworkType = 1
	NetworkLIN      NetworkType = 2
	NetworkFlexRay  NetworkType = 3
	NetworkEthernet NetworkType = 4
)

func (t NetworkType) String() string {
	switch t {
	case NetworkUnknown:
		return "Unknown"
	case NetworkCAN:
		return "CAN"
	case NetworkLIN:
		return "LIN"
	case NetworkFlexRay:
		return "FlexRay"
	case NetworkEthernet:
		return "Ethernet"
	default:
		return fmt.Sprintf("NetworkType(%d)", uint8(t))
	}
}

// frameIDWidth is the wire width of the frame id for t. Types without a
// frame id layout contribute zero bytes even when the flag is set.
func (t NetworkType) frameIDWidth() int {
	switch t {
	case NetworkCAN:
		return 4
	case NetworkLIN:
		return 1
	case NetworkFlexRay:
		return 3
	default:
		return 0
	}
}

// Timestamp is an absolute time with a 48-bit seconds field.
type Timestamp struct {
	Seconds     uint64
	Nanoseconds uint32
}

// Time converts ts to UTC. Nanoseconds are not range checked.
func (ts Timestamp) Time() time.Time {
	return time.Unix(int64(ts.Seconds), int64(ts.Nanoseconds)).UTC()
}

// Header is the fixed frame header.
type Header struct {
	ProtocolVersion uint8
	SequenceNumber  uint8
	Timestamp       Timestamp
	DataLength      uint16
}

// Flags is the decoded flags byte of a data item.
type Flags struct {
	NetworkStateAvailable bool
	FrameIDAvailable      bool
	PayloadAvailable      bool
	NetworkType           NetworkType
}

func parseFlags(b byte) Flags {
	return Flags{
		NetworkStateAvailable: b&flagNetworkState != 0,
		FrameIDAvailable:      b&flagFrameID != 0,
		PayloadAvailable:      b&flagPayload != 0,
		NetworkType:           NetworkType(b & maskNetworkType),
	}
}

// Byte packs f back into its wire form.
func (f Flags) Byte() byte {
	b := byte(f.NetworkType) & maskNetworkType
	if f.NetworkStateAvailable {
		b |= flagNetworkState
	}
	if f.FrameIDAvailable {
		b |= flagFrameID
	}
	if f.PayloadAvailable {
		b |= flagPayload
	}
	return b
}

// DataItem is one mirrored network frame.
type DataItem struct {
	Index     int
	Timestamp uint16
	Flags     Flags
	NetworkID uint8

	// NetworkState is nil unless the state bit is set.
	NetworkState *uint8
	// FrameID is nil unless the frame id bit is set and the network type
	// has a frame id layout.
	FrameID FrameID
	// Payload is nil when absent and empty (non-nil) for a zero length payload.
	Payload []byte

	// Length is the number of bytes the item occupied on the wire.
	Length int
}

// Offset is the item timestamp as a duration relative to the header timestamp.
func (d DataItem) Offset() time.Duration {
	return time.Duration(d.Timestamp) * ItemTick
}

// Time resolves the item timestamp against the frame header.
func (d DataItem) Time(h Header) time.Time {
	return h.Timestamp.Time().Add(d.Offset())
}

// Frame is one decoded Bus Mirroring datagram.
type Frame struct {
	Header Header
	Items  []DataItem
}

// Summary renders the one-line description used in listings.
func (f *Frame) Summary() string {
	return fmt.Sprintf("Busmirroring Seq=%d Len=%d Items=%d",
		f.Header.SequenceNumber, f.Header.DataLength, len(f.Items))
}
