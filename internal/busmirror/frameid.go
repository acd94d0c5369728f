package busmirror

import (
	"encoding/binary"
	"fmt"
)

const (
	canIDTypeBit    uint32 = 0x80000000
	canFrameTypeBit uint32 = 0x40000000
	canReservedBit  uint32 = 0x20000000
	canIDMask       uint32 = 0x1FFFFFFF
)

// FrameID is the per-network frame identifier of a data item. The concrete
// type is one of CANFrameID, LINFrameID or FlexRayFrameID.
type FrameID interface {
	NetworkType() NetworkType
	appendTo(dst []byte) []byte
	frameID()
}

// CANIDType selects 11-bit or 29-bit identifiers.
type CANIDType uint8

const (
	CANStandard CANIDType = 0
	CANExtended CANIDType = 1
)

func (t CANIDType) String() string {
	if t == CANExtended {
		return "Extended"
	}
	return "Standard"
}

// CANFrameType selects classic CAN or CAN FD.
type CANFrameType uint8

const (
	CAN20 CANFrameType = 0
	CANFD CANFrameType = 1
)

func (t CANFrameType) String() string {
	if t == CANFD {
		return "CAN FD"
	}
	return "CAN 2.0"
}

// CANFrameID is the 32-bit packed CAN identifier.
type CANFrameID struct {
	IDType    CANIDType
	FrameType CANFrameType
	ID        uint32
	// Reserved is bit 29, which carries no meaning but is written back as read.
	Reserved bool
}

func (CANFrameID) NetworkType() NetworkType { return NetworkCAN }
func (CANFrameID) frameID()                 {}

// Uint32 packs the identifier into its wire form.
func (c CANFrameID) Uint32() uint32 {
	v := c.ID & canIDMask
	if c.IDType == CANExtended {
		v |= canIDTypeBit
	}
	if c.FrameType == CANFD {
		v |= canFrameTypeBit
	}
	if c.Reserved {
		v |= canReservedBit
	}
	return v
}

func (c CANFrameID) appendTo(dst []byte) []byte {
	return binary.BigEndian.AppendUint32(dst, c.Uint32())
}

func (c CANFrameID) String() string {
	return fmt.Sprintf("%s %s 0x%X", c.FrameType, c.IDType, c.ID)
}

func parseCANFrameID(v uint32) CANFrameID {
	id := CANFrameID{ID: v & canIDMask}
	if v&canIDTypeBit != 0 {
		id.IDType = CANExtended
	}
	if v&canFrameTypeBit != 0 {
		id.FrameType = CANFD
	}
	id.Reserved = v&canReservedBit != 0
	return id
}

// LINFrameID carries the LIN protected identifier.
type LINFrameID struct {
	PID uint8
}

func (LINFrameID) NetworkType() NetworkType { return NetworkLIN }
func (LINFrameID) frameID()                 {}

func (l LINFrameID) appendTo(dst []byte) []byte {
	return append(dst, l.PID)
}

func (l LINFrameID) String() string {
	return fmt.Sprintf("PID 0x%02X", l.PID)
}

// FlexRayFrameID is kept opaque.
type FlexRayFrameID struct {
	Raw [3]byte
}

func (FlexRayFrameID) NetworkType() NetworkType { return NetworkFlexRay }
func (FlexRayFrameID) frameID()                 {}

func (f FlexRayFrameID) appendTo(dst []byte) []byte {
	return append(dst, f.Raw[:]...)
}

func (f FlexRayFrameID) String() string {
	return fmt.Sprintf("%X", f.Raw[:])
}
