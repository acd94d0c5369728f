package busmirror

import (
	"encoding/binary"
	"fmt"
)

// itemBaseLen covers timestamp, flags and network id.
const itemBaseLen = 4

// DecodeDataItem decodes the item starting at offset, reading no further than
// length, and returns it with the number of bytes it occupies. The returned
// item has Index 0; frame assembly assigns the position.
func DecodeDataItem(buf []byte, offset, length int) (DataItem, int, error) {
	if offset < 0 || length < offset {
		return DataItem{}, 0, fmt.Errorf("%w: item offset %d outside [0,%d]", ErrInternalInvariant, offset, length)
	}
	c := newCursor(buf, offset, length)

	n, err := itemLength(c)
	if err != nil {
		return DataItem{}, 0, err
	}
	if !c.has(n) {
		return DataItem{}, 0, ErrTruncatedDataItem
	}

	item := DataItem{Length: n}
	item.Timestamp, _ = c.uint16()
	raw, _ := c.uint8()
	item.Flags = parseFlags(raw)
	item.NetworkID, _ = c.uint8()

	if item.Flags.NetworkStateAvailable {
		state, _ := c.uint8()
		item.NetworkState = &state
	}
	if item.Flags.FrameIDAvailable {
		item.FrameID = readFrameID(c, item.Flags.NetworkType)
	}
	if item.Flags.PayloadAvailable {
		size, _ := c.uint8()
		item.Payload, _ = c.bytes(int(size))
	}

	if c.pos != offset+n {
		return DataItem{}, 0, fmt.Errorf("%w: item consumed %d bytes, expected %d", ErrInternalInvariant, c.pos-offset, n)
	}
	return item, n, nil
}

// itemLength derives the wire length of the item under c without moving it.
func itemLength(c *cursor) (int, error) {
	raw, ok := c.peek(2)
	if !ok || !c.has(itemBaseLen) {
		return 0, ErrTruncatedDataItem
	}
	flags := parseFlags(raw)

	n := itemBaseLen
	if flags.NetworkStateAvailable {
		n++
	}
	if flags.FrameIDAvailable {
		n += flags.NetworkType.frameIDWidth()
	}
	if flags.PayloadAvailable {
		size, ok := c.peek(n)
		if !ok {
			return 0, ErrTruncatedDataItem
		}
		n += 1 + int(size)
	}
	return n, nil
}

func readFrameID(c *cursor, t NetworkType) FrameID {
	switch t {
	case NetworkCAN:
		v, _ := c.uint32()
		return parseCANFrameID(v)
	case NetworkLIN:
		pid, _ := c.uint8()
		return LINFrameID{PID: pid}
	case NetworkFlexRay:
		var id FlexRayFrameID
		raw, _ := c.bytes(3)
		copy(id.Raw[:], raw)
		return id
	default:
		// No frame id layout: nothing on the wire.
		return nil
	}
}

// AppendDataItem appends the wire form of item to dst. Availability bits are
// derived from the optional fields; FrameIDAvailable is taken from Flags only
// for network types that carry no frame id bytes.
func AppendDataItem(dst []byte, item DataItem) ([]byte, error) {
	flags := item.Flags
	if byte(flags.NetworkType) > maskNetworkType {
		return dst, ErrValueOutOfRange
	}
	flags.NetworkStateAvailable = item.NetworkState != nil
	flags.PayloadAvailable = item.Payload != nil

	switch {
	case item.FrameID != nil:
		if item.FrameID.NetworkType() != flags.NetworkType {
			return dst, ErrFrameIDMismatch
		}
		if can, ok := item.FrameID.(CANFrameID); ok && can.ID > canIDMask {
			return dst, ErrValueOutOfRange
		}
		flags.FrameIDAvailable = true
	case flags.FrameIDAvailable && flags.NetworkType.frameIDWidth() > 0:
		return dst, ErrFrameIDMismatch
	}
	if len(item.Payload) > 0xFF {
		return dst, ErrPayloadTooLarge
	}

	dst = binary.BigEndian.AppendUint16(dst, item.Timestamp)
	dst = append(dst, flags.Byte(), item.NetworkID)
	if item.NetworkState != nil {
		dst = append(dst, *item.NetworkState)
	}
	if item.FrameID != nil {
		dst = item.FrameID.appendTo(dst)
	}
	if item.Payload != nil {
		dst = append(dst, byte(len(item.Payload)))
		dst = append(dst, item.Payload...)
	}
	return dst, nil
}
