package busmirror

import "encoding/binary"

// cursor walks buf[pos:end] and refuses any read past end.
type cursor struct {
	buf []byte
	pos int
	end int
}

func newCursor(buf []byte, offset, end int) *cursor {
	if end > len(buf) {
		end = len(buf)
	}
	return &cursor{buf: buf, pos: offset, end: end}
}

func (c *cursor) remaining() int {
	if c.pos >= c.end {
		return 0
	}
	return c.end - c.pos
}

func (c *cursor) has(n int) bool {
	return n >= 0 && c.remaining() >= n
}

func (c *cursor) uint8() (uint8, bool) {
	if !c.has(1) {
		return 0, false
	}
	v := c.buf[c.pos]
	c.pos++
	return v, true
}

func (c *cursor) uint16() (uint16, bool) {
	if !c.has(2) {
		return 0, false
	}
	v := binary.BigEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, true
}

func (c *cursor) uint32() (uint32, bool) {
	if !c.has(4) {
		return 0, false
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, true
}

func (c *cursor) uint48() (uint64, bool) {
	if !c.has(6) {
		return 0, false
	}
	b := c.buf[c.pos : c.pos+6]
	v := uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
	c.pos += 6
	return v, true
}

// bytes returns a copy so decoded values never alias the input buffer.
func (c *cursor) bytes(n int) ([]byte, bool) {
	if !c.has(n) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, c.buf[c.pos:c.pos+n])
	c.pos += n
	return out, true
}

// peek reads the byte at pos+skip without advancing.
func (c *cursor) peek(skip int) (uint8, bool) {
	if !c.has(skip + 1) {
		return 0, false
	}
	return c.buf[c.pos+skip], true
}
