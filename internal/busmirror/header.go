package busmirror

// DecodeHeader parses the fixed header at the start of buf and returns it
// together with the number of bytes consumed.
func DecodeHeader(buf []byte) (Header, int, error) {
	c := newCursor(buf, 0, len(buf))
	if !c.has(HeaderLen) {
		return Header{}, 0, ErrTruncatedHeader
	}
	var h Header
	h.ProtocolVersion, _ = c.uint8()
	h.SequenceNumber, _ = c.uint8()
	h.Timestamp.Seconds, _ = c.uint48()
	h.Timestamp.Nanoseconds, _ = c.uint32()
	h.DataLength, _ = c.uint16()
	return h, HeaderLen, nil
}

// AppendHeader appends the wire form of h to dst.
func AppendHeader(dst []byte, h Header) ([]byte, error) {
	if h.Timestamp.Seconds > maxSeconds {
		return dst, ErrValueOutOfRange
	}
	s := h.Timestamp.Seconds
	dst = append(dst, h.ProtocolVersion, h.SequenceNumber,
		byte(s>>40), byte(s>>32), byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
	n := h.Timestamp.Nanoseconds
	dst = append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	dst = append(dst, byte(h.DataLength>>8), byte(h.DataLength))
	return dst, nil
}
