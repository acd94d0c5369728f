package busmirror

// Encode writes f using the Bus Mirroring wire format. The header
// data_length is always rewritten to the encoded item section size.
func Encode(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, ErrNilFrame
	}

	body := make([]byte, 0, 16*len(f.Items))
	for i := range f.Items {
		var err error
		body, err = AppendDataItem(body, f.Items[i])
		if err != nil {
			return nil, &ItemError{Index: i, Offset: HeaderLen + len(body), Err: err}
		}
	}
	if len(body) > 0xFFFF {
		return nil, ErrValueOutOfRange
	}

	head := f.Header
	head.DataLength = uint16(len(body))

	out := make([]byte, 0, HeaderLen+len(body))
	out, err := AppendHeader(out, head)
	if err != nil {
		return nil, err
	}
	return append(out, body...), nil
}
