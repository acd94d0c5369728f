package busmirror

import "fmt"

// Options tunes frame decoding. The zero value decodes exactly like the
// reference dissector.
type Options struct {
	// StrictDataLength rejects frames whose header data_length differs from
	// the number of bytes after the header.
	StrictDataLength bool
	// BestEffort returns the items decoded before a failure together with
	// the error instead of a nil frame.
	BestEffort bool
}

// Decoder decodes whole datagrams. It holds no state besides its options and
// is safe for concurrent use.
type Decoder struct {
	Options Options
}

func NewDecoder(opts Options) Decoder {
	return Decoder{Options: opts}
}

// Decode decodes buf with the default options.
func Decode(buf []byte) (*Frame, error) {
	return Decoder{}.Decode(buf)
}

// Decode parses the header and then data items until buf is exhausted.
// An empty buf returns ErrEmptyInput and no frame.
func (d Decoder) Decode(buf []byte) (*Frame, error) {
	length := len(buf)
	if length == 0 {
		return nil, ErrEmptyInput
	}

	header, offset, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	frame := &Frame{Header: header, Items: make([]DataItem, 0, 4)}

	var lengthErr error
	if d.Options.StrictDataLength && int(header.DataLength) != length-offset {
		lengthErr = fmt.Errorf("%w: declared %d, present %d", ErrDataLengthMismatch, header.DataLength, length-offset)
		if !d.Options.BestEffort {
			return nil, lengthErr
		}
	}

	for offset < length {
		item, n, err := DecodeDataItem(buf, offset, length)
		if err != nil {
			err = &ItemError{Index: len(frame.Items), Offset: offset, Err: err}
			if d.Options.BestEffort {
				return frame, err
			}
			return nil, err
		}
		if n < itemBaseLen || offset+n > length {
			return nil, fmt.Errorf("%w: item #%d moved offset %d by %d past length %d",
				ErrInternalInvariant, len(frame.Items), offset, n, length)
		}
		item.Index = len(frame.Items)
		frame.Items = append(frame.Items, item)
		offset += n
	}

	if offset != length {
		return nil, fmt.Errorf("%w: stopped at offset %d of %d", ErrInternalInvariant, offset, length)
	}
	if lengthErr != nil {
		return frame, lengthErr
	}
	return frame, nil
}
