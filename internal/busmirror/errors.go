package busmirror

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput reports a zero-length buffer. It is a no-op signal, not a
	// decode failure, in the same way io.EOF is not a read failure.
	ErrEmptyInput = errors.New("busmirror: empty input")

	ErrTruncatedHeader    = errors.New("busmirror: truncated header")
	ErrTruncatedDataItem  = errors.New("busmirror: truncated data item")
	ErrInternalInvariant  = errors.New("busmirror: internal invariant violation")
	ErrDataLengthMismatch = errors.New("busmirror: data_length does not match item section")

	ErrPayloadTooLarge = errors.New("busmirror: payload too large")
	ErrFrameIDMismatch = errors.New("busmirror: frame id does not match network type")
	ErrValueOutOfRange = errors.New("busmirror: value out of range")
	ErrNilFrame        = errors.New("busmirror: nil frame")
)

// ItemError locates a data item failure within the frame.
type ItemError struct {
	Index  int
	Offset int
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("busmirror: data item #%d at offset %d: %v", e.Index, e.Offset, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Kind maps a decode error onto a short stable label for metrics and APIs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrTruncatedHeader):
		return "truncated_header"
	case errors.Is(err, ErrTruncatedDataItem):
		return "truncated_data_item"
	case errors.Is(err, ErrDataLengthMismatch):
		return "data_length_mismatch"
	case errors.Is(err, ErrInternalInvariant):
		return "internal_invariant"
	default:
		return "other"
	}
}
