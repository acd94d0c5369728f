package busmirror

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/busmirror/internal/testutil/testlog"
)

func TestDecodeHeaderFields(t *testing.T) {
	testlog.Start(t)

	buf := mustHex(t, "02 7f 0000 6553f100 3b9ac9ff 0123")
	h, n, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if n != HeaderLen {
		t.Fatalf("expected %d bytes consumed, got %d", HeaderLen, n)
	}
	want := Header{
		ProtocolVersion: 2,
		SequenceNumber:  0x7f,
		Timestamp:       Timestamp{Seconds: 0x6553f100, Nanoseconds: 999999999},
		DataLength:      0x0123,
	}
	if h != want {
		t.Fatalf("header mismatch: got=%+v want=%+v", h, want)
	}
	if got := h.Timestamp.Time(); !got.Equal(time.Unix(0x6553f100, 999999999)) {
		t.Fatalf("unexpected timestamp: %v", got)
	}
}

func TestDecodeHeaderUsesAll48SecondBits(t *testing.T) {
	testlog.Start(t)

	buf := mustHex(t, "01 00 ffffffffffff 00000000 0000")
	h, _, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if h.Timestamp.Seconds != maxSeconds {
		t.Fatalf("expected 48-bit max seconds, got %#x", h.Timestamp.Seconds)
	}
}

func TestDecodeHeaderKeepsOutOfRangeNanoseconds(t *testing.T) {
	testlog.Start(t)

	buf := mustHex(t, "01 00 000000000001 ffffffff 0000")
	h, _, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if h.Timestamp.Nanoseconds != 0xffffffff {
		t.Fatalf("nanoseconds altered: %d", h.Timestamp.Nanoseconds)
	}
}

func TestDecodeHeaderTruncated(t *testing.T) {
	testlog.Start(t)

	for n := 0; n < HeaderLen; n++ {
		_, _, err := DecodeHeader(make([]byte, n))
		if !errors.Is(err, ErrTruncatedHeader) {
			t.Fatalf("len=%d: expected ErrTruncatedHeader, got %v", n, err)
		}
	}
}

func TestAppendHeaderRoundTrip(t *testing.T) {
	testlog.Start(t)

	in := Header{
		ProtocolVersion: 1,
		SequenceNumber:  200,
		Timestamp:       Timestamp{Seconds: 0x0000_1234_5678_9abc, Nanoseconds: 42},
		DataLength:      77,
	}
	buf, err := AppendHeader(nil, in)
	if err != nil {
		t.Fatalf("append header: %v", err)
	}
	out, _, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if out != in {
		t.Fatalf("round-trip mismatch: got=%+v want=%+v", out, in)
	}

	in.Timestamp.Seconds = 1 << 48
	if _, err := AppendHeader(nil, in); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("expected ErrValueOutOfRange, got %v", err)
	}
}
