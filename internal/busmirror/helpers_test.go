package busmirror

import (
	"encoding/hex"
	"strings"
	"testing"
)

func hexDecode(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(s, " ", ""))
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hexDecode(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func u8(v uint8) *uint8 { return &v }

// emptyHeader: version 1, seq 5, zero timestamp, data_length 0.
const emptyHeader = "01 05 000000000000 00000000 0000"

// canItem is a CAN item with state, frame id and a two byte payload.
const canItem = "000a e1 02 03 00000123 02 aabb"
