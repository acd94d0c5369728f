package export

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("export: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("export: cbor dec mode: %v", err))
	}
}

// MarshalCBOR encodes v deterministically so identical records produce
// identical bytes.
func MarshalCBOR(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func UnmarshalCBOR(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
