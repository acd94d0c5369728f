// Package capture plugs the Bus Mirroring decoder into gopacket and replays
// recorded captures through the receiver pipeline.
package capture

import (
	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// LayerTypeBusMirroring identifies decoded Bus Mirroring payloads.
var LayerTypeBusMirroring = gopacket.RegisterLayerType(
	int(busmirror.DefaultPort),
	gopacket.LayerTypeMetadata{
		Name:    "BusMirroring",
		Decoder: gopacket.DecodeFunc(decodeBusMirroring),
	},
)

func init() {
	RegisterPort(busmirror.DefaultPort)
}

// RegisterPort classifies UDP traffic to or from port as Bus Mirroring.
// The mapping is process wide, as all gopacket port mappings are.
func RegisterPort(port uint16) {
	layers.RegisterUDPPortLayerType(layers.UDPPort(port), LayerTypeBusMirroring)
}

// BusMirroring is the gopacket layer wrapping a decoded frame. Decoder
// selects the decode options; the zero value uses the defaults.
type BusMirroring struct {
	Frame   *busmirror.Frame
	Decoder busmirror.Decoder

	contents []byte
}

var (
	_ gopacket.DecodingLayer     = (*BusMirroring)(nil)
	_ gopacket.ApplicationLayer  = (*BusMirroring)(nil)
	_ gopacket.SerializableLayer = (*BusMirroring)(nil)
)

func (b *BusMirroring) LayerType() gopacket.LayerType { return LayerTypeBusMirroring }

func (b *BusMirroring) LayerContents() []byte { return b.contents }

// LayerPayload is empty: nothing is carried above Bus Mirroring.
func (b *BusMirroring) LayerPayload() []byte { return nil }

func (b *BusMirroring) Payload() []byte { return b.contents }

func (b *BusMirroring) CanDecode() gopacket.LayerClass { return LayerTypeBusMirroring }

func (b *BusMirroring) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// DecodeFromBytes decodes data with b.Decoder. In best-effort mode a partial
// frame is kept in b.Frame alongside the returned error.
func (b *BusMirroring) DecodeFromBytes(data []byte, _ gopacket.DecodeFeedback) error {
	frame, err := b.Decoder.Decode(data)
	b.Frame = frame
	b.contents = data
	return err
}

// SerializeTo writes the frame with a recomputed data_length.
func (b *BusMirroring) SerializeTo(buf gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	wire, err := busmirror.Encode(b.Frame)
	if err != nil {
		return err
	}
	dst, err := buf.PrependBytes(len(wire))
	if err != nil {
		return err
	}
	copy(dst, wire)
	return nil
}

func decodeBusMirroring(data []byte, p gopacket.PacketBuilder) error {
	b := &BusMirroring{}
	if err := b.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(b)
	p.SetApplicationLayer(b)
	return nil
}
