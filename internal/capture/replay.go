package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/receiver"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const SourcePCAP = "pcap"

var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// openReader accepts both classic pcap and pcapng streams.
func openReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("capture: read magic: %w", err)
	}
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("capture: open pcapng: %w", err)
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("capture: open pcap: %w", err)
	}
	return pr, nil
}

// ReplayStats summarises one replay.
type ReplayStats struct {
	Packets   int
	Datagrams int
	Skipped   int
}

// Replay feeds the UDP payloads of every Bus Mirroring packet in r to h, in
// capture order, stamped with their capture time. Decode errors from h are
// not fatal.
func Replay(ctx context.Context, r io.Reader, h receiver.Handler) (ReplayStats, error) {
	var stats ReplayStats
	pr, err := openReader(r)
	if err != nil {
		return stats, err
	}
	src := gopacket.NewPacketSource(pr, pr.LinkType())
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		pkt, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("capture: read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		udp, ok := bmUDP(pkt)
		if !ok {
			stats.Skipped++
			continue
		}
		stats.Datagrams++
		_ = h.Handle(ctx, receiver.Datagram{
			Source:   SourcePCAP,
			Remote:   remote(pkt, udp),
			Received: pkt.Metadata().Timestamp,
			Payload:  udp.Payload,
		})
	}
}

// Packet is one Bus Mirroring packet found by Walk. Layer is set whenever a
// frame was decoded and Err whenever decoding failed; both are set for a
// best-effort partial frame.
type Packet struct {
	Number    int
	Timestamp time.Time
	Remote    string
	Layer     *BusMirroring
	Err       error
}

// Walk decodes the Bus Mirroring payload of every matching packet in r with
// d and calls fn for each one.
func Walk(r io.Reader, d busmirror.Decoder, fn func(Packet) error) error {
	pr, err := openReader(r)
	if err != nil {
		return err
	}
	src := gopacket.NewPacketSource(pr, pr.LinkType())
	src.DecodeOptions = gopacket.DecodeOptions{Lazy: true}

	for n := 1; ; n++ {
		pkt, err := src.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("capture: read packet %d: %w", n, err)
		}
		udp, ok := bmUDP(pkt)
		if !ok {
			continue
		}
		out := Packet{Number: n, Timestamp: pkt.Metadata().Timestamp, Remote: remote(pkt, udp)}
		layer := &BusMirroring{Decoder: d}
		out.Err = layer.DecodeFromBytes(udp.Payload, gopacket.NilDecodeFeedback)
		if layer.Frame != nil {
			out.Layer = layer
		}
		if err := fn(out); err != nil {
			return err
		}
	}
}

func bmUDP(pkt gopacket.Packet) (*layers.UDP, bool) {
	l := pkt.Layer(layers.LayerTypeUDP)
	if l == nil {
		return nil, false
	}
	udp := l.(*layers.UDP)
	return udp, udp.NextLayerType() == LayerTypeBusMirroring
}

func remote(pkt gopacket.Packet, udp *layers.UDP) string {
	host := "?"
	if nl := pkt.NetworkLayer(); nl != nil {
		host = nl.NetworkFlow().Src().String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(udp.SrcPort)))
}
