package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/capture"
	"github.com/danmuck/busmirror/internal/export"
	"github.com/danmuck/busmirror/internal/logging"
	"github.com/danmuck/busmirror/internal/sink"
)

var errUsage = errors.New("usage: bmdump [-json|-cbor] [-strict] [-best-effort] decode <hex>|- | pcap <file> | encode")

type format int

const (
	formatText format = iota
	formatJSON
	formatCBOR
)

// App holds one invocation's options and streams.
type App struct {
	in      io.Reader
	out     io.Writer
	format  format
	decoder busmirror.Decoder
}

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "bmdump: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("bmdump", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	asJSON := fs.Bool("json", false, "print JSON")
	asCBOR := fs.Bool("cbor", false, "write CBOR records")
	strict := fs.Bool("strict", false, "reject frames whose data_length disagrees with the payload")
	bestEffort := fs.Bool("best-effort", false, "print items decoded before an error")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *asJSON && *asCBOR {
		return fmt.Errorf("%w: -json and -cbor are exclusive", errUsage)
	}

	app := &App{
		in:      in,
		out:     out,
		decoder: busmirror.NewDecoder(busmirror.Options{StrictDataLength: *strict, BestEffort: *bestEffort}),
	}
	switch {
	case *asJSON:
		app.format = formatJSON
	case *asCBOR:
		app.format = formatCBOR
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}
	switch rest[0] {
	case "decode":
		if len(rest) != 2 {
			return errUsage
		}
		return app.decode(rest[1])
	case "pcap":
		if len(rest) != 2 {
			return errUsage
		}
		return app.pcap(rest[1])
	case "encode":
		return app.encode()
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}
}

// decode accepts hex with optional whitespace; "-" reads it from stdin.
func (a *App) decode(arg string) error {
	text := arg
	if arg == "-" {
		raw, err := io.ReadAll(a.in)
		if err != nil {
			return err
		}
		text = string(raw)
	}
	buf, err := parseHex(text)
	if err != nil {
		return err
	}
	frame, err := a.decoder.Decode(buf)
	if frame != nil {
		if perr := a.print(sink.Event{Source: "cli", Frame: frame, Err: err}); perr != nil {
			return perr
		}
	}
	return err
}

// pcap prints every Bus Mirroring packet in the capture. Packets that fail
// to decode are reported inline; the first failure is returned once the
// whole capture has been walked.
func (a *App) pcap(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		total    int
		failed   int
		firstErr error
	)
	err = capture.Walk(f, a.decoder, func(p capture.Packet) error {
		total++
		if p.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("packet %d: %w", p.Number, p.Err)
			}
		}
		ev := sink.Event{Source: capture.SourcePCAP, Received: p.Timestamp, Err: p.Err}
		if p.Layer != nil {
			ev.Frame = p.Layer.Frame
		}
		if a.format != formatText {
			return a.print(ev)
		}

		stamp := p.Timestamp.UTC().Format("15:04:05.000000")
		if ev.Frame == nil {
			_, err := fmt.Fprintf(a.out, "#%d %s %s error=%s (%v)\n",
				p.Number, stamp, p.Remote, busmirror.Kind(p.Err), p.Err)
			return err
		}
		fmt.Fprintf(a.out, "#%d %s %s ", p.Number, stamp, p.Remote)
		return a.print(ev)
	})
	if err != nil {
		return err
	}
	if firstErr != nil {
		return fmt.Errorf("%d of %d packets failed to decode, first %w", failed, total, firstErr)
	}
	return nil
}

// encode reads a JSON frame view from stdin and prints its wire bytes as hex.
func (a *App) encode() error {
	var view export.FrameView
	if err := json.NewDecoder(a.in).Decode(&view); err != nil {
		return fmt.Errorf("read frame json: %w", err)
	}
	frame, err := export.ToFrame(view)
	if err != nil {
		return err
	}
	wire, err := busmirror.Encode(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, hex.EncodeToString(wire))
	return err
}

func (a *App) print(ev sink.Event) error {
	switch a.format {
	case formatJSON:
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(export.FromEvent(ev))
	case formatCBOR:
		for _, rec := range export.Records(ev.Source, ev.Frame) {
			b, err := export.MarshalCBOR(rec)
			if err != nil {
				return err
			}
			if _, err := a.out.Write(b); err != nil {
				return err
			}
		}
		return nil
	}

	w := bufio.NewWriter(a.out)
	fmt.Fprintln(w, ev.Frame.Summary())
	for _, item := range ev.Frame.Items {
		fmt.Fprintf(w, "  [%d] +%s %s net=%d", item.Index, item.Offset(), item.Flags.NetworkType, item.NetworkID)
		if item.NetworkState != nil {
			fmt.Fprintf(w, " state=0x%02X", *item.NetworkState)
		}
		if item.FrameID != nil {
			fmt.Fprintf(w, " id=%v", item.FrameID)
		}
		if item.Payload != nil {
			fmt.Fprintf(w, " payload[%d]=%X", len(item.Payload), item.Payload)
		}
		fmt.Fprintln(w)
	}
	if ev.Err != nil {
		fmt.Fprintf(w, "  partial: %v\n", ev.Err)
	}
	return w.Flush()
}

func parseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
