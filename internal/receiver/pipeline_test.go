package receiver

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/sink"
	"github.com/danmuck/busmirror/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

const (
	header  = "01 05 000000000000 00000000 000c "
	canItem = "000a e1 02 03 00000123 02 aabb"
)

func wire(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	return b
}

type captureSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []sink.Event
}

func (c *captureSink) Name() string { return c.name }

func (c *captureSink) Handle(_ context.Context, ev sink.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return c.err
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type closingSink struct {
	captureSink
	closed bool
}

func (c *closingSink) Close() error {
	c.closed = true
	return errors.New("close failed")
}

func TestPipelineDispatchesDecodedFrames(t *testing.T) {
	testlog.Start(t)

	first := &captureSink{name: "first"}
	second := &captureSink{name: "second"}
	p := NewPipeline(busmirror.Decoder{}, zerolog.Nop(), first, second)

	if err := p.Handle(context.Background(), Datagram{Source: "test", Payload: wire(t, header+canItem)}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if first.count() != 1 || second.count() != 1 {
		t.Fatalf("expected both sinks called once, got %d/%d", first.count(), second.count())
	}
	ev := first.events[0]
	if ev.Source != "test" || ev.Received.IsZero() || ev.Frame == nil || len(ev.Frame.Items) != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	stats := p.Stats()
	if stats.Datagrams != 1 || stats.Frames != 1 || stats.Items != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPipelineEmptyDatagramIsNotAnError(t *testing.T) {
	testlog.Start(t)

	s := &captureSink{name: "s"}
	p := NewPipeline(busmirror.Decoder{}, zerolog.Nop(), s)
	if err := p.Handle(context.Background(), Datagram{Source: "test"}); err != nil {
		t.Fatalf("expected nil error for empty datagram, got %v", err)
	}
	stats := p.Stats()
	if stats.Empty != 1 || stats.Errors != 0 || s.count() != 0 {
		t.Fatalf("unexpected stats: %+v sink=%d", stats, s.count())
	}
}

func TestPipelineDecodeErrorsSkipSinks(t *testing.T) {
	testlog.Start(t)

	s := &captureSink{name: "s"}
	p := NewPipeline(busmirror.Decoder{}, zerolog.Nop(), s)
	err := p.Handle(context.Background(), Datagram{Source: "test", Payload: wire(t, header+canItem)[:20]})
	if !errors.Is(err, busmirror.ErrTruncatedDataItem) {
		t.Fatalf("expected ErrTruncatedDataItem, got %v", err)
	}
	if err := p.Handle(context.Background(), Datagram{Source: "test", Payload: []byte{1, 2}}); !errors.Is(err, busmirror.ErrTruncatedHeader) {
		t.Fatalf("expected ErrTruncatedHeader, got %v", err)
	}
	if s.count() != 0 {
		t.Fatalf("sink must not see failed decodes")
	}
	stats := p.Stats()
	if stats.Errors != 2 || stats.ErrorKinds["truncated_data_item"] != 1 || stats.ErrorKinds["truncated_header"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPipelineBestEffortDispatchesPartialFrame(t *testing.T) {
	testlog.Start(t)

	s := &captureSink{name: "s"}
	p := NewPipeline(busmirror.NewDecoder(busmirror.Options{BestEffort: true}), zerolog.Nop(), s)
	err := p.Handle(context.Background(), Datagram{Source: "test", Payload: wire(t, header+canItem+" 0000 21")})
	if !errors.Is(err, busmirror.ErrTruncatedDataItem) {
		t.Fatalf("expected ErrTruncatedDataItem, got %v", err)
	}
	if s.count() != 1 || s.events[0].Err == nil || len(s.events[0].Frame.Items) != 1 {
		t.Fatalf("expected partial frame event, got %+v", s.events)
	}
}

func TestPipelineSinkFailureDoesNotStopOthers(t *testing.T) {
	testlog.Start(t)

	bad := &captureSink{name: "bad", err: errors.New("broker down")}
	good := &captureSink{name: "good"}
	p := NewPipeline(busmirror.Decoder{}, zerolog.Nop(), bad, good)
	if err := p.Handle(context.Background(), Datagram{Source: "test", Payload: wire(t, header+canItem)}); err != nil {
		t.Fatalf("sink errors must not surface as decode errors: %v", err)
	}
	if good.count() != 1 {
		t.Fatalf("good sink skipped")
	}
	if p.Stats().SinkErrors != 1 {
		t.Fatalf("expected 1 sink error, got %d", p.Stats().SinkErrors)
	}
}

func TestPipelineCloseClosesSinks(t *testing.T) {
	testlog.Start(t)

	c := &closingSink{captureSink: captureSink{name: "c"}}
	p := NewPipeline(busmirror.Decoder{}, zerolog.Nop(), c, &captureSink{name: "plain"})
	if err := p.Close(); err == nil {
		t.Fatalf("expected close error to surface")
	}
	if !c.closed {
		t.Fatalf("sink not closed")
	}
}

func TestPipelineRejectsTruncatedDatagram(t *testing.T) {
	testlog.Start(t)

	s := &captureSink{name: "s"}
	p := NewPipeline(busmirror.Decoder{}, zerolog.Nop(), s)
	err := p.Handle(context.Background(), Datagram{
		Source:    SourceUDP,
		Payload:   wire(t, header+canItem),
		Truncated: true,
	})
	if !errors.Is(err, ErrDatagramTruncated) {
		t.Fatalf("expected ErrDatagramTruncated, got %v", err)
	}
	if s.count() != 0 || p.Stats().ErrorKinds[KindTruncatedDatagram] != 1 {
		t.Fatalf("unexpected stats: %+v", p.Stats())
	}
}
