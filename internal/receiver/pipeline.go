// Package receiver turns raw datagrams into decoded events for sinks.
package receiver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/observability"
	"github.com/danmuck/busmirror/internal/sink"
	"github.com/rs/zerolog"
)

// Datagram is one transport payload and where it came from.
type Datagram struct {
	// Source is a low-cardinality label such as "udp" or "pcap".
	Source    string
	Remote    string
	Received  time.Time
	Payload   []byte
	// Truncated marks a payload cut short by the transport. It is never
	// decoded.
	Truncated bool
}

// KindTruncatedDatagram labels datagrams larger than the read buffer.
const KindTruncatedDatagram = "truncated_datagram"

var ErrDatagramTruncated = errors.New("receiver: datagram exceeds read buffer")

// Handler consumes datagrams.
type Handler interface {
	Handle(ctx context.Context, dg Datagram) error
}

type HandlerFunc func(ctx context.Context, dg Datagram) error

func (f HandlerFunc) Handle(ctx context.Context, dg Datagram) error {
	return f(ctx, dg)
}

// Stats are the pipeline counters exposed on /stats.
type Stats struct {
	Datagrams  uint64            `json:"datagrams"`
	Frames     uint64            `json:"frames"`
	Items      uint64            `json:"items"`
	Empty      uint64            `json:"empty"`
	Errors     uint64            `json:"errors"`
	SinkErrors uint64            `json:"sink_errors"`
	ErrorKinds map[string]uint64 `json:"error_kinds"`
}

// Pipeline decodes datagrams and fans decoded frames out to sinks in order.
type Pipeline struct {
	decoder busmirror.Decoder
	sinks   []sink.Sink
	logger  zerolog.Logger

	datagrams  atomic.Uint64
	frames     atomic.Uint64
	items      atomic.Uint64
	empty      atomic.Uint64
	errs       atomic.Uint64
	sinkErrors atomic.Uint64

	mu    sync.Mutex
	kinds map[string]uint64
}

func NewPipeline(decoder busmirror.Decoder, logger zerolog.Logger, sinks ...sink.Sink) *Pipeline {
	return &Pipeline{
		decoder: decoder,
		sinks:   sinks,
		logger:  logger,
		kinds:   make(map[string]uint64),
	}
}

// Handle decodes dg and dispatches the frame. The returned error is the
// decode error; sink failures are logged and counted only.
func (p *Pipeline) Handle(ctx context.Context, dg Datagram) error {
	if dg.Received.IsZero() {
		dg.Received = time.Now()
	}
	p.datagrams.Add(1)

	if dg.Truncated {
		p.errs.Add(1)
		p.mu.Lock()
		p.kinds[KindTruncatedDatagram]++
		p.mu.Unlock()
		observability.RecordDatagram(dg.Source, observability.ResultError, KindTruncatedDatagram, len(dg.Payload), 0)
		p.logger.Warn().
			Str("source", dg.Source).
			Str("remote", dg.Remote).
			Int("size", len(dg.Payload)).
			Msg("datagram truncated by read buffer")
		return ErrDatagramTruncated
	}

	start := time.Now()
	frame, err := p.decoder.Decode(dg.Payload)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, busmirror.ErrEmptyInput):
		p.empty.Add(1)
		observability.RecordDatagram(dg.Source, observability.ResultEmpty, "", 0, elapsed)
		return nil
	case err != nil:
		kind := busmirror.Kind(err)
		p.errs.Add(1)
		p.mu.Lock()
		p.kinds[kind]++
		p.mu.Unlock()
		observability.RecordDatagram(dg.Source, observability.ResultError, kind, len(dg.Payload), elapsed)

		event := p.logger.Warn()
		if errors.Is(err, busmirror.ErrInternalInvariant) {
			event = p.logger.Error()
		}
		event.Str("source", dg.Source).
			Str("remote", dg.Remote).
			Int("size", len(dg.Payload)).
			Str("kind", kind).
			Err(err).
			Msg("decode failed")
		if frame == nil {
			return err
		}
	default:
		observability.RecordDatagram(dg.Source, observability.ResultOK, "", len(dg.Payload), elapsed)
	}

	p.frames.Add(1)
	p.items.Add(uint64(len(frame.Items)))
	for _, item := range frame.Items {
		ignored := item.Flags.FrameIDAvailable && item.FrameID == nil
		observability.RecordDataItem(item.Flags.NetworkType.String(), ignored)
		if ignored {
			p.logger.Debug().
				Str("source", dg.Source).
				Int("item", item.Index).
				Stringer("network_type", item.Flags.NetworkType).
				Msg("frame id flag set on network without frame id layout")
		}
	}

	p.dispatch(ctx, sink.Event{Source: dg.Source, Received: dg.Received, Frame: frame, Err: err})
	return err
}

func (p *Pipeline) dispatch(ctx context.Context, ev sink.Event) {
	for _, s := range p.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			p.sinkErrors.Add(1)
			observability.RecordSinkEvent(s.Name(), false)
			p.logger.Error().
				Str("sink", s.Name()).
				Str("source", ev.Source).
				Uint8("seq", ev.Frame.Header.SequenceNumber).
				Err(err).
				Msg("sink failed")
			continue
		}
		observability.RecordSinkEvent(s.Name(), true)
	}
}

// Stats returns a consistent copy of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	kinds := make(map[string]uint64, len(p.kinds))
	for k, v := range p.kinds {
		kinds[k] = v
	}
	p.mu.Unlock()
	return Stats{
		Datagrams:  p.datagrams.Load(),
		Frames:     p.frames.Load(),
		Items:      p.items.Load(),
		Empty:      p.empty.Load(),
		Errors:     p.errs.Load(),
		SinkErrors: p.sinkErrors.Load(),
		ErrorKinds: kinds,
	}
}

// Close closes every sink that holds resources.
func (p *Pipeline) Close() error {
	var errs []error
	for _, s := range p.sinks {
		if c, ok := s.(sink.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
