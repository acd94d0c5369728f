// Package daemon wires sources, the decode pipeline, sinks and the admin API
// into the bmird process.
//
// Ownership boundary:
// - owns process lifecycle: start order, readiness and shutdown.
// - builds sinks from config; sink behaviour lives in internal/sink.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"

	"github.com/danmuck/busmirror/internal/api"
	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/capture"
	"github.com/danmuck/busmirror/internal/config"
	"github.com/danmuck/busmirror/internal/receiver"
	"github.com/danmuck/busmirror/internal/sink"
	"github.com/danmuck/busmirror/internal/sink/cansink"
	"github.com/danmuck/busmirror/internal/sink/mqttsink"
	"github.com/danmuck/busmirror/internal/sink/stream"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const serviceID = "bmird"

type Service struct {
	cfg        config.Config
	replayPath string
	logger     zerolog.Logger

	pipeline *receiver.Pipeline
	listener *receiver.Listener
	ready    atomic.Bool
	started  chan struct{}
}

// NewService prepares a daemon. replayPath, when set, is a pcap or pcapng
// file fed through the pipeline alongside live traffic.
func NewService(cfg config.Config, replayPath string, logger zerolog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		replayPath: replayPath,
		logger:     logger,
		started:    make(chan struct{}),
	}
}

// Run blocks until SIGINT/SIGTERM or a fatal source error.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.run(ctx)
}

func (s *Service) run(ctx context.Context) (err error) {
	recent := sink.NewRecent(s.cfg.HTTP.Recent)
	sinks := []sink.Sink{recent}

	var hub *stream.Hub
	if s.cfg.HTTP.Enabled && s.cfg.Stream.Enabled {
		hub = stream.NewHub(originChecker(s.cfg.HTTP.CorsOrigins), s.logger)
		sinks = append(sinks, hub)
	}
	external, err := s.externalSinks()
	if err != nil {
		return err
	}
	sinks = append(sinks, external...)

	s.pipeline = receiver.NewPipeline(busmirror.NewDecoder(s.cfg.Decode.Options()), s.logger, sinks...)
	defer func() {
		if cerr := s.pipeline.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("closing sinks")
		}
	}()

	s.listener, err = receiver.Listen(s.cfg.Listen.Addr, s.cfg.Listen.ReadBuffer, s.logger)
	if err != nil {
		return err
	}
	defer s.listener.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.listener.Serve(gctx, s.pipeline) })

	if s.replayPath != "" {
		g.Go(func() error { return s.replay(gctx) })
	}

	if s.cfg.HTTP.Enabled {
		deps := api.Deps{
			Stats:   s.pipeline.Stats,
			Recent:  recent,
			Decoder: busmirror.NewDecoder(s.cfg.Decode.Options()),
			Ready:   s.ready.Load,
		}
		if hub != nil {
			deps.Stream = hub
		}
		server := api.New(serviceID, s.cfg.HTTP.Addr, s.cfg.HTTP.CorsOrigins, deps, s.logger)
		g.Go(func() error { return server.Serve(gctx) })
	}

	s.ready.Store(true)
	close(s.started)
	s.logger.Info().
		Str("udp", s.listener.Addr().String()).
		Bool("http", s.cfg.HTTP.Enabled).
		Int("sinks", len(sinks)).
		Msg("bmird ready")

	err = g.Wait()
	s.ready.Store(false)
	stats := s.pipeline.Stats()
	s.logger.Info().
		Uint64("datagrams", stats.Datagrams).
		Uint64("frames", stats.Frames).
		Uint64("errors", stats.Errors).
		Msg("bmird stopped")
	return err
}

func (s *Service) externalSinks() ([]sink.Sink, error) {
	var out []sink.Sink
	if s.cfg.MQTT.Enabled {
		m, err := mqttsink.Connect(mqttsink.Options{
			Broker:      s.cfg.MQTT.Broker,
			ClientID:    s.cfg.MQTT.ClientID,
			TopicPrefix: s.cfg.MQTT.TopicPrefix,
			QoS:         byte(s.cfg.MQTT.QoS),
			Timeout:     s.cfg.MQTT.Timeout(),
		}, s.logger)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if s.cfg.CANBus.Enabled {
		c, err := cansink.Open(s.cfg.CANBus.Interface, s.cfg.CANBus.NetworkIDs, s.logger)
		if err != nil {
			closeAll(out)
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Service) replay(ctx context.Context) error {
	f, err := os.Open(s.replayPath)
	if err != nil {
		return fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	stats, err := capture.Replay(ctx, f, s.pipeline)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("replay %s: %w", s.replayPath, err)
	}
	s.logger.Info().
		Str("file", s.replayPath).
		Int("packets", stats.Packets).
		Int("datagrams", stats.Datagrams).
		Int("skipped", stats.Skipped).
		Msg("replay finished")
	return nil
}

// Stats reports pipeline counters once the service has started and zero
// before. run assigns the pipeline before closing started.
func (s *Service) Stats() receiver.Stats {
	select {
	case <-s.started:
		return s.pipeline.Stats()
	default:
		return receiver.Stats{}
	}
}

func closeAll(sinks []sink.Sink) {
	for _, sk := range sinks {
		if c, ok := sk.(sink.Closer); ok {
			_ = c.Close()
		}
	}
}

// originChecker admits non-browser clients and the configured CORS origins.
func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}
