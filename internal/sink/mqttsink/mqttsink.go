// Package mqttsink publishes decoded data items to an MQTT broker.
package mqttsink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/export"
	"github.com/danmuck/busmirror/internal/sink"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const defaultTimeout = 2 * time.Second

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Publisher is the slice of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// Sink publishes one CBOR record per data item to
// <prefix>/<network type>/<network id>.
type Sink struct {
	pub     Publisher
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  zerolog.Logger
}

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Closer = (*Sink)(nil)
)

// New wraps an existing publisher. Close is a no-op for sinks built this way.
func New(pub Publisher, opts Options, logger zerolog.Logger) *Sink {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sink{
		pub:     pub,
		prefix:  strings.Trim(opts.TopicPrefix, "/"),
		qos:     opts.QoS,
		timeout: timeout,
		logger:  logger.With().Str("sink", "mqtt").Logger(),
	}
}

// Connect dials the broker and returns a sink owning the client. The client
// reconnects on its own after the first successful connect.
func Connect(opts Options, logger zerolog.Logger) (*Sink, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetMaxReconnectInterval(time.Minute)
	co.SetOrderMatters(false)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", opts.Broker).Msg("mqtt connection lost")
	})
	co.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", opts.Broker).Msg("mqtt connected")
	})

	client := mqtt.NewClient(co)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}

	s := New(client, opts, logger)
	s.client = client
	return s, nil
}

func (s *Sink) Name() string { return "mqtt" }

// Handle publishes every item of ev.Frame. It stops at the first failure.
func (s *Sink) Handle(ctx context.Context, ev sink.Event) error {
	for i, rec := range export.Records(ev.Source, ev.Frame) {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := export.MarshalCBOR(rec)
		if err != nil {
			return fmt.Errorf("encode item %d: %w", rec.Index, err)
		}
		topic := s.Topic(ev.Frame.Items[i])
		if err := s.publish(topic, payload); err != nil {
			return fmt.Errorf("publish item %d to %s: %w", rec.Index, topic, err)
		}
		s.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("published")
	}
	return nil
}

func (s *Sink) publish(topic string, payload []byte) error {
	token := s.pub.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(s.timeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// Topic is the publish topic for item.
func (s *Sink) Topic(item busmirror.DataItem) string {
	return s.prefix + "/" + topicSegment(item.Flags.NetworkType) + "/" + strconv.Itoa(int(item.NetworkID))
}

func topicSegment(t busmirror.NetworkType) string {
	switch t {
	case busmirror.NetworkUnknown, busmirror.NetworkCAN, busmirror.NetworkLIN,
		busmirror.NetworkFlexRay, busmirror.NetworkEthernet:
		return strings.ToLower(t.String())
	default:
		return "type" + strconv.Itoa(int(t))
	}
}

func (s *Sink) Close() error {
	if s.client != nil {
		s.client.Disconnect(250)
	}
	return nil
}
