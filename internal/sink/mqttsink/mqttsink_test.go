package mqttsink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/busmirror/internal/busmirror"
	"github.com/danmuck/busmirror/internal/export"
	"github.com/danmuck/busmirror/internal/sink"
	"github.com/danmuck/busmirror/internal/testutil/testlog"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type fakeToken struct {
	done    bool
	err     error
	waitFor time.Duration
}

func (t *fakeToken) Wait() bool { return t.done }

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	t.waitFor = d
	return t.done
}

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	msgs  []published
	token *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if p.token != nil {
		return p.token
	}
	return &fakeToken{done: true}
}

func event() sink.Event {
	return sink.Event{
		Source:   "udp",
		Received: time.Unix(100, 0),
		Frame: &busmirror.Frame{
			Header: busmirror.Header{SequenceNumber: 3},
			Items: []busmirror.DataItem{
				{
					Flags:     busmirror.Flags{NetworkType: busmirror.NetworkCAN},
					NetworkID: 2,
					FrameID:   busmirror.CANFrameID{ID: 0x123},
					Payload:   []byte{0xAA},
				},
				{Index: 1, Flags: busmirror.Flags{NetworkType: busmirror.NetworkFlexRay}, NetworkID: 7},
				{Index: 2, Flags: busmirror.Flags{NetworkType: 0x11}, NetworkID: 1},
			},
		},
	}
}

func TestHandlePublishesOneRecordPerItem(t *testing.T) {
	testlog.Start(t)

	pub := &fakePublisher{}
	s := New(pub, Options{TopicPrefix: "/bm/", QoS: 1}, zerolog.Nop())
	if err := s.Handle(context.Background(), event()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	want := []string{"bm/can/2", "bm/flexray/7", "bm/type17/1"}
	if len(pub.msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(pub.msgs))
	}
	for i, topic := range want {
		if pub.msgs[i].topic != topic || pub.msgs[i].qos != 1 {
			t.Fatalf("message %d: got topic=%q qos=%d", i, pub.msgs[i].topic, pub.msgs[i].qos)
		}
	}

	var rec export.Record
	if err := export.UnmarshalCBOR(pub.msgs[0].payload, &rec); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if rec.Source != "udp" || rec.Sequence != 3 || rec.FrameID == nil || rec.FrameID.ID != 0x123 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestHandleReportsTimeoutAndBrokerErrors(t *testing.T) {
	testlog.Start(t)

	slow := &fakePublisher{token: &fakeToken{}}
	s := New(slow, Options{TopicPrefix: "bm", Timeout: 50 * time.Millisecond}, zerolog.Nop())
	if err := s.Handle(context.Background(), event()); !errors.Is(err, ErrPublishTimeout) {
		t.Fatalf("expected ErrPublishTimeout, got %v", err)
	}
	if len(slow.msgs) != 1 {
		t.Fatalf("expected publishing to stop after the first failure, got %d", len(slow.msgs))
	}
	if slow.token.waitFor != 50*time.Millisecond {
		t.Fatalf("unexpected wait timeout: %v", slow.token.waitFor)
	}

	boom := errors.New("not authorized")
	failing := &fakePublisher{token: &fakeToken{done: true, err: boom}}
	s = New(failing, Options{TopicPrefix: "bm"}, zerolog.Nop())
	if err := s.Handle(context.Background(), event()); !errors.Is(err, boom) {
		t.Fatalf("expected broker error, got %v", err)
	}
}

func TestHandleIgnoresEmptyFrames(t *testing.T) {
	testlog.Start(t)

	pub := &fakePublisher{}
	s := New(pub, Options{TopicPrefix: "bm"}, zerolog.Nop())
	if err := s.Handle(context.Background(), sink.Event{Frame: &busmirror.Frame{}}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.msgs) != 0 || s.Close() != nil {
		t.Fatalf("unexpected publish for empty frame")
	}
}
