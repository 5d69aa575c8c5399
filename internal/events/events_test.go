package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/playout-core/internal/infrastructure/redisbus"
)

type recordingSink struct {
	name string
	err  error
	got  []Event
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, e Event) error {
	s.got = append(s.got, e)
	return s.err
}

type warnLogger struct{ warnings int }

func (l *warnLogger) Warn(string, ...any) { l.warnings++ }

func TestFanout_DeliversToAllSinks(t *testing.T) {
	failing := &recordingSink{name: "failing", err: errors.New("down")}
	ok := &recordingSink{name: "ok"}
	logger := &warnLogger{}

	f := NewFanout(failing)
	f.Add(ok)
	f.SetLogger(logger)

	f.Publish(context.Background(), Event{Type: TypeTake, StudioID: "studio-a"})

	if len(failing.got) != 1 || len(ok.got) != 1 {
		t.Fatalf("deliveries = %d, %d, want 1, 1", len(failing.got), len(ok.got))
	}
	if ok.got[0].Time.IsZero() {
		t.Error("Publish() did not stamp Time")
	}
	if logger.warnings != 1 {
		t.Errorf("warnings = %d, want 1", logger.warnings)
	}
}

type mqttCall struct {
	topic    string
	retained bool
}

type fakeMQTT struct{ calls []mqttCall }

func (m *fakeMQTT) PublishRetained(topic string, _ []byte) error {
	m.calls = append(m.calls, mqttCall{topic, true})
	return nil
}

func (m *fakeMQTT) PublishEvent(topic string, _ []byte) error {
	m.calls = append(m.calls, mqttCall{topic, false})
	return nil
}

func TestMQTTSink_Topics(t *testing.T) {
	client := &fakeMQTT{}
	s := NewMQTTSink(client)
	ctx := context.Background()

	if err := s.Send(ctx, Event{Type: TypePlaylistChanged, StudioID: "studio-a", PlaylistID: "show-1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := s.Send(ctx, Event{Type: TypeTake, StudioID: "studio-a", PlaylistID: "show-1"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	want := []mqttCall{
		{"playout/studio/studio-a/playlist/show-1/state", true},
		{"playout/studio/studio-a/event/take", false},
	}
	if len(client.calls) != len(want) {
		t.Fatalf("calls = %+v", client.calls)
	}
	for i := range want {
		if client.calls[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, client.calls[i], want[i])
		}
	}
}

func TestRedisSink_Publishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "playout:events")
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	s := NewRedisSink(redisbus.New(rdb, "playout:events"))
	if err := s.Send(ctx, Event{Type: TypeTake, StudioID: "studio-a", Time: time.Unix(100, 0).UTC()}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if e.Type != TypeTake || e.StudioID != "studio-a" {
			t.Errorf("received %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
