package eventbus

import (
	"testing"

	"github.com/example/voxegress/internal/config"
	"github.com/rs/zerolog"
)

func TestLocalBusPublishIsNoop(t *testing.T) {
	b := NewLocalBus()
	if err := b.Publish(Message{RoomID: "global", Payload: []byte("x")}); err != nil {
		t.Fatalf("local bus publish: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("local bus close: %v", err)
	}
}

func TestNewSelectsDriver(t *testing.T) {
	logger := zerolog.Nop()
	recv := func(Message) {}

	cfg := &config.Config{EventBus: config.EventBusLocal}
	bus, err := New(cfg, "node-1", logger, recv)
	if err != nil {
		t.Fatalf("new local bus: %v", err)
	}
	if _, ok := bus.(*LocalBus); !ok {
		t.Fatalf("expected *LocalBus, got %T", bus)
	}

	cfg.EventBus = config.EventBusDriver("bogus")
	if _, err := New(cfg, "node-1", logger, recv); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestNATSBusFallsBackWhenUnreachable(t *testing.T) {
	bus := NewNATSBus("nats://127.0.0.1:1", "node-1", zerolog.Nop(), func(Message) {})
	defer bus.Close()

	if err := bus.Publish(Message{RoomID: "global", Payload: []byte("x")}); err != nil {
		t.Fatalf("publish on disconnected nats bus should be a no-op, got: %v", err)
	}
}

func TestRedisBusFallsBackWhenUnreachable(t *testing.T) {
	bus := NewRedisBus("127.0.0.1:1", "", 0, "node-1", zerolog.Nop(), func(Message) {})
	defer bus.Close()

	if err := bus.Publish(Message{RoomID: "global", Payload: []byte("x")}); err != nil {
		t.Fatalf("publish on disconnected redis bus should be a no-op, got: %v", err)
	}
}
