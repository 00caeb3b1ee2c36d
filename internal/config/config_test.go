package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 3000 {
		t.Fatalf("unexpected default port: %d", cfg.HTTPPort)
	}
	if cfg.MaxPortRetries != 10 {
		t.Fatalf("unexpected default retry budget: %d", cfg.MaxPortRetries)
	}
	if cfg.EventBus != EventBusLocal {
		t.Fatalf("unexpected default event bus: %q", cfg.EventBus)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("PORT", "4100")
	t.Setenv("AUTO_EGRESS", "true")
	t.Setenv("MAX_EGRESS_PORT_RETRIES", "3")
	t.Setenv("EVENTBUS_DRIVER", "nats")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 4100 {
		t.Fatalf("expected overridden port, got %d", cfg.HTTPPort)
	}
	if !cfg.AutoEgress {
		t.Fatal("expected AUTO_EGRESS to be true")
	}
	if cfg.MaxPortRetries != 3 {
		t.Fatalf("expected overridden retry budget, got %d", cfg.MaxPortRetries)
	}
	if cfg.EventBus != EventBusNATS {
		t.Fatalf("expected nats event bus, got %q", cfg.EventBus)
	}
}

func TestLoadRejectsUnknownEventBusDriver(t *testing.T) {
	t.Setenv("EVENTBUS_DRIVER", "kafka")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported event bus driver")
	}
}

func TestLoadRejectsInvalidPortRange(t *testing.T) {
	t.Setenv("RTC_MIN_PORT", "30000")
	t.Setenv("RTC_MAX_PORT", "20000")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for inverted RTC port range")
	}
}
