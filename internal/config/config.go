/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package config turns environment variables into a typed, immutable
// configuration snapshot read once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EventBusDriver selects the Room Registry's cross-instance broadcast
// transport.
type EventBusDriver string

const (
	EventBusLocal EventBusDriver = "local"
	EventBusNATS  EventBusDriver = "nats"
	EventBusRedis EventBusDriver = "redis"
)

// Config covers process-level configuration read from environment
// variables, per spec.md §6.5 plus the ambient/domain additions in
// SPEC_FULL.md §6.
type Config struct {
	Environment string
	LogLevel    string

	HTTPBind string
	HTTPPort int

	PythonURL       string
	PythonTimeout   time.Duration
	GstBin          string
	EgressChunkSecs int
	EgressDir       string
	AutoEgress      bool
	WatchPollMs     int
	JitterLatencyMs int
	MaxPortRetries  int
	StartupGraceMs  int

	RTCMinPort   uint16
	RTCMaxPort   uint16
	AnnouncedIP  string

	MetricsBind   string
	TracingEnabled bool
	OTLPEndpoint  string

	EventBus      EventBusDriver
	NATSURL       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads environment variables, applies defaults, and validates the
// result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("VOXEGRESS_ENV", "development"),
		LogLevel:    getEnv("VOXEGRESS_LOG_LEVEL", ""),

		HTTPBind: getEnv("HTTP_BIND", "0.0.0.0"),
		HTTPPort: getEnvInt("PORT", 3000),

		PythonURL:       getEnv("PYTHON_URL", "http://localhost:8000/process"),
		PythonTimeout:   time.Duration(getEnvInt("PYTHON_TIMEOUT_MS", 120000)) * time.Millisecond,
		GstBin:          getEnv("GST_BIN", "gst-launch-1.0"),
		EgressChunkSecs: getEnvInt("EGRESS_CHUNK_SECONDS", 5),
		EgressDir:       getEnv("EGRESS_DIR", os.TempDir()),
		AutoEgress:      getEnvBool("AUTO_EGRESS", false),
		WatchPollMs:     getEnvInt("WATCH_POLL_MS", 250),
		JitterLatencyMs: getEnvInt("GST_JITTER_LATENCY_MS", 50),
		MaxPortRetries:  getEnvInt("MAX_EGRESS_PORT_RETRIES", 10),
		StartupGraceMs:  getEnvInt("GST_STARTUP_GRACE_MS", 400),

		RTCMinPort:  uint16(getEnvInt("RTC_MIN_PORT", 20000)),
		RTCMaxPort:  uint16(getEnvInt("RTC_MAX_PORT", 30000)),
		AnnouncedIP: getEnv("ANNOUNCED_IP", ""),

		MetricsBind:    getEnv("METRICS_BIND", "127.0.0.1:9090"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),

		EventBus:      EventBusDriver(getEnv("EVENTBUS_DRIVER", string(EventBusLocal))),
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
	}

	switch cfg.EventBus {
	case EventBusLocal, EventBusNATS, EventBusRedis:
	default:
		return nil, fmt.Errorf("unsupported EVENTBUS_DRIVER %q", cfg.EventBus)
	}

	if cfg.RTCMinPort == 0 || cfg.RTCMaxPort == 0 || cfg.RTCMinPort >= cfg.RTCMaxPort {
		return nil, fmt.Errorf("invalid RTC_MIN_PORT/RTC_MAX_PORT range: %d-%d", cfg.RTCMinPort, cfg.RTCMaxPort)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}
