package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("BROKER_DRIVER", "")
	t.Setenv("OUTBOX_INTERVAL", "")

	cfg := LoadConfig()
	if cfg.BrokerDriver != "" {
		t.Fatalf("explicit empty BROKER_DRIVER should be kept, got %q", cfg.BrokerDriver)
	}
	if cfg.OutboxInterval != 500*time.Millisecond {
		t.Errorf("OutboxInterval = %v, want 500ms", cfg.OutboxInterval)
	}
	if cfg.CallSweepInterval != 30*time.Second || cfg.CallRingTimeout != time.Minute {
		t.Errorf("unexpected call timings: sweep=%v ring=%v", cfg.CallSweepInterval, cfg.CallRingTimeout)
	}
	if cfg.FriendsAPITimeout != 5*time.Second {
		t.Errorf("FriendsAPITimeout = %v, want 5s", cfg.FriendsAPITimeout)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("BROKER_DRIVER", "NATS")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("OUTBOX_BATCH_SIZE", "25")
	t.Setenv("OUTBOX_RETENTION", "72h")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg := LoadConfig()
	if cfg.BrokerDriver != BrokerNATS {
		t.Errorf("BrokerDriver = %q, want nats", cfg.BrokerDriver)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.OutboxBatchSize != 25 {
		t.Errorf("OutboxBatchSize = %d, want 25", cfg.OutboxBatchSize)
	}
	if cfg.OutboxRetention != 72*time.Hour {
		t.Errorf("OutboxRetention = %v, want 72h", cfg.OutboxRetention)
	}
	if !cfg.OTLPInsecure {
		t.Error("OTLPInsecure should be true")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := LoadConfig()
	cfg.BrokerDriver = "carrier-pigeon"
	cfg.OutboxBatchSize = 0
	cfg.TopicUserEvents = cfg.TopicMessageEvents
	cfg.AppMode = "release"
	cfg.JWTSecret = "change-me"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"BROKER_DRIVER", "OUTBOX_BATCH_SIZE", "topics must differ", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err.Error(), want)
		}
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := LoadConfig()
	cfg.BrokerDriver = BrokerKafka
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
