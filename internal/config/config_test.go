package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.GRPC.Addr() != "0.0.0.0:50051" {
		t.Fatalf("grpc addr = %q", cfg.GRPC.Addr())
	}
	if cfg.Storage != StoragePostgres {
		t.Fatalf("storage = %q, want %q", cfg.Storage, StoragePostgres)
	}
	if cfg.Booking.MaxAttempts != 3 || cfg.Booking.RetryBackoff != 50*time.Millisecond {
		t.Fatalf("booking retry = %d/%s", cfg.Booking.MaxAttempts, cfg.Booking.RetryBackoff)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Fatalf("brokers = %v, want none", cfg.Kafka.Brokers)
	}
	if cfg.Booking.RejectPastSlots {
		t.Fatalf("reject_past_slots defaults to true, want false")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("BOOKWISE_GRPC_ADDR", "127.0.0.1:6000")
	t.Setenv("BOOKWISE_STORAGE_DRIVER", "Memory")
	t.Setenv("BOOKWISE_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("BOOKWISE_BOOKING_PROVIDER_RATES", "prov-1=6000,prov-2=4500")
	t.Setenv("BOOKWISE_BOOKING_PROVIDER_TIMEZONES", "prov-1=Europe/Berlin")
	t.Setenv("BOOKWISE_REDIS_AVAILABILITY_TTL", "90s")
	t.Setenv("BOOKWISE_BOOKING_REJECT_PAST_SLOTS", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.GRPC.Addr() != "127.0.0.1:6000" {
		t.Fatalf("grpc addr = %q", cfg.GRPC.Addr())
	}
	if cfg.Storage != StorageMemory {
		t.Fatalf("storage = %q", cfg.Storage)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Booking.ProviderRates["prov-2"] != 4500 {
		t.Fatalf("rates = %v", cfg.Booking.ProviderRates)
	}
	if cfg.Booking.ProviderTimezones["prov-1"] != "Europe/Berlin" {
		t.Fatalf("zones = %v", cfg.Booking.ProviderTimezones)
	}
	if cfg.Redis.AvailabilityTTL != 90*time.Second {
		t.Fatalf("ttl = %s", cfg.Redis.AvailabilityTTL)
	}
	if !cfg.Booking.RejectPastSlots {
		t.Fatalf("reject_past_slots not read from env")
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"BOOKWISE_STORAGE_DRIVER":         "sqlite",
		"BOOKWISE_BOOKING_PROVIDER_RATES": "prov-1=abc",
		"BOOKWISE_SHUTDOWN_TIMEOUT":       "soon",
	}
	for env, val := range tests {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", env, val)
			}
		})
	}
}
