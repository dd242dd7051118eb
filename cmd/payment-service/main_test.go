package main

import "testing"

func TestRun_InvalidConfigurationExitsWithError(t *testing.T) {
	t.Setenv("SAGA_STORAGE_DRIVER", "sqlite")

	if code := run(); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestRun_UnavailableKafkaExitsWithError(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "127.0.0.1:1")
	t.Setenv("SAGA_STORAGE_DRIVER", "memory")
	t.Setenv("SAGA_GRPC_HEALTH_ADDR", "127.0.0.1:0")
	t.Setenv("SAGA_METRICS_ADDR", "127.0.0.1:0")
	t.Setenv("SAGA_HTTP_ADDR", "127.0.0.1:0")

	if code := run(); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}
