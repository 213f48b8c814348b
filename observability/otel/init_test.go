package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"agora/config"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	cfg := FromTelemetry("agorad", "test", config.Telemetry{})
	require.False(t, cfg.Metrics)
	require.False(t, cfg.Traces)

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = secret ,broken, =skip,x=1")
	require.Equal(t, map[string]string{"api-key": "secret", "x": "1"}, headers)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=token")

	cfg := FromEnv("agora-relayer", "prod")
	require.Equal(t, "collector:4318", cfg.Endpoint)
	require.False(t, cfg.Insecure)
	require.True(t, cfg.Traces)
	require.Equal(t, "token", cfg.Headers["authorization"])
}
