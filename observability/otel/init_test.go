package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key=abc%3D%3D , bad, =x, tenant = stable pool ,")
	require.Equal(t, map[string]string{"api-key": "abc==", "tenant": "stable pool"}, got)
	require.Empty(t, ParseHeaders(""))
}

func TestInitWithoutPipelines(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "stabled"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestSamplerRatio(t *testing.T) {
	require.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(1.5).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
	var _ sdktrace.Sampler = sampler(0.5)
}
