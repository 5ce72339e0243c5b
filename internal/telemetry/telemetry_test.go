package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraser-isbester/cdfwd/internal/config"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	tel, err := Setup(context.Background(), config.TracingConfig{ServiceName: "cdfwd"}, "test")
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	tel, err := Setup(context.Background(), config.TracingConfig{
		Endpoint:    "http://localhost:4318/",
		Insecure:    true,
		ServiceName: "cdfwd",
		SampleRatio: 1,
	}, "test")
	require.NoError(t, err)
	assert.True(t, tel.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nothing was recorded, so shutdown has nothing to flush.
	_ = tel.Shutdown(ctx)
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.False(t, tel.Enabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
}
