package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DFDL_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("DFDL_ENVIRONMENT", "uat")
	t.Setenv("DFDL_TRACE_SAMPLE_RATIO", "0.25")

	cfg := ConfigFromEnv("dfdl-runner")
	assert.Equal(t, "dfdl-runner", cfg.ServiceName)
	assert.Equal(t, "collector:4318", cfg.OTLPEndpoint)
	assert.Equal(t, "uat", cfg.Environment)
	assert.Equal(t, 0.25, cfg.SampleRatio)
	assert.Equal(t, "1.0.0", cfg.ServiceVersion)
}

func TestConfigFromEnv_IgnoresInvalidRatio(t *testing.T) {
	t.Setenv("DFDL_TRACE_SAMPLE_RATIO", "2")
	assert.Equal(t, 1.0, ConfigFromEnv("svc").SampleRatio)
}

func TestShutdownTracing(t *testing.T) {
	assert.NoError(t, ShutdownTracing(nil, nil))

	called := false
	err := ShutdownTracing(func(context.Context) error {
		called = true
		return errors.New("flush failed")
	}, nil)
	assert.True(t, called)
	assert.EqualError(t, err, "flush failed")
}
