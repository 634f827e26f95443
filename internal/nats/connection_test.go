package nats

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DFDL_NATS_URL", "nats://broker:4222")
	t.Setenv("DFDL_NATS_TOKEN", "secret")

	cfg := ConfigFromEnv()
	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, 10, cfg.MaxReconnects)
	assert.Len(t, cfg.Options(nil), 8)
}

func TestConfigFromEnv_DefaultURL(t *testing.T) {
	t.Setenv("DFDL_NATS_URL", "")
	assert.Equal(t, nats.DefaultURL, ConfigFromEnv().URL)
}

func TestConnect_Validation(t *testing.T) {
	_, err := Connect(context.Background(), nil, nil)
	assert.Error(t, err)

	_, err = Connect(context.Background(), &ConnectionConfig{}, nil)
	assert.Error(t, err)

	assert.NoError(t, Close(nil))
	assert.False(t, IsConnected(nil))
}
