package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()

	res, err := newResource(cfg)
	require.NoError(t, err)
	require.NotNil(t, res)

	// Resource should carry the service identity attributes
	var foundName, foundVersion bool
	for _, attr := range res.Attributes() {
		switch string(attr.Key) {
		case "service.name":
			assert.Equal(t, cfg.ServiceName, attr.Value.AsString())
			foundName = true
		case "service.version":
			assert.Equal(t, cfg.ServiceVersion, attr.Value.AsString())
			foundVersion = true
		}
	}
	assert.True(t, foundName, "service.name attribute not found")
	assert.True(t, foundVersion, "service.version attribute not found")
}

func TestNewMeterProvider_MetricsDisabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Metrics.Enabled = false

	res, err := newResource(cfg)
	require.NoError(t, err)

	mp, err := newMeterProvider(context.Background(), cfg, res)
	require.NoError(t, err)
	assert.Nil(t, mp, "meter provider should not be built when metrics are disabled")
}

func TestStripScheme(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"localhost:4318", "localhost:4318"},
		{"http://localhost:4318", "localhost:4318"},
		{"https://collector.prod:4318", "collector.prod:4318"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, stripScheme(tt.endpoint))
		})
	}
}
