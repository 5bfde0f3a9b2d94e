package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.Equal(t, DefaultSampling, (&TracingConfig{}).GetSampling())
	assert.Equal(t, []string{ExporterOTLP}, (&MetricsConfig{}).GetExporters())

	cfg = &Config{ServiceName: "sync-a", ServiceVersion: "1.2.3", Endpoint: "collector:4318"}
	assert.Equal(t, "sync-a", cfg.GetServiceName())
	assert.Equal(t, "1.2.3", cfg.GetServiceVersion())
	assert.Equal(t, "collector:4318", cfg.GetEndpoint())
	assert.Equal(t, 0.5, (&TracingConfig{Sampling: 0.5}).GetSampling())
}

func TestMetricsConfig_Uses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *MetricsConfig
		exporter string
		expected bool
	}{
		{name: "nil config", config: nil, exporter: ExporterOTLP, expected: false},
		{name: "disabled", config: &MetricsConfig{Exporters: []string{ExporterOTLP}}, exporter: ExporterOTLP, expected: false},
		{name: "default exporter is otlp", config: &MetricsConfig{Enabled: true}, exporter: ExporterOTLP, expected: true},
		{name: "default excludes prometheus", config: &MetricsConfig{Enabled: true}, exporter: ExporterPrometheus, expected: false},
		{
			name:     "explicit prometheus",
			config:   &MetricsConfig{Enabled: true, Exporters: []string{ExporterPrometheus}},
			exporter: ExporterPrometheus,
			expected: true,
		},
		{
			name:     "explicit list replaces default",
			config:   &MetricsConfig{Enabled: true, Exporters: []string{ExporterPrometheus}},
			exporter: ExporterOTLP,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.config.Uses(tt.exporter))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		config        *Config
		errorContains string
	}{
		{name: "nil config", config: nil},
		{name: "disabled config skips checks", config: &Config{Tracing: &TracingConfig{Enabled: true, Sampling: 2}}},
		{
			name:   "valid config",
			config: &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 1}, Metrics: &MetricsConfig{Enabled: true}},
		},
		{
			name:          "sampling above one",
			config:        &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 1.5}},
			errorContains: "tracing: sampling must be between 0.0 and 1.0",
		},
		{
			name:          "negative sampling",
			config:        &Config{Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: -0.1}},
			errorContains: "tracing: sampling must be between 0.0 and 1.0",
		},
		{
			name:   "disabled tracing ignores sampling",
			config: &Config{Enabled: true, Tracing: &TracingConfig{Sampling: 5}},
		},
		{
			name:          "unknown exporter",
			config:        &Config{Enabled: true, Metrics: &MetricsConfig{Enabled: true, Exporters: []string{"statsd"}}},
			errorContains: `metrics: unknown exporter "statsd"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Validate()
			if tt.errorContains == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}
