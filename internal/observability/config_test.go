package observability

import (
	"testing"

	"github.com/stackin/escrow/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigMapsApplicationConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:           " ",
		AppVersion:        "1.2.3 ",
		Environment:       "production",
		LogLevel:          "warn",
		LogFormat:         "json",
		OTelEnabled:       true,
		OTLPEndpoint:      "collector:4317",
		OTelProtocol:      "grpc",
		OTelSamplingRatio: 3,
	})

	assert.Equal(t, "escrow", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())

	tc := cfg.tracingConfig()
	assert.Equal(t, "collector:4317", tc.ExporterEndpoint)
	assert.True(t, tc.Enabled)

	lc := cfg.loggerConfig()
	assert.False(t, lc.IncludeStackOnError)
	assert.Equal(t, "warn", lc.Level)
}

func TestDebug(t *testing.T) {
	cases := []struct {
		name  string
		cfg   Config
		debug bool
	}{
		{name: "debug level", cfg: Config{LogLevel: "DEBUG", Environment: "production"}, debug: true},
		{name: "dev env", cfg: Config{LogLevel: "info", Environment: "local"}, debug: true},
		{name: "production", cfg: Config{LogLevel: "info", Environment: "production"}, debug: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.debug, tc.cfg.Debug())
		})
	}
}
