package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terrama2/services/pkg/control"
	"github.com/terrama2/services/pkg/service"
	"github.com/terrama2/services/pkg/utils"
)

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{Kind: "collector"}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, service.DefaultTickPeriod, cfg.TickPeriod)
	assert.Equal(t, "memory://", cfg.Audit.Uri)
	assert.Equal(t, "collector_log", cfg.Audit.Table)
	assert.Equal(t, "none", cfg.Tracing.Exporter)

	opts := cfg.Protocol.Options()
	assert.Equal(t, uint32(64*1024*1024), opts.MaxFrameSize)
	assert.Equal(t, control.DefaultReadTimeout, opts.ReadTimeout)
}

func TestConfigValidate(t *testing.T) {
	tests := []func(cfg *Config){
		func(cfg *Config) { cfg.Kind = "dataset" },
		func(cfg *Config) { cfg.Workers = -1 },
		func(cfg *Config) { cfg.ListenHttp = []string{"http://:80"} },
		func(cfg *Config) { cfg.LogFile.Level = "loud" },
		func(cfg *Config) { cfg.Protocol.MaxFrameSize = "2" },
		func(cfg *Config) { cfg.Tracing.Exporter = "zipkin" },
	}

	for i, modify := range tests {
		cfg := &Config{Kind: "analysis"}
		cfg.SetDefaults()
		modify(cfg)
		assert.Error(t, cfg.Validate(), "case %d", i)
	}
}

func TestConfigFromViper(t *testing.T) {
	v := viper.New()
	v.Set("kind", "alert")
	v.Set("workers", "4")
	v.Set("tick_period", "10s")
	v.Set("listen_http", "tcp://:8080,tcp://:8081")
	v.Set("audit", map[string]any{"uri": "sqlite:///var/lib/terrama2/audit.db"})
	v.Set("protocol", map[string]any{"read_timeout": "5s", "max_frame_size": "1Mi"})

	cfg := &Config{}
	require.NoError(t, utils.UnmarshalConfig(v, cfg))
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 10*time.Second, cfg.TickPeriod)
	assert.Equal(t, []string{"tcp://:8080", "tcp://:8081"}, cfg.ListenHttp)
	assert.Equal(t, "alert_log", cfg.Audit.Table)
	assert.Equal(t, uint32(1024*1024), cfg.Protocol.Options().MaxFrameSize)
	assert.Equal(t, 5*time.Second, cfg.Protocol.ReadTimeout)
}
