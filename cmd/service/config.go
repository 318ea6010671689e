package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/control"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/protocol"
	"github.com/terrama2/services/pkg/registry"
	"github.com/terrama2/services/pkg/service"
	"github.com/terrama2/services/pkg/utils"
)

type Config struct {
	utils.GRPCOptions `mapstructure:"grpc"`

	// Process kind executed by this service
	Kind string `mapstructure:"kind"`
	// Instance identifier assigned by the controller
	InstanceId int `mapstructure:"instance_id"`
	// Instance name reported in the status document
	InstanceName string `mapstructure:"instance_name"`
	// Number of worker routines, 0 selects the number of CPUs
	Workers int `mapstructure:"workers"`
	// Longest sleep of the dispatch loop
	TickPeriod time.Duration `mapstructure:"tick_period"`
	// Optional YAML file with the initial entities
	RegistryFile string `mapstructure:"registry_file"`
	// Host labels, key=value
	Labels []string `mapstructure:"labels"`

	// Addresses to listen on for HTTP.
	ListenHttp []string `mapstructure:"listen_http"`
	// Addresses to listen on for gRPC health checks.
	ListenGrpc []string `mapstructure:"listen_grpc"`
	// Controller address receiving PROCESS_FINISHED notifications
	NotifyAddress string `mapstructure:"notify_address"`

	Audit    AuditConfig    `mapstructure:"audit"`
	LogFile  LogConfig      `mapstructure:"log"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Tracing  TracingConfig  `mapstructure:"tracing"`

	DisableTHP bool `mapstructure:"disable_thp"`
}

type AuditConfig struct {
	// Store URI: memory://, file:///path, sqlite://path, postgres://..., mysql://...
	Uri string `mapstructure:"uri"`
	// Table of the runs, defaults to <kind>_log
	Table string `mapstructure:"table"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    string `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type ProtocolConfig struct {
	MaxFrameSize string        `mapstructure:"max_frame_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
}

type TracingConfig struct {
	// none, stdout or otlp
	Exporter string `mapstructure:"exporter"`
	// Collector endpoint of the otlp exporter
	Endpoint string `mapstructure:"endpoint"`
}

func (c *Config) SetDefaults() {
	if c.TickPeriod <= 0 {
		c.TickPeriod = service.DefaultTickPeriod
	}
	c.Audit.SetDefaults(c.Kind)
	c.LogFile.SetDefaults()
	c.Protocol.SetDefaults()
	c.Tracing.SetDefaults()
}

func (c *Config) Validate() error {
	if !registry.Kind(c.Kind).IsProcess() {
		return fmt.Errorf("%w: unknown service kind %q", utils.ErrBadRequest, c.Kind)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: negative worker count", utils.ErrBadRequest)
	}
	for _, uri := range append(append([]string{}, c.ListenHttp...), c.ListenGrpc...) {
		if _, err := utils.ParseTcpUrl(uri, 0); err != nil {
			return err
		}
	}
	return errors.Join(
		c.Audit.Validate(),
		c.LogFile.Validate(),
		c.Protocol.Validate(),
		c.Tracing.Validate(),
	)
}

func (c *Config) Log() {
	log.Info("Service configuration:")
	log.Infof("  kind = %s", c.Kind)
	log.Infof("  instance_id = %d", c.InstanceId)
	log.Infof("  instance_name = %s", c.InstanceName)
	log.Infof("  workers = %d", c.Workers)
	log.Infof("  tick_period = %v", c.TickPeriod)
	log.Infof("  registry_file = %s", c.RegistryFile)
	log.Infof("  labels = %v", c.Labels)
	log.Infof("  listen_http = %v", c.ListenHttp)
	log.Infof("  listen_grpc = %v", c.ListenGrpc)
	log.Infof("  notify_address = %s", c.NotifyAddress)
	c.Audit.Log()
	c.LogFile.Log()
	c.Protocol.Log()
	c.Tracing.Log()
	c.GRPCOptions.Log()
}

func (c *AuditConfig) SetDefaults(kind string) {
	if c.Uri == "" {
		c.Uri = "memory://"
	}
	if c.Table == "" {
		c.Table = kind + "_log"
	}
}

func (c *AuditConfig) Validate() error {
	if c.Table == "" {
		return auditlog.ErrNoTable
	}
	return nil
}

func (c *AuditConfig) Log() {
	log.Info("  audit:")
	log.Infof("    uri = %s", c.Uri)
	log.Infof("    table = %s", c.Table)
}

func (c *LogConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = string(log.InfoLevel)
	}
	if c.MaxSize == "" {
		c.MaxSize = "100Mi"
	}
}

func (c *LogConfig) Validate() error {
	if !log.ValidLogLevel(log.LogLevel(c.Level)) {
		return fmt.Errorf("%w: unknown log level %q", utils.ErrBadRequest, c.Level)
	}
	if _, err := utils.ParseSize(c.MaxSize); err != nil {
		return err
	}
	return nil
}

func (c *LogConfig) FileOptions() log.FileOptions {
	size, _ := utils.ParseSize(c.MaxSize)
	return log.FileOptions{
		Path:       c.File,
		MaxSizeMB:  int(max(size/(1024*1024), 1)),
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAge,
		Compress:   c.Compress,
	}
}

func (c *LogConfig) Log() {
	log.Info("  log:")
	log.Infof("    level = %s", c.Level)
	log.Infof("    file = %s", c.File)
	if c.File != "" {
		log.Infof("    max_size = %s", c.MaxSize)
		log.Infof("    max_backups = %d", c.MaxBackups)
		log.Infof("    max_age = %d", c.MaxAge)
		log.Infof("    compress = %v", c.Compress)
	}
}

func (c *ProtocolConfig) SetDefaults() {
	if c.MaxFrameSize == "" {
		c.MaxFrameSize = "64Mi"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = control.DefaultReadTimeout
	}
}

func (c *ProtocolConfig) Validate() error {
	size, err := utils.ParseSize(c.MaxFrameSize)
	if err != nil {
		return err
	}
	if size < 4 || size > protocol.DefaultMaxFrameSize*16 {
		return fmt.Errorf("%w: max_frame_size out of range: %s", utils.ErrBadRequest, c.MaxFrameSize)
	}
	return nil
}

func (c *ProtocolConfig) Options() control.Options {
	size, _ := utils.ParseSize(c.MaxFrameSize)
	return control.Options{
		MaxFrameSize: uint32(size),
		ReadTimeout:  c.ReadTimeout,
	}
}

func (c *ProtocolConfig) Log() {
	log.Info("  protocol:")
	size, _ := utils.ParseSize(c.MaxFrameSize)
	log.Infof("    max_frame_size = %s", utils.HumanByteSize(size))
	log.Infof("    read_timeout = %v", c.ReadTimeout)
}

func (c *TracingConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "none"
	}
	if c.Exporter == "otlp" && c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
}

func (c *TracingConfig) Validate() error {
	switch c.Exporter {
	case "none", "stdout", "otlp":
		return nil
	}
	return fmt.Errorf("%w: tracing exporter %q", utils.ErrUnsupported, c.Exporter)
}

func (c *TracingConfig) Log() {
	log.Info("  tracing:")
	log.Infof("    exporter = %s", c.Exporter)
	if c.Exporter == "otlp" {
		log.Infof("    endpoint = %s", c.Endpoint)
	}
}
