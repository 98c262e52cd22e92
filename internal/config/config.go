package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of a trace run.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Endpoint EndpointConfig `mapstructure:"endpoint" yaml:"endpoint"`
	Target   TargetConfig   `mapstructure:"target" yaml:"target"`
	Trace    TraceConfig    `mapstructure:"trace" yaml:"trace"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// EndpointConfig locates the browser's remote-debugging HTTP endpoint.
type EndpointConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	ListPath string        `mapstructure:"list_path" yaml:"list_path"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ListURL is the address of the target listing.
func (e EndpointConfig) ListURL() string {
	return fmt.Sprintf("http://%s:%d%s", e.Host, e.Port, e.ListPath)
}

// TargetConfig selects the page target out of the listing.
type TargetConfig struct {
	URLMarker   string `mapstructure:"url_marker" yaml:"url_marker"`
	TitleMarker string `mapstructure:"title_marker" yaml:"title_marker"`
}

// TraceConfig drives the per-context evaluation sequence.
type TraceConfig struct {
	PageMarker  string        `mapstructure:"page_marker" yaml:"page_marker"`
	TextMarkers []string      `mapstructure:"text_markers" yaml:"text_markers"`
	MaxDepth    int           `mapstructure:"max_depth" yaml:"max_depth"`
	TextLimit   int           `mapstructure:"text_limit" yaml:"text_limit"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// CallTimeout bounds a single protocol call. Zero waits forever.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every key with its default value. Registering the keys also lets
// AutomaticEnv overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "warn")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "domtrace")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", false)

	v.SetDefault("endpoint.host", "127.0.0.1")
	v.SetDefault("endpoint.port", 9000)
	v.SetDefault("endpoint.list_path", "/json/list")
	v.SetDefault("endpoint.timeout", "5s")

	v.SetDefault("target.url_marker", "workbench.html")
	v.SetDefault("target.title_marker", "workbench")

	v.SetDefault("trace.page_marker", "cascade-panel.html")
	v.SetDefault("trace.text_markers", []string{"Review Changes", "Files With Changes"})
	v.SetDefault("trace.max_depth", 5)
	v.SetDefault("trace.text_limit", 30)
	v.SetDefault("trace.settle_delay", "1s")
	v.SetDefault("trace.call_timeout", "0s")
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Endpoint.Host == "" {
		return fmt.Errorf("endpoint.host is required")
	}
	if c.Endpoint.Port <= 0 || c.Endpoint.Port > 65535 {
		return fmt.Errorf("endpoint.port must be between 1 and 65535")
	}
	if c.Endpoint.Timeout <= 0 {
		return fmt.Errorf("endpoint.timeout must be a positive duration")
	}
	if c.Target.URLMarker == "" && c.Target.TitleMarker == "" {
		return fmt.Errorf("target.url_marker or target.title_marker must be set")
	}
	if err := c.Trace.Validate(); err != nil {
		return fmt.Errorf("trace configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the TraceConfig settings.
func (t *TraceConfig) Validate() error {
	if t.PageMarker == "" {
		return fmt.Errorf("page_marker is required")
	}
	if len(t.TextMarkers) == 0 {
		return fmt.Errorf("text_markers must not be empty")
	}
	if t.MaxDepth <= 0 {
		return fmt.Errorf("max_depth must be a positive integer")
	}
	if t.TextLimit <= 0 {
		return fmt.Errorf("text_limit must be a positive integer")
	}
	if t.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	if t.CallTimeout < 0 {
		return fmt.Errorf("call_timeout must not be negative")
	}
	return nil
}
