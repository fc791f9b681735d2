package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SprayCell Core.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Logging   LoggingConfig   `yaml:"logging"`
	Broker    BrokerConfig    `yaml:"broker"`
	Tags      TagsConfig      `yaml:"tags"`
	State     StateConfig     `yaml:"state"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SiteConfig identifies the process cell this core instance runs.
type SiteConfig struct {
	ID   string `yaml:"id" validate:"required"`
	Name string `yaml:"name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout stderr"`
}

// BrokerConfig contains in-process message broker settings.
type BrokerConfig struct {
	// QueueSize is the per-subscription delivery queue bound.
	QueueSize int `yaml:"queue_size" validate:"min=1"`

	// RequestTimeout is the default reply wait for bus request handlers
	// that do not carry their own deadline.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// TagsConfig contains tag registry and poll cycle settings.
type TagsConfig struct {
	// File is the path to the tag definitions YAML.
	File string `yaml:"file" validate:"required"`

	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout" validate:"gt=0"`
	StaleThreshold int           `yaml:"stale_threshold" validate:"min=1"`

	// FloatTolerance is the default absolute tolerance for float change detection.
	FloatTolerance float64 `yaml:"float_tolerance" validate:"gte=0"`

	// ConnectionTag optionally names a virtual bool tag that mirrors
	// aggregate adapter connectivity.
	ConnectionTag string `yaml:"connection_tag"`
}

// StateConfig contains state coordinator settings.
type StateConfig struct {
	// File is the path to the transition table YAML.
	File string `yaml:"file" validate:"required"`

	HistorySize int `yaml:"history_size" validate:"min=1"`

	// ForcePolicy is "edge_only" or "override".
	ForcePolicy string `yaml:"force_policy" validate:"oneof=edge_only override"`

	// Watch reloads the transition table when the file changes.
	Watch bool `yaml:"watch"`
}

// HardwareConfig lists the hardware adapters tags can be bound to.
type HardwareConfig struct {
	Adapters []AdapterConfig `yaml:"adapters" validate:"dive"`
}

// AdapterConfig configures a single hardware adapter.
type AdapterConfig struct {
	Name      string                 `yaml:"name" validate:"required"`
	Type      string                 `yaml:"type" validate:"oneof=simulated mqtt"`
	Simulated SimulatedAdapterConfig `yaml:"simulated"`
}

// SimulatedAdapterConfig configures the simulated hardware adapter.
type SimulatedAdapterConfig struct {
	Delay     time.Duration  `yaml:"delay" validate:"gte=0"`
	ErrorRate float64        `yaml:"error_rate" validate:"gte=0,lte=1"`
	Seed      int64          `yaml:"seed"`
	Values    map[string]any `yaml:"values"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos" validate:"min=0,max=2"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the first level of every SprayCell MQTT topic.
	TopicPrefix string `yaml:"topic_prefix"`

	// Mirror republishes broker events onto MQTT and accepts commands.
	Mirror bool `yaml:"mirror"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=0,max=65535"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" validate:"min=0"`

	// AuditRetention prunes transition_log rows older than this. Zero keeps everything.
	AuditRetention time.Duration `yaml:"audit_retention" validate:"gte=0"`
}

// APIConfig contains HTTP status server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port" validate:"min=0,max=65535"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket relay settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size" validate:"min=0"`
	PingInterval   int `yaml:"ping_interval" validate:"min=0"`
	PongTimeout    int `yaml:"pong_timeout" validate:"min=0"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name (e.g. spraycell_broker_published_total).
	Namespace string `yaml:"namespace" validate:"omitempty,alphanum"`
}

// Load builds a Config from defaults, then the YAML file at path, then
// SPRAYCELL_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig leaves every external service disabled.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "cell-001",
			Name: "SprayCell",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Broker: BrokerConfig{
			QueueSize:      256,
			RequestTimeout: 2 * time.Second,
		},
		Tags: TagsConfig{
			File:           "configs/tags.yaml",
			PollInterval:   200 * time.Millisecond,
			ReadTimeout:    500 * time.Millisecond,
			StaleThreshold: 3,
			FloatTolerance: 1e-6,
		},
		State: StateConfig{
			File:        "configs/states.yaml",
			HistorySize: 100,
			ForcePolicy: "edge_only",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "spraycell-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "spraycell",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Database: DatabaseConfig{
			Path:           "./data/spraycell.db",
			WALMode:        true,
			BusyTimeout:    5,
			AuditRetention: 90 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "spraycell",
		},
	}
}

// envOverrides maps SPRAYCELL_* variables onto config fields. Ports that
// do not parse are ignored.
var envOverrides = []struct {
	name  string
	apply func(c *Config, v string)
}{
	{"SPRAYCELL_SITE_ID", func(c *Config, v string) { c.Site.ID = v }},
	{"SPRAYCELL_LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"SPRAYCELL_TAGS_FILE", func(c *Config, v string) { c.Tags.File = v }},
	{"SPRAYCELL_STATE_FILE", func(c *Config, v string) { c.State.File = v }},
	{"SPRAYCELL_DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"SPRAYCELL_MQTT_HOST", func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{"SPRAYCELL_MQTT_PORT", func(c *Config, v string) { setPort(&c.MQTT.Broker.Port, v) }},
	{"SPRAYCELL_MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{"SPRAYCELL_MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{"SPRAYCELL_API_HOST", func(c *Config, v string) { c.API.Host = v }},
	{"SPRAYCELL_API_PORT", func(c *Config, v string) { setPort(&c.API.Port, v) }},
	{"SPRAYCELL_INFLUXDB_URL", func(c *Config, v string) { c.InfluxDB.URL = v }},
	{"SPRAYCELL_INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
}

func setPort(dst *int, v string) {
	if port, err := strconv.Atoi(v); err == nil {
		*dst = port
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			o.apply(cfg, v)
		}
	}
}

// validate reports field errors by their YAML key rather than the Go field name.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate applies the struct-tag rules, then the rules spanning several
// fields, and reports every failure in one error.
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("configuration errors: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, describeFieldError(fe))
		}
	}

	seen := make(map[string]bool, len(c.Hardware.Adapters))
	for _, a := range c.Hardware.Adapters {
		if seen[a.Name] {
			errs = append(errs, fmt.Sprintf("hardware.adapters: duplicate adapter name %q", a.Name))
		}
		seen[a.Name] = true
		if a.Type == "mqtt" && !c.MQTT.Enabled {
			errs = append(errs, fmt.Sprintf("hardware.adapters[%s]: mqtt adapter requires mqtt.enabled", a.Name))
		}
	}

	if c.MQTT.Mirror && !c.MQTT.Enabled {
		errs = append(errs, "mqtt.mirror requires mqtt.enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "/+#") {
		errs = append(errs, "mqtt.topic_prefix must be a single topic level without wildcards")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the audit database is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Tags.ReadTimeout > 0 && c.Tags.PollInterval > 0 && c.Tags.ReadTimeout > 10*c.Tags.PollInterval {
		errs = append(errs, "tags.read_timeout must not exceed ten poll intervals")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// describeFieldError renders a validator error using the YAML key path.
func describeFieldError(fe validator.FieldError) string {
	path := yamlPath(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", path, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", path, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", path, fe.Tag())
	}
}

// yamlPath drops the root struct name: "Config.tags.poll_interval" -> "tags.poll_interval".
func yamlPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

// ReadTimeout returns Read as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration { return time.Duration(t.Read) * time.Second }

// WriteTimeout returns Write as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration { return time.Duration(t.Write) * time.Second }

// IdleTimeout returns Idle as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration { return time.Duration(t.Idle) * time.Second }
