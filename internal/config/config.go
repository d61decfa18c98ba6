// Package config handles application configuration loading from YAML and environment variables.
package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	contextutils "skillmodel/internal/utils"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the environment variable pointing at the YAML config file
const ConfigFileEnv = "SKILLMODEL_CONFIG_FILE"

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Database configuration
	Database DatabaseConfig `json:"database" yaml:"database"`

	// OpenTelemetry Configuration
	OpenTelemetry OpenTelemetryConfig `json:"open_telemetry" yaml:"open_telemetry"`

	// Proficiency model tuning
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`

	// Node to metric taxonomy document
	Taxonomy TaxonomyConfig `json:"taxonomy" yaml:"taxonomy"`

	// External diagnosis service
	Diagnostics DiagnosticsConfig `json:"diagnostics" yaml:"diagnostics"`

	// Per-user serialization
	Locking LockingConfig `json:"locking" yaml:"locking"`

	// Background session processing
	Worker WorkerConfig `json:"worker" yaml:"worker"`

	// Internal fields
	IsTest bool `json:"is_test" yaml:"is_test"`
}

// ServerConfig represents the HTTP surface of the worker process
type ServerConfig struct {
	Port          string   `json:"port" yaml:"port"`
	AdminUsername string   `json:"admin_username" yaml:"admin_username"`
	AdminPassword string   `json:"admin_password" yaml:"admin_password"`
	Debug         bool     `json:"debug" yaml:"debug"`
	LogLevel      string   `json:"log_level" yaml:"log_level"`
	CORSOrigins   []string `json:"cors_origins" yaml:"cors_origins"`
}

// OpenTelemetryConfig holds all OpenTelemetry-related configuration
type OpenTelemetryConfig struct {
	Endpoint       string            `json:"endpoint" yaml:"endpoint"`               // Default: "localhost:4317"
	Protocol       string            `json:"protocol" yaml:"protocol"`               // "grpc" or "http", default: "grpc"
	Insecure       bool              `json:"insecure" yaml:"insecure"`               // Default: true (for localhost)
	Headers        map[string]string `json:"headers" yaml:"headers"`                 // For authenticated endpoints
	ServiceName    string            `json:"service_name" yaml:"service_name"`       // Default: "skillmodel-worker"
	ServiceVersion string            `json:"service_version" yaml:"service_version"` // From version package
	EnableTracing  bool              `json:"enable_tracing" yaml:"enable_tracing"`
	EnableMetrics  bool              `json:"enable_metrics" yaml:"enable_metrics"`
	EnableLogging  bool              `json:"enable_logging" yaml:"enable_logging"`
	SamplingRate   float64           `json:"sampling_rate" yaml:"sampling_rate" validate:"gte=0,lte=1"` // Default: 1.0 (100%)
	UseAutoSDK     bool              `json:"use_auto_sdk" yaml:"use_auto_sdk"`
	// ResourceAttributes are added to every exported span and metric, e.g. deployment.environment
	ResourceAttributes map[string]string `json:"resource_attributes" yaml:"resource_attributes"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `json:"url" yaml:"url"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// AnalysisConfig tunes the confidence-weighted proficiency update and the signal rollup
type AnalysisConfig struct {
	// ConfidenceThreshold is the cumulative attempt count at which confidence reaches 1.0
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold" validate:"gt=0"`
	// Alpha is the maximum learning weight applied to a session's surface score
	Alpha float64 `json:"alpha" yaml:"alpha" validate:"gt=0,lte=1"`
	// TrendDeltaThreshold is the change in points needed to call a trend improving or declining
	TrendDeltaThreshold float64 `json:"trend_delta_threshold" yaml:"trend_delta_threshold" validate:"gte=0"`
	// DefaultProficiency seeds dimensions the user has never been observed on
	DefaultProficiency float64 `json:"default_proficiency" yaml:"default_proficiency" validate:"gte=0,lte=100"`
	WeakLimit          int     `json:"weak_limit" yaml:"weak_limit" validate:"gte=1"`
	HardThreshold      float64 `json:"hard_threshold" yaml:"hard_threshold" validate:"gte=0,lte=100"`
	MediumThreshold    float64 `json:"medium_threshold" yaml:"medium_threshold" validate:"gte=0,lte=100,ltefield=HardThreshold"`
	// SkillMap maps core_metric keys to named skill score fields on the signal
	SkillMap map[string]string `json:"skill_map" yaml:"skill_map"`
}

// TaxonomyConfig points at the versioned node to metric document
type TaxonomyConfig struct {
	Path string `json:"path" yaml:"path"`
}

// DiagnosticsConfig configures the OpenAI-compatible diagnosis service
type DiagnosticsConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	BaseURL     string        `json:"base_url" yaml:"base_url" validate:"omitempty,url"`
	Model       string        `json:"model" yaml:"model"`
	APIKey      string        `json:"api_key" yaml:"api_key"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
}

// LockingConfig selects how concurrent sessions for one user are serialized
type LockingConfig struct {
	Backend       string        `json:"backend" yaml:"backend" validate:"omitempty,oneof=local postgres redis"`
	RedisAddr     string        `json:"redis_addr" yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `json:"redis_password" yaml:"redis_password"`
	RedisDB       int           `json:"redis_db" yaml:"redis_db" validate:"gte=0"`
	TTL           time.Duration `json:"ttl" yaml:"ttl" validate:"gte=0"`
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval" validate:"gte=0"`
}

// WorkerConfig configures the background session processor
type WorkerConfig struct {
	InstanceID      string        `json:"instance_id" yaml:"instance_id"`
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval" validate:"gte=0"`
	Concurrency     int           `json:"concurrency" yaml:"concurrency" validate:"gte=0,lte=64"`
	BatchSize       int           `json:"batch_size" yaml:"batch_size" validate:"gte=0"`
	ListenChannel   string        `json:"listen_channel" yaml:"listen_channel"`
	MaxHistory      int           `json:"max_history" yaml:"max_history" validate:"gte=0"`
	MaxActivityLogs int           `json:"max_activity_logs" yaml:"max_activity_logs" validate:"gte=0"`
	StartPaused     bool          `json:"start_paused" yaml:"start_paused"`
}

// NewConfig loads configuration from YAML file first, then overrides with environment variables
func NewConfig() (result0 *Config, err error) {
	config, err := loadConfigWithOverrides()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config: %w", err)
	}

	config.overrideFromEnv()
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyDefaults fills every unset tuning value with its documented default
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = DatabaseConnMaxLifetime
	}

	if c.OpenTelemetry.Protocol == "" {
		c.OpenTelemetry.Protocol = "grpc"
	}
	if c.OpenTelemetry.ServiceName == "" {
		c.OpenTelemetry.ServiceName = DefaultServiceName
	}
	if c.OpenTelemetry.EnableTracing && c.OpenTelemetry.SamplingRate == 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}

	a := &c.Analysis
	if a.ConfidenceThreshold == 0 {
		a.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if a.Alpha == 0 {
		a.Alpha = DefaultAlpha
	}
	if a.TrendDeltaThreshold == 0 {
		a.TrendDeltaThreshold = DefaultTrendDeltaThreshold
	}
	if a.DefaultProficiency == 0 {
		a.DefaultProficiency = DefaultNeutralProficiency
	}
	if a.WeakLimit == 0 {
		a.WeakLimit = DefaultWeakLimit
	}
	if a.HardThreshold == 0 {
		a.HardThreshold = DefaultHardThreshold
	}
	if a.MediumThreshold == 0 {
		a.MediumThreshold = DefaultMediumThreshold
	}
	if len(a.SkillMap) == 0 {
		a.SkillMap = DefaultSkillMap()
	}

	if c.Taxonomy.Path == "" {
		c.Taxonomy.Path = DefaultTaxonomyPath
	}

	if c.Diagnostics.Timeout == 0 {
		c.Diagnostics.Timeout = DiagnosticsTimeout
	}
	if c.Diagnostics.MaxTokens == 0 {
		c.Diagnostics.MaxTokens = DefaultDiagnosticsMaxTokens
	}
	if c.Diagnostics.MaxAttempts == 0 {
		c.Diagnostics.MaxAttempts = DefaultDiagnosticsMaxAttempts
	}

	if c.Locking.Backend == "" {
		c.Locking.Backend = LockBackendPostgres
	}
	if c.Locking.TTL == 0 {
		c.Locking.TTL = UserLockTTL
	}
	if c.Locking.RetryInterval == 0 {
		c.Locking.RetryInterval = UserLockRetryInterval
	}

	w := &c.Worker
	if w.PollInterval == 0 {
		w.PollInterval = WorkerCheckInterval
	}
	if w.Concurrency == 0 {
		w.Concurrency = DefaultWorkerConcurrency
	}
	if w.BatchSize == 0 {
		w.BatchSize = DefaultWorkerBatchSize
	}
	if w.ListenChannel == "" {
		w.ListenChannel = DefaultListenChannel
	}
	if w.MaxHistory == 0 {
		w.MaxHistory = DefaultMaxHistory
	}
	if w.MaxActivityLogs == 0 {
		w.MaxActivityLogs = DefaultMaxActivityLogs
	}
}

// Validate checks the struct tags on every section
func (c *Config) Validate() error {
	if err := contextutils.ValidateStruct(c); err != nil {
		return contextutils.WrapError(err, "invalid configuration")
	}
	return nil
}

// overrideFromEnv overrides config values with environment variables using reflection
func (c *Config) overrideFromEnv() {
	overrideStructFromEnv(c)
}

// overrideStructFromEnv recursively overrides struct fields with environment variables
func overrideStructFromEnv(v interface{}) {
	overrideStructFromEnvWithPrefix(v, "")
}

var durationType = reflect.TypeOf(time.Duration(0))

// overrideStructFromEnvWithPrefix recursively overrides struct fields with environment variables
func overrideStructFromEnvWithPrefix(v interface{}, prefix string) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		envKey := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
		if prefix != "" {
			envKey = prefix + "_" + envKey
		}

		// Durations accept "30s" style values as well as raw nanoseconds
		if field.Type() == durationType {
			if envVal := os.Getenv(envKey); envVal != "" {
				if d, err := time.ParseDuration(envVal); err == nil {
					field.SetInt(int64(d))
				} else if n, err := strconv.ParseInt(envVal, 10, 64); err == nil {
					field.SetInt(n)
				}
			}
			continue
		}

		switch field.Kind() {
		case reflect.String:
			if envVal := os.Getenv(envKey); envVal != "" {
				field.SetString(envVal)
			}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if intVal, err := strconv.ParseInt(envVal, 10, 64); err == nil {
					field.SetInt(intVal)
				}
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if uintVal, err := strconv.ParseUint(envVal, 10, 64); err == nil {
					field.SetUint(uintVal)
				}
			}
		case reflect.Float32, reflect.Float64:
			if envVal := os.Getenv(envKey); envVal != "" {
				if floatVal, err := strconv.ParseFloat(envVal, 64); err == nil {
					field.SetFloat(floatVal)
				}
			}
		case reflect.Bool:
			if envVal := os.Getenv(envKey); envVal != "" {
				if boolVal, err := strconv.ParseBool(envVal); err == nil {
					field.SetBool(boolVal)
				}
			}
		case reflect.Slice:
			if envVal := os.Getenv(envKey); envVal != "" {
				// Handle string slices (like CORS_ORIGINS)
				if field.Type().Elem().Kind() == reflect.String {
					slice := strings.Split(envVal, ",")
					field.Set(reflect.ValueOf(slice))
				}
			}
		case reflect.Struct:
			if field.CanAddr() {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Addr().Interface(), fieldPrefix)
			}
		case reflect.Ptr:
			if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
				fieldPrefix := strings.ToUpper(strings.ReplaceAll(yamlTag, "-", "_"))
				if prefix != "" {
					fieldPrefix = prefix + "_" + fieldPrefix
				}
				overrideStructFromEnvWithPrefix(field.Interface(), fieldPrefix)
			}
		}
	}
}

// loadConfigWithOverrides loads the config file named by SKILLMODEL_CONFIG_FILE, else config.yaml
func loadConfigWithOverrides() (result0 *Config, err error) {
	if envPath := os.Getenv(ConfigFileEnv); envPath != "" {
		config, err := loadConfigFromFile(envPath)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to load config from %s: %w", envPath, err)
		}
		return config, nil
	}

	return loadConfigFromFile("config.yaml")
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (result0 *Config, err error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
