package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/accelerator/pkg/errors"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	PhysicalIO PhysicalIOConfig `yaml:"physical_io"`
	LogicalIO  LogicalIOConfig  `yaml:"logical_io"`
	S3         S3Config         `yaml:"s3"`
	Cache      CacheConfig      `yaml:"cache"`
	Workers    WorkersConfig    `yaml:"workers"`
	Prefetch   PrefetchConfig   `yaml:"prefetch"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// GlobalConfig represents process-wide settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// PhysicalIOConfig holds the knobs of the block layer.
type PhysicalIOConfig struct {
	BlobStoreCapacity       int           `yaml:"blob_store_capacity"`
	MetadataStoreCapacity   int           `yaml:"metadata_store_capacity"`
	BlockSize               ByteSize      `yaml:"block_size"`
	ReadAhead               ByteSize      `yaml:"read_ahead"`
	MaxRangeSize            ByteSize      `yaml:"max_range_size"`
	PartSize                ByteSize      `yaml:"part_size"`
	SequentialPrefetchBase  float64       `yaml:"sequential_prefetch_base"`
	SequentialPrefetchSpeed float64       `yaml:"sequential_prefetch_speed"`
	BlockReadTimeout        time.Duration `yaml:"block_read_timeout"`
	BlockReadRetryCount     int           `yaml:"block_read_retry_count"`

	// EnableTailMetadataCaching routes footer ranges through the external cache.
	EnableTailMetadataCaching bool   `yaml:"cache_enabled"`
	CacheEndpoint             string `yaml:"cache_endpoint"`
	// EnableCacheFlush empties the external cache when the factory closes.
	EnableCacheFlush bool `yaml:"cache_flush"`
}

// LogicalIOConfig controls format-aware prefetching.
type LogicalIOConfig struct {
	FooterPrefetchEnabled          bool     `yaml:"footer_prefetch_enabled"`
	FooterCachingSize              ByteSize `yaml:"footer_caching_size"`
	PageIndexCachingSize           ByteSize `yaml:"page_index_caching_size"`
	SmallObjectsPrefetchingEnabled bool     `yaml:"small_objects_prefetching_enabled"`
	SmallObjectSizeThreshold       ByteSize `yaml:"small_object_size_threshold"`
	ParquetSuffixes                []string `yaml:"parquet_suffixes"`
}

// S3Config represents the object store client settings
type S3Config struct {
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	SessionToken    string        `yaml:"session_token"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	MaxRetries      int           `yaml:"max_retries"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// CacheConfig represents the external cache client settings. The endpoint
// and on/off switch live in PhysicalIOConfig.
type CacheConfig struct {
	// Backend is "valkey" for the cluster cache or "memory" for an in-process LRU.
	Backend        string               `yaml:"backend"`
	Port           int                  `yaml:"port"`
	TLS            bool                 `yaml:"tls"`
	MaxAttempts    int                  `yaml:"max_attempts"`
	PoolSize       int                  `yaml:"pool_size"`
	MinIdleConns   int                  `yaml:"min_idle_conns"`
	DialTimeout    time.Duration        `yaml:"dial_timeout"`
	RequestTimeout time.Duration        `yaml:"request_timeout"`
	TTL            time.Duration        `yaml:"ttl"`
	MemoryMaxSize  ByteSize             `yaml:"memory_max_size"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// WorkersConfig sizes the shared fetch pool used on the cache path.
type WorkersConfig struct {
	PoolSize  int `yaml:"pool_size"`
	QueueSize int `yaml:"queue_size"`
}

// PrefetchConfig points at the remote column prefetching server.
type PrefetchConfig struct {
	ServerURL string        `yaml:"server_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			MetricsPort: 9464,
		},
		PhysicalIO: DefaultPhysicalIO(),
		LogicalIO: LogicalIOConfig{
			FooterPrefetchEnabled:          true,
			FooterCachingSize:              1 * MiB,
			PageIndexCachingSize:           0,
			SmallObjectsPrefetchingEnabled: true,
			SmallObjectSizeThreshold:       3 * MiB,
			ParquetSuffixes:                []string{".parquet", ".par"},
		},
		S3: S3Config{
			Region:         "us-east-1",
			MaxRetries:     3,
			RequestTimeout: 60 * time.Second,
		},
		Cache: CacheConfig{
			Backend:        "valkey",
			Port:           6379,
			TLS:            true,
			MaxAttempts:    5,
			PoolSize:       32,
			MinIdleConns:   16,
			DialTimeout:    5 * time.Second,
			RequestTimeout: 2 * time.Second,
			TTL:            time.Hour,
			MemoryMaxSize:  256 * MiB,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Workers: WorkersConfig{
			PoolSize:  32,
			QueueSize: 1024,
		},
		Prefetch: PrefetchConfig{
			Timeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "accelerator",
			Path:      "/metrics",
		},
	}
}

// DefaultPhysicalIO returns the block layer defaults.
func DefaultPhysicalIO() PhysicalIOConfig {
	return PhysicalIOConfig{
		BlobStoreCapacity:       50,
		MetadataStoreCapacity:   50,
		BlockSize:               8 * MiB,
		ReadAhead:               64 * KiB,
		MaxRangeSize:            8 * MiB,
		PartSize:                8 * MiB,
		SequentialPrefetchBase:  2.0,
		SequentialPrefetchSpeed: 1.0,
		BlockReadTimeout:        30 * time.Second,
		BlockReadRetryCount:     20,
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").WithCause(err)
	}

	return nil
}

// LoadFromEnv loads configuration from ACCELERATOR_* environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("ACCELERATOR_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = strings.ToUpper(val)
	}
	if val := os.Getenv("ACCELERATOR_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("ACCELERATOR_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}

	if val := os.Getenv("ACCELERATOR_S3_REGION"); val != "" {
		c.S3.Region = val
	}
	if val := os.Getenv("ACCELERATOR_S3_ENDPOINT"); val != "" {
		c.S3.Endpoint = val
	}
	if val := os.Getenv("ACCELERATOR_S3_FORCE_PATH_STYLE"); val != "" {
		c.S3.ForcePathStyle = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("ACCELERATOR_PREFETCH_SERVER_URL"); val != "" {
		c.Prefetch.ServerURL = val
	}

	// Block layer settings use the same keys as ApplyProperties, upper-cased
	// with dots replaced by underscores.
	props := make(map[string]string)
	for _, key := range PhysicalIOKeys() {
		env := "ACCELERATOR_PHYSICALIO_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if val := os.Getenv(env); val != "" {
			props[key] = val
		}
	}
	return c.PhysicalIO.ApplyProperties(props)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Global.LogFormat != "text" && c.Global.LogFormat != "json" {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if err := c.PhysicalIO.Validate(); err != nil {
		return err
	}

	if c.LogicalIO.FooterCachingSize <= 0 {
		return invalid("footer_caching_size must be greater than 0")
	}
	if c.LogicalIO.PageIndexCachingSize < 0 {
		return invalid("page_index_caching_size must not be negative")
	}

	if c.PhysicalIO.EnableTailMetadataCaching {
		switch c.Cache.Backend {
		case "valkey", "memory":
		default:
			return invalid("invalid cache backend: %s (must be valkey or memory)", c.Cache.Backend)
		}
		if c.Cache.PoolSize <= 0 {
			return invalid("cache pool_size must be greater than 0")
		}
		if c.Workers.PoolSize <= 0 {
			return invalid("workers pool_size must be greater than 0")
		}
		if c.Workers.QueueSize < 0 {
			return invalid("workers queue_size must not be negative")
		}
	}

	return nil
}

// Validate checks that every size, count and timeout is positive and that an
// endpoint is present exactly when caching is on.
func (p *PhysicalIOConfig) Validate() error {
	positives := []struct {
		name  string
		value int64
	}{
		{"blob_store_capacity", int64(p.BlobStoreCapacity)},
		{"metadata_store_capacity", int64(p.MetadataStoreCapacity)},
		{"block_size", int64(p.BlockSize)},
		{"read_ahead", int64(p.ReadAhead)},
		{"max_range_size", int64(p.MaxRangeSize)},
		{"part_size", int64(p.PartSize)},
		{"block_read_timeout", int64(p.BlockReadTimeout)},
		{"block_read_retry_count", int64(p.BlockReadRetryCount)},
	}
	for _, v := range positives {
		if v.value <= 0 {
			return invalid("%s must be greater than 0", v.name)
		}
	}
	if p.SequentialPrefetchBase < 1 {
		return invalid("sequential_prefetch_base must be at least 1")
	}
	if p.SequentialPrefetchSpeed <= 0 {
		return invalid("sequential_prefetch_speed must be greater than 0")
	}
	if p.EnableTailMetadataCaching && strings.TrimSpace(p.CacheEndpoint) == "" {
		return invalid("cache_endpoint is required when caching is enabled")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCodeInvalidConfig, format, args...).WithComponent("config")
}
