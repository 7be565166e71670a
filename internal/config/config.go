// Package config loads service settings from defaults, an optional file and HIJAB_*
// environment variables.
package config

import (
	"time"

	"github.com/example/hijab-blur/internal/detector"
	"github.com/example/hijab-blur/internal/pipeline"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Blur       BlurConfig       `mapstructure:"blur"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
}

// ServerConfig contains the listeners and request limits.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

// StorageConfig names the artifact directories.
type StorageConfig struct {
	UploadDir        string `mapstructure:"upload_dir" validate:"required"`
	VisualizationDir string `mapstructure:"visualization_dir" validate:"required"`
	CroppedDir       string `mapstructure:"cropped_dir" validate:"required"`
}

// DetectorConfig tunes the pigo cascade and the confidence filter.
type DetectorConfig struct {
	CascadePath         string  `mapstructure:"cascade_path" validate:"required"`
	MinSize             int     `mapstructure:"min_size" validate:"gt=0"`
	MaxSize             int     `mapstructure:"max_size" validate:"gtefield=MinSize"`
	ShiftFactor         float64 `mapstructure:"shift_factor" validate:"gt=0,lte=1"`
	ScaleFactor         float64 `mapstructure:"scale_factor" validate:"gt=1"`
	IoUThreshold        float64 `mapstructure:"iou_threshold" validate:"gt=0,lte=1"`
	QualityAt95         float64 `mapstructure:"quality_at_95" validate:"gt=0"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
}

// ClassifierConfig points at the remote hijab model.
type ClassifierConfig struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// BlurConfig sets the Gaussian sigma.
type BlurConfig struct {
	Radius float64 `mapstructure:"radius" validate:"gt=0"`
}

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	Workers   int  `mapstructure:"workers" validate:"gt=0"`
	QueueSize int  `mapstructure:"queue_size" validate:"gt=0"`
	Visualize bool `mapstructure:"visualize"`
}

// TasksConfig selects the task store and its lifecycle.
type TasksConfig struct {
	Store            string        `mapstructure:"store" validate:"oneof=memory redis"`
	Retention        time.Duration `mapstructure:"retention" validate:"gte=0"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
	EvictOnRetrieval bool          `mapstructure:"evict_on_retrieval"`
}

// RedisConfig is required when tasks.store is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// DatabaseConfig enables the audit log when DSN is set.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// AuthConfig enables JWT authentication when JWTSecret is set.
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	JWTAudience string `mapstructure:"jwt_audience"`
}

// PigoConfig converts the detector settings.
func (c DetectorConfig) PigoConfig() detector.PigoConfig {
	return detector.PigoConfig{
		CascadePath:  c.CascadePath,
		MinSize:      c.MinSize,
		MaxSize:      c.MaxSize,
		ShiftFactor:  c.ShiftFactor,
		ScaleFactor:  c.ScaleFactor,
		IoUThreshold: c.IoUThreshold,
		QualityAt95:  c.QualityAt95,
	}
}

// PipelineConfig builds the pipeline settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		ConfidenceThreshold: c.Detector.ConfidenceThreshold,
		BlurRadius:          c.Blur.Radius,
		Visualize:           c.Pipeline.Visualize,
	}
}

// UsesRedis reports whether tasks live in Redis.
func (c *Config) UsesRedis() bool {
	return c.Tasks.Store == storeRedis
}

const (
	storeMemory = "memory"
	storeRedis  = "redis"
)
