package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. HIJAB_REDIS_ADDR.
const EnvPrefix = "HIJAB"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Load reads defaults, then the optional file at path, then the environment.
// Environment variables take precedence over values from the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-section requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required when tasks.store is %s", ErrInvalid, storeRedis)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", "")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "./logs/api.log")

	v.SetDefault("storage.upload_dir", "./uploads")
	v.SetDefault("storage.visualization_dir", "./output/visualizations")
	v.SetDefault("storage.cropped_dir", "./output/cropped")

	v.SetDefault("detector.cascade_path", "cascade/facefinder")
	v.SetDefault("detector.min_size", 20)
	v.SetDefault("detector.max_size", 2000)
	v.SetDefault("detector.shift_factor", 0.1)
	v.SetDefault("detector.scale_factor", 1.1)
	v.SetDefault("detector.iou_threshold", 0.2)
	v.SetDefault("detector.quality_at_95", 5.0)
	v.SetDefault("detector.confidence_threshold", 0.95)

	v.SetDefault("classifier.url", "https://hijab-model.onrender.com/predict")
	v.SetDefault("classifier.timeout", "60s")

	v.SetDefault("blur.radius", 25.0)

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("pipeline.visualize", true)

	v.SetDefault("tasks.store", storeMemory)
	v.SetDefault("tasks.retention", "1h")
	v.SetDefault("tasks.sweep_interval", "5m")
	v.SetDefault("tasks.evict_on_retrieval", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.dsn", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_audience", "")
}
