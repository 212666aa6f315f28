package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Codec    CodecConfig    `mapstructure:"codec"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
}

type PipelineConfig struct {
	Capacity       int    `mapstructure:"capacity"`
	Workers        int    `mapstructure:"workers"`
	Policy         string `mapstructure:"policy"`
	PushTimeoutMs  int    `mapstructure:"push_timeout_ms"`
	AwaitTimeoutMs int    `mapstructure:"await_timeout_ms"`
	CommitRetries  int    `mapstructure:"commit_retries"`
	RetryBackoffMs int    `mapstructure:"retry_backoff_ms"`
	Shutdown       string `mapstructure:"shutdown"`
}

// CodecConfig fixes the deployment constants the strand format depends on.
// Strands are only interoperable between deployments with identical values.
type CodecConfig struct {
	DigestLength  int `mapstructure:"digest_length"`
	ChecksumWidth int `mapstructure:"checksum_width"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("strandpipe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.capacity", 1024)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.policy", "backpressure")
	v.SetDefault("pipeline.await_timeout_ms", 5000)
	v.SetDefault("pipeline.commit_retries", 3)
	v.SetDefault("pipeline.retry_backoff_ms", 50)
	v.SetDefault("pipeline.shutdown", "drain")
	v.SetDefault("codec.digest_length", 32)
	v.SetDefault("codec.checksum_width", 4)
	v.SetDefault("store.path", "strandpipe.db")
	v.SetDefault("log.level", "info")
}

func (c Config) Validate() error {
	if c.Pipeline.Capacity <= 0 {
		return fmt.Errorf("pipeline.capacity must be positive, got %d", c.Pipeline.Capacity)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	switch c.Pipeline.Policy {
	case "backpressure", "overwrite_oldest":
	default:
		return fmt.Errorf("pipeline.policy must be backpressure or overwrite_oldest, got %q", c.Pipeline.Policy)
	}
	switch c.Pipeline.Shutdown {
	case "drain", "discard":
	default:
		return fmt.Errorf("pipeline.shutdown must be drain or discard, got %q", c.Pipeline.Shutdown)
	}
	if c.Pipeline.PushTimeoutMs < 0 {
		return fmt.Errorf("pipeline.push_timeout_ms must not be negative")
	}
	if c.Codec.DigestLength <= 0 {
		return fmt.Errorf("codec.digest_length must be positive, got %d", c.Codec.DigestLength)
	}
	if c.Codec.ChecksumWidth <= 0 {
		return fmt.Errorf("codec.checksum_width must be positive, got %d", c.Codec.ChecksumWidth)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}
