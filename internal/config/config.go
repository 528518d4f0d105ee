// Package config resolves capsulecheck settings from flags, environment
// variables (CAPSULECHECK_*) and an optional YAML config file, in that order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/capsulecheck/internal/publish"
	"github.com/roach88/capsulecheck/internal/witness"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CAPSULECHECK"

// Setting keys. Nested keys map to env vars with dots and dashes replaced by
// underscores: publish.access-key is CAPSULECHECK_PUBLISH_ACCESS_KEY.
const (
	KeyConcurrency      = "concurrency"
	KeyGraceMS          = "grace-ms"
	KeyMaxOutputBytes   = "max-output-bytes"
	KeyDefaultTimeoutMS = "default-timeout-ms"
	KeyDB               = "db"
	KeyKey              = "key"
	KeyKeyID            = "key-id"
	KeyPub              = "pub"
	KeyOutDir           = "out-dir"
	KeySandbox          = "sandbox"
	KeyPublishEndpoint  = "publish.endpoint"
	KeyPublishBucket    = "publish.bucket"
	KeyPublishAccessKey = "publish.access-key"
	KeyPublishSecretKey = "publish.secret-key"
	KeyPublishRegion    = "publish.region"
	KeyPublishSSL       = "publish.ssl"
	KeyPublishPrefix    = "publish.prefix"
)

var settingKeys = map[string]bool{
	KeyConcurrency: true, KeyGraceMS: true, KeyMaxOutputBytes: true, KeyDefaultTimeoutMS: true,
	KeyDB: true, KeyKey: true, KeyKeyID: true, KeyPub: true, KeyOutDir: true, KeySandbox: true,
	KeyPublishEndpoint: true, KeyPublishBucket: true, KeyPublishAccessKey: true,
	KeyPublishSecretKey: true, KeyPublishRegion: true, KeyPublishSSL: true, KeyPublishPrefix: true,
}

// Config is the resolved runtime configuration.
type Config struct {
	Concurrency    int
	GracePeriod    time.Duration
	MaxOutputBytes int
	DefaultTimeout time.Duration

	// DB is the run ledger path. Empty disables the ledger.
	DB string

	Key    string
	KeyID  string
	Pub    string
	OutDir string

	// Sandbox is an argv prefix every check is launched through.
	Sandbox []string

	Publish publish.Config
}

// New returns a viper instance with capsulecheck defaults and environment
// binding. Each command tree gets its own instance so tests stay isolated.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyConcurrency, 0)
	v.SetDefault(KeyGraceMS, witness.DefaultGracePeriod.Milliseconds())
	v.SetDefault(KeyMaxOutputBytes, witness.DefaultMaxOutputBytes)
	v.SetDefault(KeyDefaultTimeoutMS, witness.DefaultTimeout.Milliseconds())
	v.SetDefault(KeyOutDir, ".")
	v.SetDefault(KeyPublishRegion, "us-east-1")
	v.SetDefault(KeyPublishSSL, true)
	v.SetDefault(KeyPublishPrefix, publish.DefaultPrefix)
	return v
}

// BindFlags binds every flag in fs whose name is a setting key.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || !settingKeys[f.Name] {
			return
		}
		if bindErr := v.BindPFlag(f.Name, f); bindErr != nil {
			err = fmt.Errorf("bind flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}

// Load reads the optional config file and resolves a validated Config.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{
		Concurrency:    v.GetInt(KeyConcurrency),
		GracePeriod:    time.Duration(v.GetInt64(KeyGraceMS)) * time.Millisecond,
		MaxOutputBytes: v.GetInt(KeyMaxOutputBytes),
		DefaultTimeout: time.Duration(v.GetInt64(KeyDefaultTimeoutMS)) * time.Millisecond,
		DB:             v.GetString(KeyDB),
		Key:            v.GetString(KeyKey),
		KeyID:          v.GetString(KeyKeyID),
		Pub:            v.GetString(KeyPub),
		OutDir:         v.GetString(KeyOutDir),
		Sandbox:        strings.Fields(v.GetString(KeySandbox)),
		Publish: publish.Config{
			Endpoint:  v.GetString(KeyPublishEndpoint),
			Bucket:    v.GetString(KeyPublishBucket),
			AccessKey: v.GetString(KeyPublishAccessKey),
			SecretKey: v.GetString(KeyPublishSecretKey),
			Region:    v.GetString(KeyPublishRegion),
			UseSSL:    v.GetBool(KeyPublishSSL),
			Prefix:    v.GetString(KeyPublishPrefix),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures numeric settings are in range.
func (c *Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("config.concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("config.grace-ms must not be negative")
	}
	if c.MaxOutputBytes < 0 {
		return fmt.Errorf("config.max-output-bytes must not be negative")
	}
	if c.DefaultTimeout <= 0 {
		return errors.New("config.default-timeout-ms must be positive")
	}
	return nil
}

// Runner builds a check runner from the resolved settings.
func (c *Config) Runner() *witness.Runner {
	return &witness.Runner{
		DefaultTimeout: c.DefaultTimeout,
		GracePeriod:    c.GracePeriod,
		MaxOutputBytes: c.MaxOutputBytes,
		Wrapper:        c.Sandbox,
	}
}
