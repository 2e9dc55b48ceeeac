// Package config loads server configuration.
//
// Values are resolved in increasing precedence: built-in defaults, an optional
// YAML file (--config or FLUXCANVAS_CONFIG), environment variables, then flags
// given explicitly on the command line.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	BackendDynamo = "dynamo"
	BackendSQLite = "sqlite"
)

type Config struct {
	DevMode       bool   `yaml:"dev_mode"`
	ListenAddr    string `yaml:"listen_addr"`
	AllowedOrigin string `yaml:"allowed_origin"`

	// JWTSecret is base64 encoded.
	JWTSecret string `yaml:"jwt_secret"`

	StoreBackend     string `yaml:"store_backend"`
	DynamoDBEndpoint string `yaml:"dynamodb_endpoint"`
	DynamoDBTable    string `yaml:"dynamodb_table"`
	SQLitePath       string `yaml:"sqlite_path"`

	RedisEndpoint string `yaml:"redis_endpoint"`

	SQSEndpoint       string `yaml:"sqs_endpoint"`
	CleanupQueue      string `yaml:"cleanup_queue"`
	NotificationQueue string `yaml:"notification_queue"`

	UploadDir       string `yaml:"upload_dir"`
	UploadURLPrefix string `yaml:"upload_url_prefix"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`

	ViewFlushInterval   time.Duration `yaml:"view_flush_interval"`
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
}

func Default() *Config {
	return &Config{
		ListenAddr:          ":8080",
		StoreBackend:        BackendDynamo,
		DynamoDBTable:       "FluxCanvas",
		SQLitePath:          "data/fluxcanvas.db",
		CleanupQueue:        "CanvasCleanupQueue",
		NotificationQueue:   "CanvasNotificationsQueue",
		UploadDir:           "data/uploads",
		UploadURLPrefix:     "/uploads",
		MaxUploadBytes:      10 << 20,
		ViewFlushInterval:   2 * time.Second,
		ExpirySweepInterval: time.Minute,
	}
}

// Load builds the configuration from args (without the program name).
func Load(args []string) (*Config, error) {
	flagValues := Default()
	var configPath string

	flagSet := pflag.NewFlagSet("fluxcanvas", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("FLUXCANVAS_CONFIG"), "path to a YAML config file")
	flagSet.BoolVar(&flagValues.DevMode, "dev", flagValues.DevMode, "dev mode: local endpoints, dummy AWS credentials, dev token route")
	flagSet.StringVar(&flagValues.ListenAddr, "listen", flagValues.ListenAddr, "HTTP listen address")
	flagSet.StringVar(&flagValues.AllowedOrigin, "allowed-origin", flagValues.AllowedOrigin, "websocket origin to accept (empty accepts any)")
	flagSet.StringVar(&flagValues.StoreBackend, "store", flagValues.StoreBackend, "canvas store backend: dynamo or sqlite")
	flagSet.StringVar(&flagValues.DynamoDBTable, "dynamodb-table", flagValues.DynamoDBTable, "DynamoDB table name")
	flagSet.StringVar(&flagValues.SQLitePath, "sqlite-path", flagValues.SQLitePath, "SQLite database path")
	flagSet.StringVar(&flagValues.UploadDir, "upload-dir", flagValues.UploadDir, "directory for uploaded images")
	flagSet.Int64Var(&flagValues.MaxUploadBytes, "max-upload-bytes", flagValues.MaxUploadBytes, "largest accepted image upload")
	flagSet.DurationVar(&flagValues.ViewFlushInterval, "view-flush-interval", flagValues.ViewFlushInterval, "how often batched view counts are written")
	flagSet.DurationVar(&flagValues.ExpirySweepInterval, "expiry-sweep-interval", flagValues.ExpirySweepInterval, "how often expired canvases are marked")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if configPath != "" {
		if err := loadFile(cfg, configPath); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	flagSet.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "dev":
			cfg.DevMode = flagValues.DevMode
		case "listen":
			cfg.ListenAddr = flagValues.ListenAddr
		case "allowed-origin":
			cfg.AllowedOrigin = flagValues.AllowedOrigin
		case "store":
			cfg.StoreBackend = flagValues.StoreBackend
		case "dynamodb-table":
			cfg.DynamoDBTable = flagValues.DynamoDBTable
		case "sqlite-path":
			cfg.SQLitePath = flagValues.SQLitePath
		case "upload-dir":
			cfg.UploadDir = flagValues.UploadDir
		case "max-upload-bytes":
			cfg.MaxUploadBytes = flagValues.MaxUploadBytes
		case "view-flush-interval":
			cfg.ViewFlushInterval = flagValues.ViewFlushInterval
		case "expiry-sweep-interval":
			cfg.ExpirySweepInterval = flagValues.ExpirySweepInterval
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	stringVars := map[string]*string{
		"HOST_ADDR":          &cfg.ListenAddr,
		"ALLOWED_ORIGIN":     &cfg.AllowedOrigin,
		"JWT_SECRET":         &cfg.JWTSecret,
		"STORE_BACKEND":      &cfg.StoreBackend,
		"DYNAMODB_ENDPOINT":  &cfg.DynamoDBEndpoint,
		"DYNAMODB_TABLE":     &cfg.DynamoDBTable,
		"SQLITE_PATH":        &cfg.SQLitePath,
		"REDIS_ENDPOINT":     &cfg.RedisEndpoint,
		"SQS_ENDPOINT":       &cfg.SQSEndpoint,
		"CLEANUP_QUEUE":      &cfg.CleanupQueue,
		"NOTIFICATION_QUEUE": &cfg.NotificationQueue,
		"UPLOAD_DIR":         &cfg.UploadDir,
		"UPLOAD_URL_PREFIX":  &cfg.UploadURLPrefix,
	}
	for name, dest := range stringVars {
		if v, ok := os.LookupEnv(name); ok {
			*dest = v
		}
	}

	if v, ok := os.LookupEnv("DEV_MODE"); ok {
		cfg.DevMode = v == "true"
	}
	if v, ok := os.LookupEnv("HOST_PORT"); ok && v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		cfg.MaxUploadBytes = n
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendDynamo, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if c.ViewFlushInterval <= 0 || c.ExpirySweepInterval <= 0 {
		return errors.New("worker intervals must be positive")
	}
	if c.JWTSecret == "" && !c.DevMode {
		return errors.New("JWT_SECRET is required outside dev mode")
	}
	return nil
}

// JWTSecretBytes decodes the signing secret. Dev mode without a secret gets a fixed one.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" && c.DevMode {
		return []byte("fluxcanvas-dev-secret"), nil
	}
	secret, err := base64.StdEncoding.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decode base64 jwt secret: %w", err)
	}
	return secret, nil
}
