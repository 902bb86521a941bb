package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig is the environment surface read by cleanenv. Fields start out
// holding the current configuration, so unset or empty variables keep it.
type envConfig struct {
	Port        string `env:"PORT"`
	Environment string `env:"ENVIRONMENT"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBSchema    string `env:"DB_SCHEMA"`

	StorageURL      string `env:"STORAGE_URL"`
	S3Endpoint      string `env:"AWS_S3_ENDPOINT"`
	S3Region        string `env:"AWS_S3_REGION"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	KeyPrefix             string   `env:"UPLOAD_KEY_PREFIX"`
	AllowedContentTypes   []string `env:"UPLOAD_ALLOWED_CONTENT_TYPES" env-separator:","`
	AllowedExtensions     []string `env:"UPLOAD_ALLOWED_EXTENSIONS" env-separator:","`
	DeleteBlobOnTerminate bool     `env:"UPLOAD_DELETE_BLOB_ON_TERMINATE"`

	APIKeySHA256       string   `env:"API_KEY_SHA256"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:","`
}

// WithEnv applies environment variable overrides.
//
//	PORT, ENVIRONMENT           server
//	DATABASE_URL                "memory" (default) or "postgres://..."
//	DB_SCHEMA                   Postgres schema for the ledger tables
//	STORAGE_URL                 "memory://" (default), "file:///path" or
//	                            "s3://bucket?region=..&endpoint=..&path_style=true"
//	AWS_S3_ENDPOINT, AWS_S3_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY
//	UPLOAD_KEY_PREFIX, UPLOAD_ALLOWED_CONTENT_TYPES, UPLOAD_ALLOWED_EXTENSIONS,
//	UPLOAD_DELETE_BLOB_ON_TERMINATE
//	API_KEY_SHA256, CORS_ALLOWED_ORIGINS
func WithEnv() Option {
	return func(c *ServerConfig) error {
		return applyEnv(c, cleanenv.ReadEnv)
	}
}

// WithDotEnv reads the same variables from a .env file. Values in the file
// are exported to the process environment first, so they win over it.
func WithDotEnv(path string) Option {
	return func(c *ServerConfig) error {
		return applyEnv(c, func(cfg interface{}) error {
			return cleanenv.ReadConfig(path, cfg)
		})
	}
}

func applyEnv(c *ServerConfig, read func(cfg interface{}) error) error {
	env := envConfig{
		Port:                  c.Port,
		Environment:           c.Environment,
		DatabaseURL:           c.DatabaseURL,
		DBSchema:              c.DBSchema,
		S3Endpoint:            getString(c.Storage.Config, "endpoint", ""),
		S3Region:              getString(c.Storage.Config, "region", ""),
		AccessKeyID:           getString(c.Storage.Config, "access_key_id", ""),
		SecretAccessKey:       getString(c.Storage.Config, "secret_access_key", ""),
		KeyPrefix:             c.Upload.KeyPrefix,
		AllowedContentTypes:   c.Upload.AllowedContentTypes,
		AllowedExtensions:     c.Upload.AllowedExtensions,
		DeleteBlobOnTerminate: c.Upload.DeleteBlobOnTerminate,
		APIKeySHA256:          c.APIKeySHA256,
		CORSAllowedOrigins:    c.CORSAllowedOrigins,
	}
	if err := read(&env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	c.Port = firstNonEmpty(env.Port, c.Port)
	c.Environment = firstNonEmpty(env.Environment, c.Environment)
	c.DBSchema = firstNonEmpty(env.DBSchema, c.DBSchema)
	c.Upload.KeyPrefix = firstNonEmpty(env.KeyPrefix, c.Upload.KeyPrefix)
	c.Upload.AllowedContentTypes = nonEmptyList(env.AllowedContentTypes, c.Upload.AllowedContentTypes)
	c.Upload.AllowedExtensions = nonEmptyList(env.AllowedExtensions, c.Upload.AllowedExtensions)
	c.Upload.DeleteBlobOnTerminate = env.DeleteBlobOnTerminate
	c.APIKeySHA256 = firstNonEmpty(env.APIKeySHA256, c.APIKeySHA256)
	c.CORSAllowedOrigins = nonEmptyList(env.CORSAllowedOrigins, c.CORSAllowedOrigins)

	if err := applyDatabaseURL(c, env.DatabaseURL); err != nil {
		return err
	}
	if env.StorageURL != "" {
		if err := applyStorageURL(c, env); err != nil {
			return err
		}
	}
	return nil
}

// applyDatabaseURL picks the repository from the URL scheme
func applyDatabaseURL(c *ServerConfig, dbURL string) error {
	switch {
	case dbURL == "" || dbURL == "memory":
		c.DatabaseType = "memory"
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = dbURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgres://...')", dbURL)
	}
	return nil
}

// applyStorageURL picks the blob store from the URL scheme
func applyStorageURL(c *ServerConfig, env envConfig) error {
	if env.StorageURL == "memory" || env.StorageURL == "memory://" {
		c.Storage = StorageBackendConfig{Type: "memory", Config: map[string]interface{}{}}
		return nil
	}

	if path, ok := strings.CutPrefix(env.StorageURL, "file://"); ok {
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		c.Storage = StorageBackendConfig{Type: "fs", Config: map[string]interface{}{"base_dir": path}}
		return nil
	}

	u, err := url.Parse(env.StorageURL)
	if err != nil || u.Scheme != "s3" {
		return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", env.StorageURL)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	query := u.Query()
	backend := StorageBackendConfig{
		Type: "s3",
		Config: map[string]interface{}{
			"bucket":            u.Host,
			"region":            firstNonEmpty(query.Get("region"), env.S3Region, "us-east-1"),
			"endpoint":          firstNonEmpty(query.Get("endpoint"), env.S3Endpoint),
			"access_key_id":     env.AccessKeyID,
			"secret_access_key": env.SecretAccessKey,
		},
	}
	if v := query.Get("path_style"); v != "" {
		backend.Config["use_path_style"] = v
	} else if backend.Config["endpoint"] != "" {
		// S3-compatible endpoints such as MinIO need path-style addressing.
		backend.Config["use_path_style"] = true
	}
	if v := query.Get("create_bucket"); v != "" {
		backend.Config["create_bucket_if_not_exist"] = v
	}

	c.Storage = backend
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// nonEmptyList trims values and falls back when nothing is left.
func nonEmptyList(values, fallback []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
