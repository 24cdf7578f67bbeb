package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/diagflow/internal/platform/env"
)

// Config addresses the result archive bucket. An empty Endpoint disables it.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("DIAGFLOW_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("DIAGFLOW_MINIO_ENDPOINT", ""),
		AccessKey: env.String("DIAGFLOW_MINIO_ACCESS_KEY", "diagflow"),
		SecretKey: env.String("DIAGFLOW_MINIO_SECRET_KEY", "diagflowminio"),
		Region:    env.String("DIAGFLOW_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("DIAGFLOW_MINIO_BUCKET", "workflow-results"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
