package main

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
)

const (
	providerS3  = "s3"
	providerAPI = "api"
)

// Secret is a string that is redacted when printed.
type Secret string

// String redacts the value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

type config struct {
	Provider string
	Files    []string
	Prefix   string

	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey Secret
	Endpoint        string
	UsePathStyle    bool
	ChecksumSHA256  bool

	APIURL   string
	APIToken Secret

	PartSize         string
	Concurrency      int
	Compress         bool
	CompressionLevel int
	ContentType      string

	StateDir    string
	RedisURL    string
	StateTTL    time.Duration
	MetricsFile string
	Verbose     bool

	partSize int64
}

// resolve fills unset options from the environment and validates them.
func (c *config) resolve(envRepo env.Repository) error {
	fallback := func(value *string, key string) {
		if *value == "" {
			*value = envRepo.Get(key)
		}
	}
	fallback(&c.Region, "AWS_REGION")
	fallback(&c.AccessKeyID, "AWS_ACCESS_KEY_ID")
	fallback((*string)(&c.SecretAccessKey), "AWS_SECRET_ACCESS_KEY")
	fallback(&c.APIURL, "MPU_API_URL")
	fallback((*string)(&c.APIToken), "MPU_API_TOKEN")
	fallback(&c.RedisURL, "MPU_REDIS_URL")

	if len(c.Files) == 0 {
		return fmt.Errorf("no file to upload, set --file")
	}

	switch c.Provider {
	case providerS3:
		if c.Bucket == "" {
			return fmt.Errorf("--bucket is required with the %s provider", providerS3)
		}
		if c.Region == "" {
			return fmt.Errorf("region is not defined, set --region or AWS_REGION")
		}
	case providerAPI:
		if c.APIURL == "" {
			return fmt.Errorf("API URL is not defined, set --api-url or MPU_API_URL")
		}
		if c.APIToken == "" {
			return fmt.Errorf("API token is not defined, set --api-token or MPU_API_TOKEN")
		}
	default:
		return fmt.Errorf("unknown provider %q, use %s or %s", c.Provider, providerS3, providerAPI)
	}

	if c.PartSize != "" {
		size, err := units.FromHumanSize(c.PartSize)
		if err != nil {
			return fmt.Errorf("invalid part size: %w", err)
		}
		if size <= 0 {
			return fmt.Errorf("invalid part size: %s", c.PartSize)
		}
		c.partSize = size
	}

	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.Compress && (c.CompressionLevel < 1 || c.CompressionLevel > 19) {
		return fmt.Errorf("compression level must be between 1 and 19, got %d", c.CompressionLevel)
	}

	return nil
}
