// Package s3 reads object feeds from AWS S3 and S3-compatible stores.
package s3

// Config selects a bucket and how to reach it.
//
// Credentials resolve through the AWS SDK v2 default chain (environment,
// shared config/credentials with Profile, instance or task roles) unless
// AccessKeyID and SecretAccessKey are both set.
//
// When Endpoint is empty and no region is resolved, us-east-1 is used.
// S3-compatible stores (MinIO, Wasabi) set Endpoint and usually
// ForcePathStyle, and get no default region.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool

	// MaxKeys is the default list page size, clamped to MaxAllowedKeys.
	MaxKeys int
}

const (
	DefaultMaxKeys   = 1000
	MaxAllowedKeys   = 1000
	DefaultAWSRegion = "us-east-1"
)

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
