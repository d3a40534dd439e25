package options

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the S3-compatible archive for finalized flight records.
type S3Options struct {
	// Enabled turns flight-record archival on.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string `json:"region" mapstructure:"region"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Enabled:    false,
		Endpoint:   "localhost:9000",
		UseSSL:     false,
		BucketName: "flight-records",
		Region:     "us-east-1",
	}
}

func (o *S3Options) Validate() []error {
	errors := []error{}

	if !o.Enabled {
		return errors
	}

	switch {
	case o.Endpoint == "":
		errors = append(errors, fmt.Errorf("s3 endpoint is required when archival is enabled"))
	case strings.Contains(o.Endpoint, "://"):
		errors = append(errors, fmt.Errorf("invalid s3 endpoint %q: drop the scheme, TLS is controlled by s3.use-ssl", o.Endpoint))
	case strings.Contains(o.Endpoint, ":"):
		// Endpoints without a port (e.g. s3.amazonaws.com) are fine; with one,
		// the whole address must parse.
		if err := ValidateAddress(o.Endpoint); err != nil {
			errors = append(errors, err)
		}
	}

	if o.BucketName == "" {
		errors = append(errors, fmt.Errorf("s3 bucket name is required when archival is enabled"))
	}

	return errors
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "s3.enabled", o.Enabled, "Archive finalized flight records to S3-compatible storage")
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local)")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket name for flight record storage")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
}
