package cmd

import (
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/oneconcern/relstore/pkg/filestore"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	flagBaseDir       = "base-dir"
	flagListen        = "listen"
	flagRole          = "role"
	flagPrimaryURL    = "primary-url"
	flagLogLevel      = "log-level"
	flagBlobBackend   = "blob-backend"
	flagS3Bucket      = "s3-bucket"
	flagS3Prefix      = "s3-prefix"
	flagS3Region      = "s3-region"
	flagS3Endpoint    = "s3-endpoint"
	flagMaxUpload     = "max-upload-size"
	flagChangelogPoll = "changelog-poll"
	flagFetchTimeout  = "fetch-timeout"
	flagFetchRate     = "fetch-rate"
	flagFetchBurst    = "fetch-burst"
	flagMirrorUser    = "mirror-user"
	flagMirrorIndex   = "mirror-index"
	flagServer        = "server"

	defaultLogLevel = "info"

	backendLocalFS = "localfs"
	backendS3      = "s3"
)

// Config describes the daemon and CLI configuration
type Config struct {
	BaseDir       string        `mapstructure:"base-dir"`
	Listen        string        `mapstructure:"listen"`
	Role          string        `mapstructure:"role"`
	PrimaryURL    string        `mapstructure:"primary-url"`
	LogLevel      string        `mapstructure:"log-level"`
	BlobBackend   string        `mapstructure:"blob-backend"`
	S3Bucket      string        `mapstructure:"s3-bucket"`
	S3Prefix      string        `mapstructure:"s3-prefix"`
	S3Region      string        `mapstructure:"s3-region"`
	S3Endpoint    string        `mapstructure:"s3-endpoint"`
	MaxUploadSize string        `mapstructure:"max-upload-size"`
	ChangelogPoll time.Duration `mapstructure:"changelog-poll"`
	FetchTimeout  time.Duration `mapstructure:"fetch-timeout"`
	FetchRate     float64       `mapstructure:"fetch-rate"`
	FetchBurst    int           `mapstructure:"fetch-burst"`
	MirrorUser    string        `mapstructure:"mirror-user"`
	MirrorIndex   string        `mapstructure:"mirror-index"`
	Server        string        `mapstructure:"server"`
}

func setDefaults() {
	viper.SetDefault(flagBaseDir, ".relstore")
	viper.SetDefault(flagListen, ":3141")
	viper.SetDefault(flagRole, string(filestore.Primary))
	viper.SetDefault(flagLogLevel, defaultLogLevel)
	viper.SetDefault(flagBlobBackend, backendLocalFS)
	viper.SetDefault(flagMaxUpload, "512MiB")
	viper.SetDefault(flagChangelogPoll, 2*time.Second)
	viper.SetDefault(flagFetchTimeout, 5*time.Minute)
	viper.SetDefault(flagFetchBurst, 1)
	viper.SetDefault(flagMirrorUser, filestore.DefaultMirrorUser)
	viper.SetDefault(flagMirrorIndex, filestore.DefaultMirrorIndex)
	viper.SetDefault(flagServer, "http://localhost:3141")
}

func newConfig() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsReplica tells if the daemon follows a primary
func (c *Config) IsReplica() bool {
	return c.Role == string(filestore.Replica)
}

// UploadLimit parses the human readable upload size limit, e.g. "512MiB"
func (c *Config) UploadLimit() (int64, error) {
	size, err := units.RAMInBytes(c.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", flagMaxUpload, c.MaxUploadSize, err)
	}
	return size, nil
}

func (c *Config) validate() error {
	switch c.Role {
	case string(filestore.Primary):
	case string(filestore.Replica):
		if c.PrimaryURL == "" {
			return fmt.Errorf("a replica requires --%s", flagPrimaryURL)
		}
	default:
		return fmt.Errorf("unknown role %q, expected %q or %q", c.Role, filestore.Primary, filestore.Replica)
	}

	switch c.BlobBackend {
	case backendLocalFS:
	case backendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("the s3 blob backend requires --%s", flagS3Bucket)
		}
	default:
		return fmt.Errorf("unknown blob backend %q, expected %q or %q", c.BlobBackend, backendLocalFS, backendS3)
	}

	if c.FetchRate < 0 {
		return fmt.Errorf("--%s must not be negative", flagFetchRate)
	}

	_, err := c.UploadLimit()
	return err
}

func mustBind(flag *pflag.Flag) {
	if err := viper.BindPFlag(flag.Name, flag); err != nil {
		panic(err)
	}
}
