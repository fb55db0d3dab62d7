package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datamap/datamap-cli/pkg/logging"
	"github.com/datamap/datamap-cli/pkg/optname"
)

const (
	DefaultBaseURL     = "https://datamap.pcs.usp.br/api/v1"
	DefaultConcurrency = 3
	DefaultRetries     = 3

	maxConcurrency = 10
	maxRetries     = 10
)

// Config is the fully resolved configuration for one invocation. It is
// built once by Load and passed explicitly into the API client and the
// scheduler; nothing reads viper after that point.
//
// Precedence, highest first: command-line flags, DATAMAP_* environment
// variables, config file values, built-in defaults.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	UserID    string
	Tenancy   string

	RequestTimeout time.Duration
	ConnTimeout    time.Duration
	Retries        int

	Concurrency    int
	Resume         bool
	VerifyChecksum bool
	Force          bool
	Verbose        bool
}

// AddFlags registers the persistent flags on the root command and binds
// them to viper along with DATAMAP_* environment variables.
func AddFlags(cmd *cobra.Command) error {
	cmd.PersistentFlags().String(optname.BaseURL, DefaultBaseURL, "DataMap API base URL")
	cmd.PersistentFlags().IntP(optname.Concurrency, "c", DefaultConcurrency, "Maximum number of concurrent file downloads")
	cmd.PersistentFlags().Duration(optname.ConnTimeout, 5*time.Second, "Timeout for establishing a connection, e.g. 10s")
	cmd.PersistentFlags().Duration(optname.RequestTimeout, 30*time.Second, "Timeout for individual API requests, e.g. 30s")
	cmd.PersistentFlags().IntP(optname.Retries, "r", DefaultRetries, "Number of retries for failed requests")
	cmd.PersistentFlags().Bool(optname.Resume, false, "Resume interrupted downloads from their partial files")
	cmd.PersistentFlags().Bool(optname.VerifyChecksum, true, "Verify file checksums after download when available")
	cmd.PersistentFlags().BoolP(optname.Force, "f", false, "Overwrite existing destination files")
	cmd.PersistentFlags().String(optname.UserID, "", "User ID sent with API requests")
	cmd.PersistentFlags().String(optname.Tenancy, "", "Tenancy sent with API requests")
	cmd.PersistentFlags().BoolP(optname.Verbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	cmd.PersistentFlags().String(optname.LoggingLevel, "info", "Log level (debug, info, warn, error)")

	viper.SetEnvPrefix("DATAMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Credentials are env/config-file only, never flags, so they cannot
	// leak through process listings or shell history.
	if err := viper.BindEnv(optname.APIKey); err != nil {
		return err
	}
	if err := viper.BindEnv(optname.APISecret); err != nil {
		return err
	}

	return viper.BindPFlags(cmd.PersistentFlags())
}

// ReadConfigFile loads an optional config file into viper. An explicit
// path that cannot be read is an error; the absence of the default file
// is not.
func ReadConfigFile(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
		return viper.ReadInConfig()
	}
	viper.SetConfigName(".datamap")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// Load resolves the final configuration from viper and validates it.
func Load() (Config, error) {
	if viper.GetBool(optname.Verbose) {
		viper.Set(optname.LoggingLevel, "debug")
	}
	logging.SetLevel(viper.GetString(optname.LoggingLevel))

	cfg := Config{
		APIKey:         viper.GetString(optname.APIKey),
		APISecret:      viper.GetString(optname.APISecret),
		BaseURL:        strings.TrimRight(viper.GetString(optname.BaseURL), "/"),
		UserID:         viper.GetString(optname.UserID),
		Tenancy:        viper.GetString(optname.Tenancy),
		RequestTimeout: viper.GetDuration(optname.RequestTimeout),
		ConnTimeout:    viper.GetDuration(optname.ConnTimeout),
		Retries:        viper.GetInt(optname.Retries),
		Concurrency:    viper.GetInt(optname.Concurrency),
		Resume:         viper.GetBool(optname.Resume),
		VerifyChecksum: viper.GetBool(optname.VerifyChecksum),
		Force:          viper.GetBool(optname.Force),
		Verbose:        viper.GetBool(optname.Verbose),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("API credentials are required; set DATAMAP_API_KEY and DATAMAP_API_SECRET")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base URL must start with http:// or https://, got %q", c.BaseURL)
	}
	if c.Concurrency < 1 || c.Concurrency > maxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d, got %d", maxConcurrency, c.Concurrency)
	}
	if c.Retries < 0 || c.Retries > maxRetries {
		return fmt.Errorf("retries must be between 0 and %d, got %d", maxRetries, c.Retries)
	}
	return nil
}
