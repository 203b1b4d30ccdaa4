package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "PROPVIEW"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "viewings.db"
	defaultLogLevel      = "info"
	defaultPublicBaseURL = "http://localhost:3000"
	defaultEmailPort     = 587
	defaultMaxInFlight   = 4
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	PublicBaseURL string
	Email         EmailConfig
	Directory     []DirectoryConnection
}

// EmailConfig describes the outbound mail transport. When Enabled is false the
// dispatcher counts recipients without attempting any network call.
type EmailConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Username    string
	Password    string
	Sender      string
	MaxInFlight int
}

// DirectoryConnection holds credentials for one introspectable backend.
type DirectoryConnection struct {
	Name      string `mapstructure:"name"`
	Kind      string `mapstructure:"kind"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	SSLMode   string `mapstructure:"sslmode"`
	Account   string `mapstructure:"account"`
	Warehouse string `mapstructure:"warehouse"`
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("links.public_base_url", defaultPublicBaseURL)
	configViper.SetDefault("email.enabled", false)
	configViper.SetDefault("email.port", defaultEmailPort)
	configViper.SetDefault("email.max_in_flight", defaultMaxInFlight)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		PublicBaseURL: configViper.GetString("links.public_base_url"),
		Email: EmailConfig{
			Enabled:     configViper.GetBool("email.enabled"),
			Host:        configViper.GetString("email.host"),
			Port:        configViper.GetInt("email.port"),
			Username:    configViper.GetString("email.username"),
			Password:    configViper.GetString("email.password"),
			Sender:      configViper.GetString("email.sender"),
			MaxInFlight: configViper.GetInt("email.max_in_flight"),
		},
	}

	if err := configViper.UnmarshalKey("directory.connections", &cfg.Directory); err != nil {
		return AppConfig{}, fmt.Errorf("directory.connections is malformed: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.PublicBaseURL) == "" {
		return fmt.Errorf("links.public_base_url is required")
	}
	if c.Email.Enabled {
		if strings.TrimSpace(c.Email.Host) == "" {
			return fmt.Errorf("email.host is required when email sending is enabled")
		}
		if strings.TrimSpace(c.Email.Sender) == "" {
			return fmt.Errorf("email.sender is required when email sending is enabled")
		}
	}
	if c.Email.MaxInFlight <= 0 {
		return fmt.Errorf("email.max_in_flight must be positive")
	}
	return nil
}
