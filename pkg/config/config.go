package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/adpilot/pkg/models"
)

// DefaultConfigPath is where Load looks for the YAML configuration.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for adpilot.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, tokens) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Advertising platform (MCP) connection settings
	Ads AdsConfig `yaml:"ads"`

	// Default bid optimization rule and presets
	Optimizer OptimizerConfig `yaml:"optimizer"`

	// Execution pipeline settings
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"adpilot"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"adpilot"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// AdsConfig holds the advertising platform connection settings.
type AdsConfig struct {
	// Region selects the MCP endpoint: na, eu or fe.
	Region string `yaml:"region" env:"ADS_REGION" env-default:"na"`
	// EndpointURL overrides the regional endpoint (sandbox, proxies).
	EndpointURL string `yaml:"endpoint_url" env:"ADS_ENDPOINT_URL" env-default:""`
	// ClientID is the Login with Amazon application client id.
	ClientID string `yaml:"client_id" env:"ADS_CLIENT_ID" env-default:""`
	// AccessToken is used by the static credential resolver. Token refresh is
	// handled by the host application.
	AccessToken string `yaml:"-" env:"ADS_ACCESS_TOKEN"` // Secret - not in YAML
	// AccountID is the advertiser account sent with every session.
	AccountID string `yaml:"account_id" env:"ADS_ACCOUNT_ID" env-default:""`
	// MaxPages caps nextToken pagination on query operations.
	MaxPages int `yaml:"max_pages" env:"ADS_MAX_PAGES" env-default:"20"`
	// ConnectRetries is how often session establishment is retried on transport errors.
	ConnectRetries int `yaml:"connect_retries" env:"ADS_CONNECT_RETRIES" env-default:"3"`
}

// OptimizerConfig holds the default bid rule and the optional preset file.
type OptimizerConfig struct {
	TargetACOS  float64 `yaml:"target_acos" env:"OPTIMIZER_TARGET_ACOS" env-default:"30"`
	MinBid      float64 `yaml:"min_bid" env:"OPTIMIZER_MIN_BID" env-default:"0.02"`
	MaxBid      float64 `yaml:"max_bid" env:"OPTIMIZER_MAX_BID" env-default:"100"`
	BidStep     float64 `yaml:"bid_step" env:"OPTIMIZER_BID_STEP" env-default:"0.10"`
	MinClicks   int     `yaml:"min_clicks" env:"OPTIMIZER_MIN_CLICKS" env-default:"10"`
	Concurrency int     `yaml:"concurrency" env:"OPTIMIZER_CONCURRENCY" env-default:"4"`
	PresetsFile string  `yaml:"presets_file" env:"OPTIMIZER_PRESETS_FILE" env-default:""`
}

// DefaultRule returns the configured default bid rule.
func (o OptimizerConfig) DefaultRule() models.BidRule {
	return models.BidRule{
		Name:       "default",
		TargetACOS: o.TargetACOS,
		MinBid:     o.MinBid,
		MaxBid:     o.MaxBid,
		BidStep:    o.BidStep,
		MinClicks:  o.MinClicks,
	}
}

// PipelineConfig holds execution pipeline settings.
type PipelineConfig struct {
	// ErrorMessageMaxLength caps the error text stored on failed changes.
	ErrorMessageMaxLength int `yaml:"error_message_max_length" env:"PIPELINE_ERROR_MESSAGE_MAX_LENGTH" env-default:"1000"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom reads configuration from the given YAML file with environment
// variable overrides.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	c.Ads.Region = strings.ToLower(strings.TrimSpace(c.Ads.Region))
	switch c.Ads.Region {
	case "na", "eu", "fe":
	default:
		return fmt.Errorf("ads.region must be one of na, eu, fe (got %q)", c.Ads.Region)
	}
	if c.Ads.MaxPages < 1 {
		return fmt.Errorf("ads.max_pages must be at least 1")
	}
	if c.Pipeline.ErrorMessageMaxLength < 1 {
		return fmt.Errorf("pipeline.error_message_max_length must be at least 1")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection as a postgres:// URL for golang-migrate.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, ResolveHostForDocker(c.Host), c.Port, c.Database, c.SSLMode)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. Cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps localhost to host.docker.internal inside a container.
func ResolveHostForDocker(host string) string {
	if IsRunningInDocker() && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}

// rulePresetsFile is the on-disk shape of the optimizer presets file.
type rulePresetsFile struct {
	Presets []models.BidRule `yaml:"presets"`
}

// LoadRulePresets reads named bid rules from a YAML file. Unset fields fall
// back to the stock defaults; every preset must have a unique name.
func LoadRulePresets(path string) (map[string]models.BidRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule presets: %w", err)
	}

	var file rulePresetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule presets %s: %w", path, err)
	}

	presets := make(map[string]models.BidRule, len(file.Presets))
	for i, p := range file.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("rule preset %d has no name", i)
		}
		if _, dup := presets[p.Name]; dup {
			return nil, fmt.Errorf("duplicate rule preset %q", p.Name)
		}
		presets[p.Name] = p.WithDefaults()
	}
	return presets, nil
}
