package model

import "time"

// Config is the complete runtime configuration tree.
// Hierarchy: CLI flags > PARCELSCOPE_* env vars > config file > defaults.
type Config struct {
	Service ServiceConfig `yaml:"service" mapstructure:"service"`
	HTTP    HTTPConfig    `yaml:"http" mapstructure:"http"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
}

// ServiceConfig points at the remote parcel query layer
type ServiceConfig struct {
	// LayerURL is the base URL of the parcel feature layer
	// (the query endpoint is LayerURL + "/query")
	LayerURL string `yaml:"layer_url" mapstructure:"layer_url"`

	Fields FieldConfig `yaml:"fields" mapstructure:"fields"`
}

// FieldConfig names the remote schema fields the tool relies on.
// Fields not present on the remote schema degrade gracefully: the
// field list falls back to "*" and sorts fall back to the object ID.
type FieldConfig struct {
	ObjectID    string `yaml:"object_id" mapstructure:"object_id"`
	Owner       string `yaml:"owner" mapstructure:"owner"`
	Address     string `yaml:"address" mapstructure:"address"`
	Zip         string `yaml:"zip" mapstructure:"zip"`
	MarketValue string `yaml:"market_value" mapstructure:"market_value"`
}

// HTTPConfig controls the fetch client
type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent string        `yaml:"user_agent" mapstructure:"user_agent"`

	// Retries is the maximum number of retry attempts for transient
	// failures (HTTP 429/5xx) on top of the initial attempt
	Retries   int           `yaml:"retries" mapstructure:"retries"`
	BaseDelay time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
}

// ExportConfig controls the export orchestrator
type ExportConfig struct {
	PageSize int `yaml:"page_size" mapstructure:"page_size"`

	// PageDelay is the politeness delay between consecutive page requests
	PageDelay time.Duration `yaml:"page_delay" mapstructure:"page_delay"`

	WebhookBatchSize int    `yaml:"webhook_batch_size" mapstructure:"webhook_batch_size"`
	OutputDir        string `yaml:"output_dir" mapstructure:"output_dir"`
}

// CacheConfig controls memoization of schema metadata and count queries
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL             time.Duration `yaml:"ttl" mapstructure:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// OutputConfig controls CLI output behavior
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			LayerURL: "",
			Fields: FieldConfig{
				ObjectID:    "OBJECTID",
				Owner:       "OWNER_NAME",
				Address:     "SITUS_ADDRESS",
				Zip:         "SITUS_ZIP",
				MarketValue: "TOTAL_VALUE",
			},
		},
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			UserAgent: "parcelscope/0.3 (+https://github.com/parcelscope)",
			Retries:   4,
			BaseDelay: 550 * time.Millisecond,
		},
		Export: ExportConfig{
			PageSize:         1000,
			PageDelay:        250 * time.Millisecond,
			WebhookBatchSize: 100,
			OutputDir:        ".",
		},
		Cache: CacheConfig{
			Enabled:         true,
			TTL:             10 * time.Minute,
			CleanupInterval: 15 * time.Minute,
		},
		Output: OutputConfig{
			Verbose: false,
		},
	}
}
