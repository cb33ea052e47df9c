package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parcelscope/internal/arcgis"
	"parcelscope/internal/cache"
	"parcelscope/internal/model"
)

var (
	cfgFile  string
	verbose  bool
	layerURL string
	noCache  bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "parcelscope",
	Short: "Parcelscope - explore and export municipal parcel records",
	Long: `Parcelscope explores a county's parcel records through its public
query service: who owns what, where, and for how much.

It pages through the remote layer politely, classifies owner names as
business or residential, splits co-owners into structured person names,
and exports filtered CSVs per ZIP or as one combined file. Aggregate
views (value histograms, owner and ZIP leaderboards) run entirely on
server-side statistics queries, without fetching rows.

Parcelscope reads public records; it never writes to the remote service.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number and build information for Parcelscope.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("parcelscope v0.3.0")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.parcelscope/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&layerURL, "layer-url", "", "base URL of the parcel feature layer")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "disable schema/count memoization (force fresh queries)")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("service.layer_url", rootCmd.PersistentFlags().Lookup("layer-url"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(home + "/.parcelscope")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Read in environment variables that match PARCELSCOPE_*
	viper.SetEnvPrefix("PARCELSCOPE")
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig merges defaults, the config file, env vars, and bound flags
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if layerURL != "" {
		cfg.Service.LayerURL = layerURL
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	if cfg.Service.LayerURL == "" {
		return nil, fmt.Errorf("no layer URL configured (set --layer-url, PARCELSCOPE_SERVICE_LAYER_URL, or service.layer_url in the config file)")
	}
	return cfg, nil
}

// newLayer builds the query adapter from configuration
func newLayer(cfg *model.Config) *arcgis.Layer {
	var store cache.Cache
	if cfg.Cache.Enabled {
		store = cache.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval)
	}
	client := arcgis.NewClient(cfg.HTTP)
	return arcgis.NewLayer(client, cfg.Service.LayerURL, cfg.Service.Fields, store, cfg.Cache.TTL)
}
