package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"parcelscope/internal/arcgis"
	"parcelscope/internal/model"
	"parcelscope/internal/names"
	"parcelscope/internal/stats"
)

var (
	statsFilter  string
	statsTop     int
	statsTimeout time.Duration
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats [zip]",
	Short: "Show aggregate views of the parcel layer",
	Long: `Stats summarizes the layer without fetching rows: a market-value
histogram with an approximate median, the owners holding the most
parcels (and the most value), and the busiest ZIPs. All numbers come
from server-side count and group-by queries.

The owner filter is approximated server-side from entity-suffix
patterns, so its totals can differ slightly from a filtered export.

Example:
  parcelscope stats
  parcelscope stats 78756 --filter business --top 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVar(&statsFilter, "filter", "all", "owner filter (all, business, residential)")
	statsCmd.Flags().IntVar(&statsTop, "top", 10, "leaderboard length")
	statsCmd.Flags().DurationVar(&statsTimeout, "timeout", 5*time.Minute, "overall timeout")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	filter := model.OwnerFilter(statsFilter)
	switch filter {
	case model.FilterAll, model.FilterBusiness, model.FilterResidential:
	default:
		return fmt.Errorf("unknown filter %q (want all, business, or residential)", statsFilter)
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	layer := newLayer(cfg)

	where := ""
	scopeLabel := "all ZIPs"
	if len(args) == 1 {
		zip := args[0]
		if names.Zip5(zip) != zip {
			return fmt.Errorf("invalid ZIP %q (want 5 digits)", zip)
		}
		where = layer.ZipWhere(zip)
		scopeLabel = "ZIP " + zip
	}
	where = arcgis.And(where, layer.OwnerWhere(filter))

	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "Layer:  %s\n", cfg.Service.LayerURL)
		fmt.Fprintf(os.Stderr, "Filter: %s\n\n", where)
	}

	engine := stats.NewEngine(layer, cfg.Export.PageDelay)
	report, err := engine.Report(ctx, where, statsTop)
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}

	fmt.Printf("Parcels in %s (%s owners): %d\n", scopeLabel, filter, report.Total)
	fmt.Printf("Approximate median value: %s\n\n", stats.FormatMoney(report.Median))

	fmt.Println("Market value distribution:")
	for _, bin := range report.Bins {
		fmt.Printf("  %-24s %10d\n", bin.Label(), bin.Count)
	}
	fmt.Println()

	fmt.Println("Top owners:")
	for i, e := range report.Owners {
		fmt.Printf("  %2d. %-36s %6d parcels  %12s\n", i+1, e.Label, e.Count, stats.FormatMoney(e.Value))
	}
	fmt.Println()

	fmt.Println("Top ZIPs:")
	for i, e := range report.Zips {
		fmt.Printf("  %2d. %-10s %6d parcels  %12s\n", i+1, e.Key, e.Count, stats.FormatMoney(e.Value))
	}

	return nil
}
