package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	zipsTimeout time.Duration
	zipsMin     int
)

// zipsCmd represents the zips command
var zipsCmd = &cobra.Command{
	Use:   "zips",
	Short: "List the ZIP codes covered by the parcel layer",
	Long: `Zips discovers the export scope: one grouped count query rolls the
layer's raw ZIP values (including ZIP+4 variants) into 5-digit buckets
and reports how many parcels each bucket holds.

Example:
  parcelscope zips --layer-url https://gis.example.gov/.../FeatureServer/0
  parcelscope zips --min 100`,
	Args: cobra.NoArgs,
	RunE: runZips,
}

func init() {
	rootCmd.AddCommand(zipsCmd)

	zipsCmd.Flags().DurationVar(&zipsTimeout, "timeout", 2*time.Minute, "overall timeout")
	zipsCmd.Flags().IntVar(&zipsMin, "min", 0, "hide ZIPs with fewer parcels than this")
}

func runZips(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), zipsTimeout)
	defer cancel()

	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "Layer: %s\n\n", cfg.Service.LayerURL)
	}

	layer := newLayer(cfg)
	scopes, err := layer.ZipScopes(ctx)
	if err != nil {
		return fmt.Errorf("discover ZIPs: %w", err)
	}

	total := 0
	shown := 0
	fmt.Printf("%-8s %10s\n", "ZIP", "PARCELS")
	for _, s := range scopes {
		total += s.Count
		if s.Count < zipsMin {
			continue
		}
		shown++
		fmt.Printf("%-8s %10d\n", s.Zip, s.Count)
	}
	fmt.Printf("\n%d ZIPs, %d parcels", len(scopes), total)
	if shown < len(scopes) {
		fmt.Printf(" (%d ZIPs hidden by --min)", len(scopes)-shown)
	}
	fmt.Println()

	return nil
}
