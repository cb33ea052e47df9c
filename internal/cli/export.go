package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"parcelscope/internal/export"
	"parcelscope/internal/model"
	"parcelscope/internal/names"
)

var (
	exportFilter   string
	exportMode     string
	exportColumns  []string
	exportWebhook  string
	exportOutDir   string
	exportPageSize int
	exportDelay    time.Duration
	exportTimeout  time.Duration
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export [zip...]",
	Short: "Export parcel records to CSV, optionally streaming to a webhook",
	Long: `Export pages through the parcel layer and writes CSV files.

With no arguments the scope is every ZIP the layer covers; otherwise
only the listed 5-digit ZIPs. Rows are classified client-side and can
be filtered to business or residential owners. Pages are fetched
strictly one at a time with a politeness delay, and a webhook URL
receives every kept row as newline-delimited JSON batches.

Example:
  parcelscope export 78756 78757
  parcelscope export --filter business --mode per-zip
  parcelscope export 78701 --webhook https://hooks.example.com/parcels`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFilter, "filter", "all", "owner filter (all, business, residential)")
	exportCmd.Flags().StringVar(&exportMode, "mode", "single", "output mode (single, per-zip)")
	exportCmd.Flags().StringSliceVar(&exportColumns, "columns", nil, "CSV columns (default: all)")
	exportCmd.Flags().StringVar(&exportWebhook, "webhook", "", "stream exported rows to this URL as NDJSON")
	exportCmd.Flags().StringVar(&exportOutDir, "output-dir", "", "output directory for CSV files")
	exportCmd.Flags().IntVar(&exportPageSize, "page-size", 0, "rows per page request")
	exportCmd.Flags().DurationVar(&exportDelay, "page-delay", 0, "politeness delay between page requests")
	exportCmd.Flags().DurationVar(&exportTimeout, "timeout", 30*time.Minute, "total timeout for the export run")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if exportOutDir != "" {
		cfg.Export.OutputDir = exportOutDir
	}
	if exportPageSize > 0 {
		cfg.Export.PageSize = exportPageSize
	}
	if cmd.Flags().Changed("page-delay") {
		cfg.Export.PageDelay = exportDelay
	}

	filter := model.OwnerFilter(exportFilter)
	switch filter {
	case model.FilterAll, model.FilterBusiness, model.FilterResidential:
	default:
		return fmt.Errorf("unknown filter %q (want all, business, or residential)", exportFilter)
	}
	mode := model.ExportMode(exportMode)
	switch mode {
	case model.ModeSingle, model.ModePerZip:
	default:
		return fmt.Errorf("unknown mode %q (want single or per-zip)", exportMode)
	}

	// Ctrl-C cancels the run cooperatively; partial CSVs are discarded
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()

	layer := newLayer(cfg)

	// Resolve the scope: explicit ZIPs, or everything the layer covers
	var scope []model.ZipScope
	if len(args) == 0 {
		scope, err = layer.ZipScopes(ctx)
		if err != nil {
			return fmt.Errorf("discover ZIPs: %w", err)
		}
	} else {
		for _, zip := range args {
			if names.Zip5(zip) != zip {
				return fmt.Errorf("invalid ZIP %q (want 5 digits)", zip)
			}
			scope = append(scope, model.ZipScope{Zip: zip})
		}
	}

	var sink export.Sink
	if exportWebhook != "" {
		sink = export.NewWebhookSink(exportWebhook, cfg.Export.WebhookBatchSize, cfg.HTTP.Timeout)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Parcelscope Export\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Layer:       %s\n", cfg.Service.LayerURL)
	fmt.Fprintf(os.Stderr, "  ZIPs:        %d\n", len(scope))
	fmt.Fprintf(os.Stderr, "  Filter:      %s\n", filter)
	fmt.Fprintf(os.Stderr, "  Mode:        %s\n", mode)
	fmt.Fprintf(os.Stderr, "  Output dir:  %s\n", cfg.Export.OutputDir)
	if exportWebhook != "" {
		fmt.Fprintf(os.Stderr, "  Webhook:     %s\n", exportWebhook)
	}
	fmt.Fprintf(os.Stderr, "\n")

	runner := export.NewRunner(layer, export.Options{
		PageSize:  cfg.Export.PageSize,
		PageDelay: cfg.Export.PageDelay,
		Deliver:   export.FileDeliverer(cfg.Export.OutputDir),
		Sink:      sink,
		Verbose:   cfg.Output.Verbose,
		Stderr:    os.Stderr,
	})

	job := model.ExportJob{
		Scope:       scope,
		OwnerFilter: filter,
		Columns:     exportColumns,
		Mode:        mode,
		WebhookURL:  exportWebhook,
	}

	runErr := runner.Run(ctx, job)
	progress := runner.Progress()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	if runErr == nil {
		fmt.Fprintf(os.Stderr, "  Export Complete\n")
	} else if errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(os.Stderr, "  Export Cancelled\n")
	} else {
		fmt.Fprintf(os.Stderr, "  Export Failed\n")
	}
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	if progress != nil {
		fmt.Fprintf(os.Stderr, "  Rows exported:  %d\n", progress.TotalRows)
		if progress.ExpectedTotal >= 0 {
			fmt.Fprintf(os.Stderr, "  Rows expected:  %d\n", progress.ExpectedTotal)
		}
		if cfg.Output.Verbose {
			fmt.Fprintf(os.Stderr, "\n")
			for _, entry := range progress.Log {
				fmt.Fprintf(os.Stderr, "  %s  %s\n", entry.At.Format(time.RFC3339), entry.Message)
			}
		}
	}
	fmt.Fprintf(os.Stderr, "\n")

	return runErr
}
