package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geografi/enrich-cli/internal/enrich"
	"github.com/geografi/enrich-cli/internal/resilience"
	"github.com/geografi/enrich-cli/internal/store"
	"github.com/geografi/enrich-cli/pkg/nominatim"
	"github.com/geografi/enrich-cli/pkg/viacep"
)

var (
	enrichInput     string
	enrichOutput    string
	enrichChunkSize int
	enrichWorkers   int
	enrichNoCache   bool
	enrichCacheDB   string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich an address file with corrected postal codes and coordinates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var st store.Store
		if !enrichNoCache && !cfg.Cache.Disabled {
			var err error
			st, err = initStore(ctx, enrichCacheDB)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			// Stale entries go before the run, not during it.
			purged, err := st.Purge(ctx, cfg.Cache.MaxAgeDuration())
			if err != nil {
				zap.L().Warn("cache purge failed", zap.Error(err))
			} else if purged > 0 {
				zap.L().Info("stale cache entries purged", zap.Int("removed", purged))
			}
		}

		processor := buildProcessor(st)

		result, err := processor.ProcessFile(ctx, enrichInput)
		if err != nil {
			return eris.Wrapf(err, "process %s", enrichInput)
		}

		if err := enrich.WriteCSV(enrichOutput, result); err != nil {
			return err
		}

		printSummary(os.Stdout, enrichOutput, result)
		if result.Cancelled {
			return eris.New("run interrupted; partial output written")
		}
		return nil
	},
}

// buildProcessor wires the clients, the enricher, and the batch processor
// from configuration. A nil store disables caching and run logging.
func buildProcessor(st store.Store) *enrich.Processor {
	viacepRetry := resilience.DefaultRetryConfig()
	viacepRetry.MaxAttempts = cfg.ViaCEP.MaxAttempts
	viacepRetry.OnRetry = resilience.RetryLogger("viacep", "get")
	viacepOpts := []viacep.Option{
		viacep.WithBaseURL(cfg.ViaCEP.BaseURL),
		viacep.WithMinInterval(cfg.ViaCEP.MinInterval()),
		viacep.WithRetry(viacepRetry),
	}

	nominatimRetry := resilience.DefaultRetryConfig()
	nominatimRetry.MaxAttempts = cfg.Nominatim.MaxAttempts
	nominatimRetry.OnRetry = resilience.RetryLogger("nominatim", "search")
	nominatimOpts := []nominatim.Option{
		nominatim.WithBaseURL(cfg.Nominatim.BaseURL),
		nominatim.WithUserAgent(cfg.Nominatim.UserAgent),
		nominatim.WithMinInterval(cfg.Nominatim.MinInterval()),
		nominatim.WithRetry(nominatimRetry),
	}

	procOpts := []enrich.ProcessorOption{
		enrich.WithChunkSize(chooseInt(enrichChunkSize, cfg.Processing.ChunkSize)),
		enrich.WithWorkers(chooseInt(enrichWorkers, cfg.Processing.Workers)),
		enrich.WithProgress(renderProgress(os.Stderr)),
	}

	if st != nil {
		viacepOpts = append(viacepOpts, viacep.WithCache(st))
		nominatimOpts = append(nominatimOpts, nominatim.WithCache(st))
		procOpts = append(procOpts, enrich.WithRunLog(st))
	}

	enricher := enrich.NewRecordEnricher(
		viacep.NewClient(viacepOpts...),
		nominatim.NewClient(nominatimOpts...),
	)
	return enrich.NewProcessor(enricher, procOpts...)
}

func chooseInt(flag, configured int) int {
	if flag > 0 {
		return flag
	}
	return configured
}

// renderProgress writes a single self-overwriting progress line.
func renderProgress(out io.Writer) enrich.ProgressFunc {
	return func(processed, total int) {
		if total <= 0 {
			return
		}
		pct := 100 * processed / total
		fmt.Fprintf(out, "\rprocessed %d/%d rows (%d%%)", processed, total, pct)
		if processed == total {
			fmt.Fprintln(out)
		}
	}
}

func printSummary(out io.Writer, outputPath string, result *enrich.Result) {
	stats := result.Stats
	fmt.Fprintf(out, "\nOutput: %s (encoding %s, delimiter %q)\n",
		outputPath, result.EncodingName, result.Delimiter)
	fmt.Fprintf(out, "Rows processed:    %d/%d\n", stats.ProcessedRows, stats.TotalRows)
	fmt.Fprintf(out, "Postal codes fixed: %d\n", stats.FixedCEPs)
	fmt.Fprintf(out, "Coordinates found:  %d\n", stats.CoordinatesFound)
	fmt.Fprintf(out, "Row errors:         %d\n", len(stats.Errors))

	for i, rowErr := range stats.Errors {
		if i == 10 {
			fmt.Fprintf(out, "  ... and %d more\n", len(stats.Errors)-10)
			break
		}
		fmt.Fprintf(out, "  row %d: %s\n", rowErr.Row, rowErr.Message)
	}
}

func init() {
	enrichCmd.Flags().StringVarP(&enrichInput, "input", "i", "", "input file (required)")
	enrichCmd.Flags().StringVarP(&enrichOutput, "output", "o", "", "output file (required)")
	enrichCmd.Flags().IntVar(&enrichChunkSize, "chunk-size", 0, "rows per batch (default from config)")
	enrichCmd.Flags().IntVar(&enrichWorkers, "workers", 0, "concurrent resolutions per batch (default from config)")
	enrichCmd.Flags().BoolVar(&enrichNoCache, "no-cache", false, "disable the lookup cache for this run")
	enrichCmd.Flags().StringVar(&enrichCacheDB, "cache-db", "", "cache database path (default from config)")

	_ = enrichCmd.MarkFlagRequired("input")
	_ = enrichCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(enrichCmd)
}
