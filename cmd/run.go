// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/api/schemas"
	"github.com/wyatt727/BSTI/internal/categories"
	"github.com/wyatt727/BSTI/internal/config"
	"github.com/wyatt727/BSTI/internal/consolidate"
	"github.com/wyatt727/BSTI/internal/enrich"
	"github.com/wyatt727/BSTI/internal/ledger"
	"github.com/wyatt727/BSTI/internal/nessus"
	"github.com/wyatt727/BSTI/internal/observability"
	"github.com/wyatt727/BSTI/internal/platform"
	"github.com/wyatt727/BSTI/internal/reconcile"
	"github.com/wyatt727/BSTI/internal/reporting"
	"github.com/wyatt727/BSTI/internal/uploader"
)

// newRunCmd creates and configures the `run` command: the full pipeline from
// export files to uploaded flaws.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Consolidate scan exports into flaws and upload them",
		Long: `Run loads the given export files (and any found in --input-dir), classifies
their findings against the category map, merges each category into one flaw
per scope, and uploads the result. Flaws already uploaded with identical
content are skipped; changed ones are updated in place.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFromCommand(cmd)
			if err != nil {
				return err
			}

			scopeValue, _ := cmd.Flags().GetString("scope")
			scope, err := schemas.ParseScope(scopeValue)
			if err != nil {
				return fmt.Errorf("%w (valid scopes: internal, external, web, mobile, surveillance)", err)
			}

			inputDir, _ := cmd.Flags().GetString("input-dir")
			paths, err := resolveInputs(args, inputDir)
			if err != nil {
				return err
			}

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			reportFile, _ := cmd.Flags().GetString("report-file")
			reportFormat, _ := cmd.Flags().GetString("report-format")

			summary, err := executeRun(ctx, cfg, runOptions{
				Scope:  scope,
				Paths:  paths,
				DryRun: dryRun,
			}, logger)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted.", zap.Error(err))
					return errors.New("run aborted by user signal")
				}
				return err
			}

			if err := writeReports(cmd.OutOrStdout(), summary, reportFormat, reportFile, logger); err != nil {
				return err
			}

			if !summary.Ok() {
				return fmt.Errorf("%d of %d flaws failed: %s",
					summary.Failed, summary.FlawsTotal, strings.Join(summary.FailedKeys(), ", "))
			}
			return nil
		},
	}

	runCmd.Flags().String("input-dir", "", "Directory scanned for .csv and .nessus export files.")
	runCmd.Flags().StringP("scope", "s", "internal", "Assessment scope: internal, external, web, mobile or surveillance.")
	runCmd.Flags().Bool("dry-run", false, "Stop after reconciliation and report the plan without uploading.")

	// Reporting flags.
	runCmd.Flags().StringP("report-file", "o", "", "Report file path. If unset, only the console summary is printed.")
	runCmd.Flags().StringP("report-format", "f", "json", "Report file format: json or csv.")

	// Configuration override flags; these bind onto their config keys in the
	// root's PersistentPreRunE.
	runCmd.Flags().String("client-id", "", "Platform client id. (Overrides config/env)")
	runCmd.Flags().String("report-id", "", "Platform report id. (Overrides config/env)")
	runCmd.Flags().IntP("concurrency", "j", 4, "Number of concurrent upload workers. (Overrides config/env)")
	runCmd.Flags().String("category-map", "N2P_config.json", "Category map file. (Overrides config/env)")
	runCmd.Flags().String("severity-floor", "low", "Drop findings below this severity. (Overrides config/env)")
	runCmd.Flags().Bool("non-core", false, "Tag flaws for a non-core engagement. (Overrides config/env)")
	runCmd.Flags().String("screenshot-dir", "", "Directory of screenshot artifacts named by title hash. (Overrides config/env)")
	runCmd.Flags().Bool("refresh-remote", false, "List the report's live flaws first and re-create any that vanished upstream. (Overrides config/env)")

	return runCmd
}

// runOptions carries the per-invocation parameters that are not part of the
// persisted configuration.
type runOptions struct {
	Scope  schemas.Scope
	Paths  []string
	DryRun bool
}

// resolveInputs merges positional file arguments with the discovered contents
// of the input directory.
func resolveInputs(args []string, inputDir string) ([]string, error) {
	paths := append([]string(nil), args...)
	if inputDir != "" {
		discovered, err := nessus.DiscoverInputs(inputDir)
		if err != nil {
			return nil, err
		}
		paths = append(paths, discovered...)
	}
	if len(paths) == 0 {
		return nil, errors.New("no input files: pass export files as arguments or set --input-dir")
	}
	return paths, nil
}

// executeRun drives the pipeline end-to-end and assembles the run summary.
func executeRun(ctx context.Context, cfg *config.Config, opts runOptions, logger *zap.Logger) (*schemas.RunSummary, error) {
	runID := uuid.NewString()
	logger.Info("Starting run",
		zap.String("run_id", runID),
		zap.String("scope", string(opts.Scope)),
		zap.Strings("files", opts.Paths),
		zap.Bool("dry_run", opts.DryRun))

	summary := &schemas.RunSummary{
		RunID:     runID,
		Scope:     opts.Scope,
		DryRun:    opts.DryRun,
		StartedAt: time.Now().UTC(),
	}

	result, err := nessus.NewLoader(logger).Load(ctx, opts.Paths...)
	if err != nil {
		return nil, err
	}
	summary.FilesLoaded = len(result.Files)
	summary.FindingsTotal = len(result.Findings)
	summary.RowErrors = result.RowErrors

	catMap, err := categories.NewStore(cfg.Pipeline.CategoryMap, logger).Load()
	if err != nil {
		return nil, err
	}
	classifier := categories.NewClassifier(catMap, logger)

	flaws := consolidate.New(classifier, opts.Scope, cfg.SeverityFloor(), logger).Consolidate(result.Findings)
	flaws = enrich.New(cfg.Pipeline.NonCore, cfg.Pipeline.ScreenshotDir, logger).Enrich(flaws)
	summary.FlawsTotal = len(flaws)
	summary.Warnings = classifier.Warnings()

	components, err := initializeRunComponents(ctx, cfg, opts.DryRun, logger)
	if err != nil {
		if components != nil {
			components.Shutdown(logger)
		}
		return nil, fmt.Errorf("failed to initialize run components: %w", err)
	}
	defer components.Shutdown(logger)

	records, err := components.Ledger.Load(ctx)
	if err != nil {
		return nil, err
	}

	var liveRemoteIDs map[string]bool
	if cfg.Pipeline.RefreshRemote {
		// A read, not a write, so it runs even under --dry-run: the partition
		// should reflect what is actually live on the platform.
		liveRemoteIDs, err = components.Client.ListFlaws(ctx)
		if err != nil {
			return nil, fmt.Errorf("refreshing remote flaw ids: %w", err)
		}
	}

	plan := reconcile.New(logger).Partition(flaws, records, liveRemoteIDs)

	outcomes, err := components.Uploader.Run(ctx, runID, plan)
	if err != nil {
		return nil, err
	}

	summary.Outcomes = outcomes
	summary.CountOutcomes()
	summary.FinishedAt = time.Now().UTC()

	logger.Info("Run finished.",
		zap.String("run_id", runID),
		zap.Int("created", summary.Created),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// runComponents holds the initialized upload-side services.
type runComponents struct {
	Client   *platform.Client
	Ledger   ledger.Ledger
	Uploader *uploader.Uploader

	pool *pgxpool.Pool
}

// Shutdown closes the ledger and, for the postgres backend, its pool.
func (rc *runComponents) Shutdown(logger *zap.Logger) {
	if rc.Ledger != nil {
		if err := rc.Ledger.Close(); err != nil {
			logger.Warn("Error closing ledger", zap.Error(err))
		}
	}
	if rc.pool != nil {
		rc.pool.Close()
	}
}

// initializeRunComponents handles dependency injection for the upload side.
func initializeRunComponents(ctx context.Context, cfg *config.Config, dryRun bool, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	client, err := platform.NewClient(cfg.Platform, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize platform client: %w", err)
	}
	components.Client = client

	switch cfg.Ledger.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Ledger.PostgresDSN)
		if err != nil {
			return components, fmt.Errorf("failed to connect to ledger database: %w", err)
		}
		components.pool = pool

		led, err := ledger.NewPostgresLedger(ctx, pool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize postgres ledger: %w", err)
		}
		components.Ledger = led
	default:
		components.Ledger = ledger.NewFileLedger(cfg.Ledger.Path, logger)
	}

	up, err := uploader.New(client, components.Ledger, cfg.Uploader, dryRun, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize uploader: %w", err)
	}
	components.Uploader = up

	return components, nil
}

// writeReports renders the run summary: console always, plus an optional
// machine-readable report file.
func writeReports(out io.Writer, summary *schemas.RunSummary, format, path string, logger *zap.Logger) error {
	if err := reporting.Console(out).Write(summary); err != nil {
		return fmt.Errorf("failed to render run summary: %w", err)
	}
	if path == "" {
		return nil
	}

	reporter, err := reporting.New(format, path)
	if err != nil {
		return err
	}
	defer func() {
		if err := reporter.Close(); err != nil {
			logger.Error("Failed to close report file", zap.Error(err))
		}
	}()

	if err := reporter.Write(summary); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Info("Report written.", zap.String("format", format), zap.String("path", path))
	return nil
}
