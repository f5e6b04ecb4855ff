package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gribget/internal/cache"
	"github.com/dgnsrekt/gribget/internal/config"
	"github.com/dgnsrekt/gribget/internal/engine"
	"github.com/dgnsrekt/gribget/internal/fetch"
	"github.com/dgnsrekt/gribget/internal/index"
	"github.com/dgnsrekt/gribget/internal/subset"
)

func fetchCmd() *cobra.Command {
	var (
		dryRun     bool
		fields     []string
		hours      []int
		outDir     string
		mirror     string
		bestEffort bool
		noCache    bool
	)

	cmd := &cobra.Command{
		Use:   "fetch YYYYMMDDHH",
		Short: "Fetch a parameter subset for one model run",
		Long: `Fetch a parameter subset of a HRRR model run from a public archive.

The run is named by date and cycle hour, e.g. 2020051812 for the
2020-05-18 12z run. Only the bytes covering the selected fields are
transferred; the sidecar .idx file supplies the ranges.

Examples:
  # Surface gust and 500 mb temperature, analysis hour
  gribget fetch 2020051812 --field GUST@surface --field "TMP@500 mb"

  # Forecast hours 1 through 3 with the config-file field list
  gribget fetch 2020051812 --fh 1 --fh 2 --fh 3

  # Dry run to see the resolved fields and target URLs
  gribget fetch --dry-run 2020051812`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			day, cycle, err := parseRun(args[0])
			if err != nil {
				return err
			}
			if mirror != "" {
				cfg.Source.Mirror = mirror
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			effectiveFields := cfg.Fields
			if len(fields) > 0 {
				effectiveFields = fields
			}
			if len(effectiveFields) == 0 {
				return fmt.Errorf("no fields selected (use --field or set fields in the config)")
			}
			queries, err := config.ResolveFields(effectiveFields)
			if err != nil {
				return err
			}

			logger.Info("resolved fields",
				zap.Int("count", len(queries)),
				zap.String("run", args[0]),
				zap.Ints("forecast_hours", hours))

			if dryRun {
				for _, fh := range hours {
					fmt.Printf("Would fetch: %s\n", cfg.ArchiveURL(day, cycle, fh))
				}
				for _, q := range queries {
					fmt.Printf("  field: %+v\n", q)
				}
				return nil
			}

			policy := fetch.DefaultPolicy()
			policy.Attempts = cfg.Fetch.RetryAttempts
			policy.BackoffBase = cfg.RetryBackoff()
			fetcher := fetch.New(
				cfg.Fetch.MaxConcurrentPerHost,
				cfg.Fetch.RatePerSecond,
				cfg.PerAttemptTimeout(),
				policy,
				logger,
			)

			var store cache.Store
			if !noCache {
				store, err = cache.NewDiskStore(cfg.Cache.Directory, cfg.Cache.MaxBytes, cfg.CacheMaxAge(), logger)
				if err != nil {
					return fmt.Errorf("opening cache: %w", err)
				}
				defer func() { _ = store.Close() }()
			}

			eng := engine.New(fetcher, store, engine.Options{
				SubsetTimeout:   cfg.SubsetTimeout(),
				BestEffort:      bestEffort || cfg.Subset.BestEffort,
				VerifyFraming:   cfg.Subset.VerifyFraming,
				DuplicatePolicy: index.DuplicatePolicy(cfg.Index.DuplicatePolicy),
			}, logger)

			var failed int
			for _, fh := range hours {
				src := engine.Source{
					ID:       "hrrr-" + cfg.Source.Mirror,
					RunID:    args[0],
					Step:     fmt.Sprintf("f%02d", fh),
					GridURL:  cfg.ArchiveURL(day, cycle, fh),
					IndexURL: cfg.IndexURL(day, cycle, fh),
				}

				sub, err := eng.FetchSubset(ctx, src, queries)
				if err != nil {
					if errors.Is(err, engine.ErrCancelled) {
						return err
					}
					logger.Error("subset fetch failed",
						zap.String("run", src.RunID),
						zap.String("step", src.Step),
						zap.Error(err))
					failed++
					continue
				}

				path, err := writeSubset(outDir, day, cycle, fh, sub)
				if err != nil {
					return err
				}
				logger.Info("subset written",
					zap.String("path", path),
					zap.Int("messages", len(sub.Messages)),
					zap.Int("missing", len(sub.Missing)),
					zap.Int64("bytes", sub.Size()))
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d forecast hours failed", failed, len(hours))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be fetched")
	cmd.Flags().StringArrayVar(&fields, "field", nil, "field selection PARAM[@LEVEL[@QUALIFIER]] (repeatable, overrides config)")
	cmd.Flags().IntSliceVar(&hours, "fh", []int{0}, "forecast hour (repeatable)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().StringVar(&mirror, "mirror", "", "archive mirror override (google, aws, nomads)")
	cmd.Flags().BoolVar(&bestEffort, "best-effort", false, "keep going when individual ranges fail")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the local subset cache")

	return cmd
}

// parseRun splits a YYYYMMDDHH run name into its date and cycle hour.
func parseRun(run string) (time.Time, int, error) {
	t, err := time.Parse("2006010215", run)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid run %q (use YYYYMMDDHH, e.g. 2020051812): %w", run, err)
	}
	return t.Truncate(24 * time.Hour), t.Hour(), nil
}

// writeSubset stores the assembled grid bytes plus a manifest naming
// each message's identity and position.
func writeSubset(dir string, day time.Time, cycle, fh int, sub *subset.Subset) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	name := fmt.Sprintf("hrrr.%s.t%02dz.f%02d.subset.grib2", day.Format("20060102"), cycle, fh)
	path := filepath.Join(dir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := sub.WriteTo(out); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	manifest, err := json.MarshalIndent(sub.Manifest(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path+".manifest.json", manifest, 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}
