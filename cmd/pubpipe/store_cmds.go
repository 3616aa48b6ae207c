package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/publication-pipeline/internal/analytics"
	"github.com/jonathan/publication-pipeline/internal/enrich"
	"github.com/jonathan/publication-pipeline/internal/export"
	"github.com/jonathan/publication-pipeline/internal/observability"
	"github.com/jonathan/publication-pipeline/internal/reconcile"
	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/types"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Remove duplicate titles and install the unique title index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := reconcile.Run(ctx, s)
		observability.NewPrinter(cmd.OutOrStdout()).PrintReconcileReport(report)
		return err
	},
}

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Rebuild the analytics fact table from the raw records",
	Long: `Enriches every raw record with synthetic quartile, country, impact, citation
and keyword values and replaces the fact table. Prints publications per year.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := enrich.Run(ctx, s, nil)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enriched %d records (synthetic values)\n", result.Written)

		recs, err := s.ListEnriched(ctx, store.Filter{})
		if err != nil {
			return fmt.Errorf("failed to read fact table: %w", err)
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintYearCounts(analytics.TimeDistribution(recs))
		return nil
	},
}

var (
	exportOut      string
	exportSource   string
	exportEnriched bool
	exportUpload   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a JSON snapshot of the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		opts := export.Options{Path: cfg.Export.Path, Enriched: exportEnriched}
		if exportOut != "" {
			opts.Path = exportOut
		}
		if exportSource != "" {
			src, err := types.ParseSource(exportSource)
			if err != nil {
				return err
			}
			opts.Source = src
		}
		if exportUpload {
			uploader, err := newUploader()
			if err != nil {
				return err
			}
			if uploader == nil {
				return fmt.Errorf("--upload needs export.s3_bucket or PUBPIPE_S3_BUCKET")
			}
			opts.Uploader = uploader
		}

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := export.Export(ctx, s, opts)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", result.Records, result.Path)
		if up := result.Upload; up != nil {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Uploaded s3://%s/%s\n", up.Bucket, up.Key)
		}
		return nil
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every record, the fact table and the unique index",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !clearYes {
			return fmt.Errorf("refusing to clear the store without --yes")
		}
		ctx := cmd.Context()
		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Drop(ctx); err != nil {
			return fmt.Errorf("failed to clear store: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", store.Redact(cfg.StoreURL))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (defaults to export.path)")
	exportCmd.Flags().StringVarP(&exportSource, "source", "s", "", "Only export one source: acm, ieee or sd")
	exportCmd.Flags().BoolVar(&exportEnriched, "enriched", false, "Export the fact table instead of raw records")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false, "Also upload a gzip copy to S3")

	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm deleting all data")

	rootCmd.AddCommand(reconcileCmd, etlCmd, exportCmd, clearCmd)
}
