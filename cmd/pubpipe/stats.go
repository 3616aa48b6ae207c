package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/jonathan/publication-pipeline/internal/analytics"
	"github.com/jonathan/publication-pipeline/internal/observability"
	"github.com/jonathan/publication-pipeline/internal/server"
)

var (
	statsAPI     string
	statsYear    string
	statsCountry string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dashboard statistics from a running API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		base := statsAPI
		if base == "" {
			base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		client := resty.New().
			SetBaseURL(strings.TrimSuffix(base, "/")).
			SetTimeout(15 * time.Second)

		params := map[string]string{}
		if statsYear != "" {
			params["year"] = statsYear
		}
		if statsCountry != "" {
			params["country"] = statsCountry
		}

		ctx := cmd.Context()
		kpi, err := fetch[server.KPIResponse](ctx, client, "/api/kpi/summary", params)
		if err != nil {
			return err
		}
		years, err := fetch[[]analytics.YearCount](ctx, client, "/api/olap/time_distribution", params)
		if err != nil {
			return err
		}
		authors, err := fetch[[]analytics.AuthorCount](ctx, client, "/api/olap/authors", params)
		if err != nil {
			return err
		}

		p := observability.NewPrinter(cmd.OutOrStdout())
		p.PrintKPI(kpi.KPI, kpi.RawRecords)
		p.PrintYearCounts(years)
		p.PrintAuthors(authors)
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsAPI, "api", "", "API base URL (defaults to http://localhost:<server.port>)")
	statsCmd.Flags().StringVar(&statsYear, "year", "", "Only count one year")
	statsCmd.Flags().StringVar(&statsCountry, "country", "", "Only count one country")
	rootCmd.AddCommand(statsCmd)
}

// fetch GETs path and decodes the JSON body into T.
func fetch[T any](ctx context.Context, client *resty.Client, path string, params map[string]string) (T, error) {
	var out T
	var apiErr struct {
		Error string `json:"error"`
	}
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&out).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		return out, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return out, fmt.Errorf("GET %s: %s: %s", path, resp.Status(), apiErr.Error)
		}
		return out, fmt.Errorf("GET %s: %s", path, resp.Status())
	}
	return out, nil
}
