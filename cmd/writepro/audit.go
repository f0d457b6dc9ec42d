package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/WriteProRO/writeproro-backendv2/pkg/audit"
	"github.com/WriteProRO/writeproro-backendv2/pkg/config"
	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the compliance audit trail",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditShowCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath string
		caller     string
		subsystem  string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search usage events",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openAuditStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.UsageQueryOpts{
				Caller:    caller,
				Subsystem: subsystem,
				Limit:     limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			events, err := store.QueryUsage(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatUsageEvents(events))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to writepro config file")
	cmd.Flags().StringVar(&caller, "caller", "", "filter by caller identity")
	cmd.Flags().StringVar(&subsystem, "subsystem", "", "filter by subsystem")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to return")

	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var (
		configPath string
		caller     string
		endpoint   string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show elevated-path access events",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openAuditStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := store.QueryAccess(context.Background(), models.AccessQueryOpts{
				Caller:   caller,
				Endpoint: endpoint,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			fmt.Print(formatAccessEvents(events))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to writepro config file")
	cmd.Flags().StringVar(&caller, "caller", "", "filter by caller identity")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "filter by endpoint path")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to return")

	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show audit activity by subsystem and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openAuditStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			until := time.Now().UTC()
			since := until.AddDate(0, 0, -days)
			ctx := context.Background()

			bySubsystem, err := store.UsageBySubsystem(ctx, since, until)
			if err != nil {
				return err
			}
			byDay, err := store.AccessByDay(ctx, since, until)
			if err != nil {
				return err
			}

			fmt.Print(formatSubsystemUsage(bySubsystem))
			fmt.Println()
			fmt.Print(formatDayAccess(byDay))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to writepro config file")
	cmd.Flags().IntVar(&days, "days", 7, "window size in days")
	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit events older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openAuditStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := store.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit events.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to writepro config file")
	return cmd
}

func openAuditStore(configPath string) (*audit.Store, func(), error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
	}

	store, err := audit.NewStore(cfg.Audit, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func formatUsageEvents(events []models.UsageEvent) string {
	if len(events) == 0 {
		return "No usage events found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-6s %-14s %-20s %-6s %-20s\n",
		"CALLER", "VIN", "SUBSYSTEM", "SUBMITTER", "CACHE", "TIME")
	b.WriteString(strings.Repeat("-", 92) + "\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%-20s %-6s %-14s %-20s %-6v %-20s\n",
			e.Caller, e.VINSuffix, e.Subsystem, e.Submitter, e.CacheServed,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAccessEvents(events []models.AccessEvent) string {
	if len(events) == 0 {
		return "No access events found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-45s %-16s %-10s %-20s\n",
		"CALLER", "ENDPOINT", "SOURCE", "AUTHORIZED", "TIME")
	b.WriteString(strings.Repeat("-", 116) + "\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%-20s %-45s %-16s %-10v %-20s\n",
			e.Caller, e.Endpoint, e.SourceAddr, e.Authorized,
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatSubsystemUsage(rows []models.SubsystemUsage) string {
	if len(rows) == 0 {
		return "No usage recorded in window.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-16s %8s %10s\n", "SUBSYSTEM", "COUNT", "ENHANCED")
	b.WriteString(strings.Repeat("-", 36) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-16s %8d %10d\n", r.Subsystem, r.Count, r.EnhancedCount)
	}
	return b.String()
}

func formatDayAccess(rows []models.DayAccess) string {
	if len(rows) == 0 {
		return "No access attempts recorded in window.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %8s %12s\n", "DAY", "COUNT", "AUTHORIZED")
	b.WriteString(strings.Repeat("-", 34) + "\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-12s %8d %12d\n", r.Day, r.Count, r.Authorized)
	}
	return b.String()
}
