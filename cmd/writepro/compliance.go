package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/WriteProRO/writeproro-backendv2/pkg/compliance"
)

func newComplianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "Compliance reporting over the audit trail",
	}

	cmd.AddCommand(
		newComplianceStatusCmd(),
		newComplianceExportCmd(),
	)
	return cmd
}

func newComplianceStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last-24h compliance snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := openAuditStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			snapshot, err := compliance.New(store).StatusLast24h(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Window:        %s .. %s\n",
				snapshot.WindowStart.Format(time.RFC3339), snapshot.WindowEnd.Format(time.RFC3339))
			fmt.Printf("Accesses:      %d total, %d authorized, %d unauthorized\n",
				snapshot.TotalAccesses, snapshot.Authorized, snapshot.Unauthorized)
			fmt.Printf("Score:         %.1f%%\n", snapshot.Score)
			fmt.Print(formatSubsystemUsage(snapshot.Subsystems))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to writepro config file")
	return cmd
}

func newComplianceExportCmd() *cobra.Command {
	var (
		configPath string
		startDate  string
		endDate    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export per-day and per-subsystem aggregation as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse("2006-01-02", startDate)
			if err != nil {
				return fmt.Errorf("invalid --start date (use YYYY-MM-DD): %w", err)
			}
			end, err := time.Parse("2006-01-02", endDate)
			if err != nil {
				return fmt.Errorf("invalid --end date (use YYYY-MM-DD): %w", err)
			}

			store, cleanup, err := openAuditStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			export, err := compliance.New(store).Export(context.Background(), start, end)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(export)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to writepro config file")
	cmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
