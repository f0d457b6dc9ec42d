package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	cachepkg "github.com/WriteProRO/writeproro-backendv2/pkg/cache/sqlite"
	"github.com/WriteProRO/writeproro-backendv2/pkg/config"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			c, err := cachepkg.New(cfg.DBPath, nil)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\nHits:    %d\nMisses:  %d\n", stats.Entries, stats.Hits, stats.Misses)
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			c, err := cachepkg.New(cfg.DBPath, nil)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			deleted, err := c.Clear(context.Background(), expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Printf("Cleared %d expired cache entries.\n", deleted)
			} else {
				fmt.Printf("Cleared %d cache entries.\n", deleted)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "writepro.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
