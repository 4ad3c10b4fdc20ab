package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/logpulse/internal/analytics"
)

var (
	analyzeStart  string
	analyzeEnd    string
	analyzeFileID int64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the anomaly and clustering pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		a, err := newApp(cfg, logger, false)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := analytics.RunOptions{Trigger: "cli"}
		if analyzeStart != "" {
			start, err := time.Parse(time.RFC3339, analyzeStart)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			opts.Start = &start
		}
		if analyzeEnd != "" {
			end, err := time.Parse(time.RFC3339, analyzeEnd)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			opts.End = &end
		}
		if analyzeFileID > 0 {
			opts.FileID = &analyzeFileID
		}

		summary, err := a.runner.Run(context.Background(), opts)
		if err != nil {
			return err
		}

		fmt.Printf("windows: %d\nanomalies: %d\nclusters: %d\n",
			summary.Windows, summary.Anomalies, summary.Clusters)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeStart, "start", "", "range start (RFC3339), default range end minus the configured default")
	analyzeCmd.Flags().StringVar(&analyzeEnd, "end", "", "range end (RFC3339), default now")
	analyzeCmd.Flags().Int64Var(&analyzeFileID, "file", 0, "scope anomaly windows to one file id")
	rootCmd.AddCommand(analyzeCmd)
}
