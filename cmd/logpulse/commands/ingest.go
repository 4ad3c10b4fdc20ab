package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shizukutanaka/logpulse/internal/ingest"
)

var (
	ingestSource      string
	ingestEnvironment string
	ingestLogType     string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Upload and ingest local log files",
	Args:  cobra.MinimumNArgs(1),
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

		ctx := context.Background()
		for _, path := range args {
			in, err := os.Open(path)
			if err != nil {
				return err
			}

			file, err := a.coordinator.Intake(ctx, in, ingest.Meta{
				Filename:    filepath.Base(path),
				Source:      ingestSource,
				Environment: ingestEnvironment,
				LogType:     ingestLogType,
			})
			in.Close()
			if err != nil {
				return err
			}

			if err := a.coordinator.Ingest(ctx, file.ID); err != nil {
				return err
			}

			processed, err := a.files.Get(ctx, file.ID)
			if err != nil {
				return err
			}
			fmt.Printf("file %d %s: %d lines, %d parsed, %d failed\n",
				processed.ID, processed.Filename,
				processed.TotalLines, processed.ParsedLines, processed.FailedLines)
		}

		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "cli", "source tag recorded on the file")
	ingestCmd.Flags().StringVar(&ingestEnvironment, "environment", "", "environment tag recorded on the file")
	ingestCmd.Flags().StringVar(&ingestLogType, "log-type", "", "log type hint recorded on the file")
	rootCmd.AddCommand(ingestCmd)
}
