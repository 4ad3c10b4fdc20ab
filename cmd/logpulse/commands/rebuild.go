package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <file-id>",
	Short: "Discard a file's entries and re-ingest it from the stored copy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid file id: %s", args[0])
		}

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
		if err := a.coordinator.Rebuild(ctx, fileID); err != nil {
			return err
		}

		file, err := a.files.Get(ctx, fileID)
		if err != nil {
			return err
		}
		fmt.Printf("file %d rebuilt: %d lines, %d parsed, %d failed\n",
			file.ID, file.TotalLines, file.ParsedLines, file.FailedLines)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}
