package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download a zip archive of snapshot metadata and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return fmt.Errorf("--out is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				archive, err := client.ExportHistory()
				if err != nil {
					return err
				}
				if err := os.WriteFile(outPath, archive, 0o644); err != nil {
					return fmt.Errorf("write archive: %w", err)
				}
				printLine(cmd, "Wrote %d bytes to %s", len(archive), outPath)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Destination file for the archive")
	return cmd
}
