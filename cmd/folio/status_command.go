package main

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				renderStatus(cmd, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit status as JSON")
	return cmd
}

func renderStatus(cmd *cobra.Command, status *ipc.StatusResponse) {
	running := "stopped"
	if status.Running {
		running = "running"
	}
	printLine(cmd, "Daemon:      %s (pid %d)", running, status.PID)
	printLine(cmd, "Database:    %s", status.DatabasePath)
	printLine(cmd, "Socket:      %s", status.SocketPath)
	printLine(cmd, "Providers:   %s", strconv.Itoa(status.Providers))
	printLine(cmd, "Active jobs: %s", strconv.Itoa(status.ActiveJobs))
	if len(status.Endpoints) > 0 {
		printLine(cmd, "Remotes:     %s", strings.Join(status.Endpoints, ", "))
	}
}
