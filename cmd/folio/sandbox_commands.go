package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newSandboxCommand(ctx *commandContext) *cobra.Command {
	sandboxCmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Manage project sandboxes",
	}

	sandboxCmd.AddCommand(newSandboxCreateCommand(ctx))
	sandboxCmd.AddCommand(newSandboxListCommand(ctx))
	sandboxCmd.AddCommand(newSandboxSetStateCommand(ctx))
	sandboxCmd.AddCommand(newSandboxHistoryCommand(ctx))
	sandboxCmd.AddCommand(newSandboxResetCommand(ctx))

	return sandboxCmd
}

func newSandboxCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <project> <name>",
		Short: "Create a sandbox in a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SandboxCreate(args[0], args[1])
				if err != nil {
					return err
				}
				printLine(cmd, "Created sandbox %d (%s/%s)", resp.Sandbox.ID, resp.Sandbox.Project, resp.Sandbox.Name)
				return nil
			})
		},
	}
}

func newSandboxListCommand(ctx *commandContext) *cobra.Command {
	var project string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sandboxes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SandboxList(project)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Sandboxes)
				}
				if len(resp.Sandboxes) == 0 {
					printLine(cmd, "No sandboxes.")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(resp.Sandboxes))
				for _, sb := range resp.Sandboxes {
					rows = append(rows, []string{
						strconv.FormatInt(sb.ID, 10),
						sb.Project,
						sb.Name,
						colorizeState(sb.State, colorize),
						sb.CreatedAt,
					})
				}
				printLine(cmd, "%s", renderTable(
					[]string{"ID", "PROJECT", "NAME", "STATE", "CREATED"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "Limit to one project")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit sandboxes as JSON")
	return cmd
}

func newSandboxSetStateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-state <id> <state>",
		Short: "Change a sandbox lifecycle state (active, paused, closed, secured, canceled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.SandboxSetState(id, args[1]); err != nil {
					return err
				}
				printLine(cmd, "Sandbox %d is now %s", id, args[1])
				return nil
			})
		},
	}
}

func newSandboxResetCommand(ctx *commandContext) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Clear a sandbox's entire snapshot tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			if !confirmed {
				return fmt.Errorf("reset discards the whole tree permanently; rerun with --yes to confirm")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.SandboxReset(id); err != nil {
					return err
				}
				printLine(cmd, "Sandbox %d snapshot tree cleared", id)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm the destructive reset")
	return cmd
}

func newSandboxHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show sandbox-level history lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(id)
				if err != nil {
					return err
				}
				if len(resp.Entries) == 0 {
					printLine(cmd, "No history.")
					return nil
				}
				for _, entry := range resp.Entries {
					printLine(cmd, "%s  %-5s  %s", entry.CreatedAt, entry.Level, entry.Message)
				}
				return nil
			})
		},
	}
}
