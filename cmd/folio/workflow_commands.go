package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Install and inspect workflow definitions",
	}

	workflowCmd.AddCommand(newWorkflowInstallCommand(ctx))
	workflowCmd.AddCommand(newWorkflowListCommand(ctx))
	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))

	return workflowCmd
}

func newWorkflowInstallCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "install <definition.yaml>",
		Short: "Install or replace a workflow from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read definition: %w", err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowInstall(string(data))
				if err != nil {
					return err
				}
				printLine(cmd, "Installed workflow %s (%d steps)", resp.Workflow.Name, resp.Workflow.Steps)
				return nil
			})
		},
	}
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowList()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Workflows)
				}
				if len(resp.Workflows) == 0 {
					printLine(cmd, "No workflows installed.")
					return nil
				}
				rows := make([][]string, 0, len(resp.Workflows))
				for _, wf := range resp.Workflows {
					rows = append(rows, []string{
						wf.Name,
						wf.Description,
						strconv.Itoa(wf.Steps),
						wf.UpdatedAt,
					})
				}
				printLine(cmd, "%s", renderTable(
					[]string{"NAME", "DESCRIPTION", "STEPS", "UPDATED"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit workflows as JSON")
	return cmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a workflow definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkflowShow(args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), resp.Definition)
				return nil
			})
		},
	}
}
