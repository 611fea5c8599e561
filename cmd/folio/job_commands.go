package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Submit and inspect workflow jobs",
	}

	jobCmd.AddCommand(newJobSubmitCommand(ctx))
	jobCmd.AddCommand(newJobStatusCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobCancelCommand(ctx))

	return jobCmd
}

func newJobSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		user       string
		project    string
		sandboxID  int64
		startTrack string
		workflow   string
		mode       string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a workflow run against a sandbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflow == "" {
				return fmt.Errorf("--workflow is required")
			}
			if sandboxID <= 0 {
				return fmt.Errorf("--sandbox is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobSubmit(ipc.JobSubmitRequest{
					User:       user,
					Project:    project,
					SandboxID:  sandboxID,
					StartTrack: startTrack,
					Workflow:   workflow,
					Mode:       mode,
				})
				if err != nil {
					return err
				}
				printLine(cmd, "Submitted job %s (%d steps)", resp.Job.ID, resp.Job.TotalSteps)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Submitting user")
	cmd.Flags().StringVar(&project, "project", "", "Project name")
	cmd.Flags().Int64Var(&sandboxID, "sandbox", 0, "Sandbox id")
	cmd.Flags().StringVar(&startTrack, "track", "", "Start track (empty for root)")
	cmd.Flags().StringVar(&workflow, "workflow", "", "Installed workflow name")
	cmd.Flags().StringVar(&mode, "mode", "", "Concurrency mode (sequential or parallel)")
	return cmd
}

func newJobStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobStatus(args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Job)
				}
				renderJob(cmd, resp.Job)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit job as JSON")
	return cmd
}

func renderJob(cmd *cobra.Command, j ipc.JobView) {
	colorize := shouldColorize(cmd.OutOrStdout())
	printLine(cmd, "Job:       %s", j.ID)
	printLine(cmd, "Workflow:  %s (%s)", j.Workflow, j.Mode)
	printLine(cmd, "Sandbox:   %d in project %s", j.SandboxID, j.Project)
	printLine(cmd, "State:     %s", colorizeState(j.State, colorize))
	printLine(cmd, "Progress:  %d/%d (%.0f%%)", j.StepsCompleted, j.TotalSteps, j.Progress*100)
	if j.Message != "" {
		printLine(cmd, "Message:   %s", j.Message)
	}
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp.Jobs)
				}
				if len(resp.Jobs) == 0 {
					printLine(cmd, "No jobs.")
					return nil
				}
				colorize := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(resp.Jobs))
				for _, j := range resp.Jobs {
					rows = append(rows, []string{
						j.ID,
						j.Workflow,
						strconv.FormatInt(j.SandboxID, 10),
						colorizeState(j.State, colorize),
						fmt.Sprintf("%d/%d", j.StepsCompleted, j.TotalSteps),
					})
				}
				printLine(cmd, "%s", renderTable(
					[]string{"ID", "WORKFLOW", "SANDBOX", "STATE", "STEPS"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit jobs as JSON")
	return cmd
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cooperative cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.JobCancel(user, args[0]); err != nil {
					return err
				}
				printLine(cmd, "Cancellation requested for %s", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Requesting user")
	return cmd
}
