package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"folio/internal/ipc"
)

func newSnapshotCommand(ctx *commandContext) *cobra.Command {
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and prune snapshot trees",
	}

	snapshotCmd.AddCommand(newSnapshotDescribeCommand(ctx))
	snapshotCmd.AddCommand(newSnapshotChildrenCommand(ctx))
	snapshotCmd.AddCommand(newSnapshotResetCommand(ctx))

	return snapshotCmd
}

func newSnapshotDescribeCommand(ctx *commandContext) *cobra.Command {
	var sandboxID int64
	var trackValue string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Show one snapshot and its history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sandboxID <= 0 {
				return fmt.Errorf("--sandbox is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SnapshotDescribe(sandboxID, trackValue)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				s := resp.Snapshot
				trackLabel := s.Track
				if trackLabel == "" {
					trackLabel = "(root)"
				}
				printLine(cmd, "Snapshot:  %d at track %s", s.ID, trackLabel)
				printLine(cmd, "Category:  %s", s.Category)
				printLine(cmd, "Provider:  %s", s.ProviderID)
				if s.Label != "" {
					printLine(cmd, "Label:     %s", s.Label)
				}
				printLine(cmd, "Created:   %s", s.CreatedAt)
				for _, entry := range resp.History {
					printLine(cmd, "  %s  %-5s  %s", entry.CreatedAt, entry.Level, entry.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&sandboxID, "sandbox", 0, "Sandbox id")
	cmd.Flags().StringVar(&trackValue, "track", "", "Track path (empty for root)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit snapshot as JSON")
	return cmd
}

func newSnapshotChildrenCommand(ctx *commandContext) *cobra.Command {
	var sandboxID int64
	var trackValue string

	cmd := &cobra.Command{
		Use:   "children",
		Short: "List the direct children of a track",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sandboxID <= 0 {
				return fmt.Errorf("--sandbox is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SnapshotChildren(sandboxID, trackValue)
				if err != nil {
					return err
				}
				if len(resp.Children) == 0 {
					printLine(cmd, "No children.")
					return nil
				}
				rows := make([][]string, 0, len(resp.Children))
				for _, child := range resp.Children {
					rows = append(rows, []string{
						child.Track,
						child.Category,
						child.ProviderID,
						child.Label,
						child.CreatedAt,
					})
				}
				printLine(cmd, "%s", renderTable(
					[]string{"TRACK", "CATEGORY", "PROVIDER", "LABEL", "CREATED"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&sandboxID, "sandbox", 0, "Sandbox id")
	cmd.Flags().StringVar(&trackValue, "track", "", "Track path (empty for root)")
	return cmd
}

func newSnapshotResetCommand(ctx *commandContext) *cobra.Command {
	var sandboxID int64
	var trackValue string
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the subtree rooted at a track",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sandboxID <= 0 {
				return fmt.Errorf("--sandbox is required")
			}
			if !confirmed {
				return fmt.Errorf("reset discards snapshots permanently; rerun with --yes to confirm")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.SnapshotReset(sandboxID, trackValue); err != nil {
					return err
				}
				label := trackValue
				if label == "" {
					label = "(root)"
				}
				printLine(cmd, "Reset subtree at track %s in sandbox %s", label, strconv.FormatInt(sandboxID, 10))
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&sandboxID, "sandbox", 0, "Sandbox id")
	cmd.Flags().StringVar(&trackValue, "track", "", "Track path (empty for root)")
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm the destructive reset")
	return cmd
}
