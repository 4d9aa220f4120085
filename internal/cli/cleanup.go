package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/closer/internal/lifecycle"
)

func init() {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete matching memories after taking a snapshot",
		Long: "Delete every memory matching the given criteria. Every run except --dry-run first writes a snapshot " +
			"of the store, even when nothing matches, and rotates old snapshots out. Patterns match case-insensitively.",
		Run: runCleanup,
	}

	cmd.Flags().StringArrayP("pattern", "p", nil, "Substring to match (repeatable)")
	cmd.Flags().Bool("default-patterns", false, "Match known test and placeholder strings")
	cmd.Flags().Bool("duplicates", false, "Match exact duplicates, keeping the oldest")
	cmd.Flags().StringArray("id", nil, "Memory ID to delete (repeatable)")
	cmd.Flags().Bool("dry-run", false, "Report matches without deleting")

	RootCmd.AddCommand(cmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	patterns, _ := cmd.Flags().GetStringArray("pattern")
	defaults, _ := cmd.Flags().GetBool("default-patterns")
	dups, _ := cmd.Flags().GetBool("duplicates")
	ids, _ := cmd.Flags().GetStringArray("id")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var preds []lifecycle.Predicate
	if defaults {
		patterns = append(patterns, lifecycle.DefaultContaminationPatterns...)
	}
	if len(patterns) > 0 {
		preds = append(preds, lifecycle.ContainsAny(patterns...))
	}
	if dups {
		preds = append(preds, lifecycle.Duplicates())
	}
	if len(ids) > 0 {
		preds = append(preds, lifecycle.IDs(ids...))
	}
	if len(preds) == 0 {
		exitErr("cleanup", fmt.Errorf("nothing to match: give --pattern, --default-patterns, --duplicates or --id"))
	}

	a := openApp(cmd)
	defer a.Close()

	report, err := a.Memory.Cleanup(cmd.Context(), lifecycle.Any(preds...), lifecycle.CleanupOptions{DryRun: dryRun})
	if err != nil {
		exitErr("cleanup", err)
	}

	printJSON(report)
}
