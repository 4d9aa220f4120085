package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent memories",
		Run:   runList,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output IDs")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	a := openApp(cmd)
	defer a.Close()

	recent, err := a.Retrieval.Recent(cmd.Context(), limit)
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, r := range recent {
			fmt.Println(r.Entry.ID)
		}
		return
	}
	if textFormat() {
		for _, r := range recent {
			fmt.Printf("%s  %s  %s\n", r.Entry.CreatedAt.Format("2006-01-02 15:04"), r.Entry.ID, r.Entry.Text)
		}
		return
	}

	entries := make([]any, 0, len(recent))
	for _, r := range recent {
		entries = append(entries, r.Entry)
	}
	printJSON(entries)
}
