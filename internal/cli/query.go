package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Recall memories relevant to a text",
		Args:  cobra.MinimumNArgs(1),
		Run:   runQuery,
	}

	cmd.Flags().IntP("k", "k", 0, "Max results (default from config)")
	cmd.Flags().Float64("min", -1, "Minimum relevance in [0,1] (default from config)")

	RootCmd.AddCommand(cmd)
}

func runQuery(cmd *cobra.Command, args []string) {
	k, _ := cmd.Flags().GetInt("k")
	minRel, _ := cmd.Flags().GetFloat64("min")
	text := strings.Join(args, " ")

	a := openApp(cmd)
	defer a.Close()

	results, err := a.Retrieval.Query(cmd.Context(), text, k, minRel)
	if err != nil {
		exitErr("query", err)
	}

	if textFormat() {
		for _, r := range results {
			fmt.Printf("%.3f  %s  %s\n", r.Relevance, r.Entry.ID, r.Entry.Text)
		}
		return
	}
	printJSON(results)
}
