package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the web via Brave Search",
		Long:  "Fetch fresh external context. Requires CLOSER_BRAVE_API_KEY (or BRAVE_API_KEY).",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "n", 10, "Max results (1-20)")
	cmd.Flags().String("country", "US", "ISO country code")
	cmd.Flags().String("lang", "en", "Language code")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	country, _ := cmd.Flags().GetString("country")
	lang, _ := cmd.Flags().GetString("lang")
	query := strings.Join(args, " ")

	a := openApp(cmd)
	defer a.Close()

	results, err := a.Search.Search(cmd.Context(), query, limit, country, lang)
	if err != nil {
		exitErr("search", err)
	}

	if textFormat() {
		for _, r := range results {
			fmt.Printf("%s\n  %s\n  %s\n", r.Title, r.Link, r.Snippet)
		}
		return
	}
	printJSON(results)
}
