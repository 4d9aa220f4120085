package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "dream [theme]",
		Short: "Weave memories into a short dream",
		Long:  "Dream about memories matching a theme, or about the most recent ones when no theme is given. Output never exceeds --tokens.",
		Run:   runDream,
	}

	cmd.Flags().IntP("k", "k", 0, "Memories to dream about (default from config)")
	cmd.Flags().Int("tokens", 0, "Token ceiling (default from config)")

	RootCmd.AddCommand(cmd)
}

func runDream(cmd *cobra.Command, args []string) {
	k, _ := cmd.Flags().GetInt("k")
	tokens, _ := cmd.Flags().GetInt("tokens")
	theme := strings.Join(args, " ")

	a := openApp(cmd)
	defer a.Close()

	d, err := a.Dream.Dream(cmd.Context(), theme, k, tokens)
	if err != nil {
		exitErr("dream", err)
	}

	if textFormat() {
		fmt.Println(d.Text)
		return
	}
	printJSON(d)
}
