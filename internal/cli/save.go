package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "save [text]",
		Short: "Store a memory",
		Long:  "Store a memory of at most the configured word ceiling. Text can be a positional arg or piped via stdin.",
		Run:   runSave,
	}

	cmd.Flags().StringToStringP("meta", "m", nil, "Metadata as key=value pairs")
	cmd.Flags().String("source", "cli", "Value of the source metadata key")

	RootCmd.AddCommand(cmd)
}

func runSave(cmd *cobra.Command, args []string) {
	meta, _ := cmd.Flags().GetStringToString("meta")
	source, _ := cmd.Flags().GetString("source")

	text := textArg(args)
	if strings.TrimSpace(text) == "" {
		exitErr("save", fmt.Errorf("text is required (positional arg or stdin)"))
	}
	if meta == nil {
		meta = map[string]string{}
	}
	if _, ok := meta["source"]; !ok && source != "" {
		meta["source"] = source
	}

	a := openApp(cmd)
	defer a.Close()

	id, err := a.Memory.Save(cmd.Context(), text, meta)
	if err != nil {
		exitErr("save", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q}`+"\n", id)
}
