package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export every memory, oldest first, as a JSON array. Embeddings are not included; import recomputes them.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	a := openApp(cmd)
	defer a.Close()

	entries, err := a.Memory.Export(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	printJSON(entries)
}
