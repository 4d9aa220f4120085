package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/closer/internal/model"
	"github.com/rcliao/closer/internal/reflection"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reflect [topic]",
		Short: "Run a bounded reflection over memories",
		Long: "Run a self-dialogue about a topic, at most --depth turns deep (never more than the configured ceiling). " +
			"Nothing is stored unless --save is given, which saves the final turn as a new memory.",
		Args: cobra.MinimumNArgs(1),
		Run:  runReflect,
	}

	cmd.Flags().Int("depth", 0, "Turns to run, at most the configured maximum (default: the maximum)")
	cmd.Flags().IntP("k", "k", 0, "Memories retrieved per turn")
	cmd.Flags().Bool("save", false, "Save the final turn as a memory")

	RootCmd.AddCommand(cmd)
}

func runReflect(cmd *cobra.Command, args []string) {
	depth, _ := cmd.Flags().GetInt("depth")
	k, _ := cmd.Flags().GetInt("k")
	save, _ := cmd.Flags().GetBool("save")
	topic := strings.Join(args, " ")

	a := openApp(cmd)
	defer a.Close()

	r, err := a.Reflection.Reflect(cmd.Context(), topic, reflection.Options{Depth: depth, K: k})
	if err != nil {
		exitErr("reflect", err)
	}

	var savedID, saveErr string
	if save && r.Final() != "" {
		savedID, err = a.Memory.Save(cmd.Context(), r.Final(), map[string]string{
			"source":     "reflection",
			"reflection": r.ID,
		})
		if err != nil {
			saveErr = err.Error()
		}
	}

	if textFormat() {
		for _, t := range r.Turns {
			fmt.Printf("[%d] %s\n", t.Depth, t.Response)
		}
		if r.Partial {
			fmt.Printf("(partial: %s: %s)\n", r.StopReason, r.Error)
		}
		if saveErr != "" {
			fmt.Printf("(not saved: %s)\n", saveErr)
		}
		return
	}
	printJSON(struct {
		*model.Reflection
		SavedID   string `json:"saved_id,omitempty"`
		SaveError string `json:"save_error,omitempty"`
	}{r, savedID, saveErr})
}
