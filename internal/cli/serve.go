package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/closer/internal/logging"
	"github.com/rcliao/closer/internal/mcp"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory tools over MCP on stdio",
		Run:   runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := openApp(cmd)
	defer a.Close()

	srv, err := mcp.NewServer(a, logging.ForComponent("mcp"))
	if err != nil {
		exitErr("mcp", err)
	}
	if err := srv.Serve(ctx, mcp.Stdio(os.Stdin, os.Stdout)); err != nil {
		exitErr("serve", err)
	}
}
