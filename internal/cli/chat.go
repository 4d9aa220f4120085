package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/closer/internal/chat"
	"github.com/rcliao/closer/internal/logging"
	"github.com/rcliao/closer/internal/mcp"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk with the companion in the terminal",
		Long: "Read one message per line and answer it from recalled memories. " +
			"The model may call the same tools the MCP server exposes before replying. Type quit or exit to leave.",
		Run: runChat,
	}

	cmd.Flags().IntP("k", "k", 0, "Memories recalled per message (default from config)")
	cmd.Flags().Int("tokens", 0, "Reply token limit")
	cmd.Flags().Bool("no-tools", false, "Ignore tool calls from the model")

	RootCmd.AddCommand(cmd)
}

func runChat(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k, _ := cmd.Flags().GetInt("k")
	tokens, _ := cmd.Flags().GetInt("tokens")
	noTools, _ := cmd.Flags().GetBool("no-tools")

	a := openApp(cmd)
	defer a.Close()

	var tools chat.Dispatcher
	if !noTools {
		srv, err := mcp.NewServer(a, logging.ForComponent("mcp"))
		if err != nil {
			exitErr("mcp", err)
		}
		tools = srv
		fmt.Fprintf(os.Stderr, "Connected. Tools: %s\n", strings.Join(srv.ToolNames(), ", "))
	}

	s := chat.New(a.Retrieval, a.Generator, tools, chat.Config{
		K:            k,
		MinRelevance: -1,
		MaxTokens:    tokens,
	}, logging.ForComponent("chat"))

	if err := chat.Run(ctx, s, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		exitErr("chat", err)
	}
}
