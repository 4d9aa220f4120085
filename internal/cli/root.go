// Package cli implements the closer CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/closer/internal/app"
	"github.com/rcliao/closer/internal/config"
	"github.com/rcliao/closer/internal/logging"
)

var (
	dbPath     string
	configPath string
	logLevel   string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "closer",
	Short: "Semantic memory for a conversational companion",
	Long: "Closer stores short memories with embeddings, recalls the relevant ones, " +
		"and turns them into bounded reflections and dreams. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $CLOSER_DB or ~/.closer/closer_memory.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.closer/config.yaml if present)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

// loadConfig applies flags on top of file and environment configuration
// and initialises logging.
func loadConfig() config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		exitErr("log level", err)
	}
	logging.Init(logging.Config{Level: level, Format: cfg.Log.Format, Output: os.Stderr})
	return cfg
}

func openApp(cmd *cobra.Command) *app.App {
	a, err := app.New(cmd.Context(), loadConfig(), app.Options{})
	if err != nil {
		exitErr("open store", err)
	}
	return a
}

// textArg joins positional args, falling back to piped stdin.
func textArg(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func textFormat() bool { return formatFlag == "text" }

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
