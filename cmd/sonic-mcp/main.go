package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/sonic-diagnostic/internal/auth"
	"github.com/fpang/sonic-diagnostic/internal/config"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/logging"
	"github.com/fpang/sonic-diagnostic/internal/mcpserver"
)

// Overridden with -ldflags "-X main.version=...".
var version = "dev"

var (
	modelFlag  string
	configFlag string
)

var rootCmd = &cobra.Command{
	Use:   "sonic-mcp",
	Short: "MCP server exposing the diagnose_media tool over stdio",
	Long: `Sonic MCP speaks the Model Context Protocol on stdin/stdout so that agents
can diagnose local media files. Logs go to stderr.

Example client configuration:
  {"command": "sonic-mcp", "args": ["--model", "gemini-2.5-flash"]}`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default from config, "+diagnosis.DefaultModelName+")")
	rootCmd.Flags().StringVar(&configFlag, "config", "", "Config file (default ~/.sonic-diagnostic/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	// stdout carries the protocol.
	logging.InitWriter(os.Stderr, os.Getenv(logging.LevelEnv))
	initStart := time.Now()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var gen diagnosis.Generator
	apiKey, source, err := auth.GetAPIKey(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("No Gemini API key - tool calls will return error reports")
	} else {
		client, err := diagnosis.NewGeminiClient(ctx, apiKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		gen = diagnosis.NewGeminiGenerator(client)
	}

	opts := append(cfg.RequesterOptions(), diagnosis.WithMetricsOutput(nil))
	server := mcpserver.NewServer(diagnosis.NewRequester(gen, opts...), mcpserver.Config{
		Version:  version,
		Limits:   cfg.Limits(),
		Language: cfg.Language,
	})

	logging.NewStartupLogger("sonic-mcp").
		Version(version).
		Config("model", cfg.Model).
		Config("api_key_source", string(source)).
		Feature("apiKey", gen != nil).
		InitDuration(time.Since(initStart)).
		Log()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("MCP server stopped")
	}
}
