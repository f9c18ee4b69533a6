package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/sonic-diagnostic/internal/api"
	"github.com/fpang/sonic-diagnostic/internal/auth"
	"github.com/fpang/sonic-diagnostic/internal/config"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/logging"
	"github.com/fpang/sonic-diagnostic/internal/prefs"
)

// Overridden with -ldflags "-X main.version=...".
var version = "dev"

// CLI flags
var (
	portFlag     int
	modelFlag    string
	configFlag   string
	validateFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "sonic-web",
	Short: "Local HTTP API for machine sound diagnosis",
	Long: `Sonic Web serves the diagnosis API on localhost for a browser frontend.

Endpoints:
  GET  /api/health
  POST /api/diagnose              multipart (file, category, makeModel, symptoms)
                                  or JSON with a base64 data URL in "media"
  GET  /api/preferences/language
  PUT  /api/preferences/language

Examples:
  sonic-web
  sonic-web --port 9090 --model gemini-2.5-flash`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model to use (default from config, "+diagnosis.DefaultModelName+")")
	rootCmd.Flags().StringVar(&configFlag, "config", "", "Config file (default ~/.sonic-diagnostic/config.yaml)")
	rootCmd.Flags().BoolVar(&validateFlag, "validate", false, "Validate the API key at startup")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()
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

	// Without a key the server still starts; every diagnosis then returns
	// an error report.
	var gen diagnosis.Generator
	apiKey, source, err := auth.GetAPIKey(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("No Gemini API key - diagnoses will fail until one is configured")
	} else {
		client, err := diagnosis.NewGeminiClient(ctx, apiKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		gen = diagnosis.NewGeminiGenerator(client)
		if validateFlag {
			if err := auth.ValidateAPIKey(ctx, gen, cfg.Model, os.Stdout); err != nil {
				log.Fatal().Err(err).Msg("Invalid API key")
			}
			log.Info().Msg("API key validated")
		}
	}

	var store prefs.Store
	if fs, err := prefs.NewFileStore(); err != nil {
		log.Warn().Err(err).Msg("Preferences file unavailable, keeping them in memory")
		store = &prefs.MemoryStore{}
	} else {
		store = fs
	}

	requester := diagnosis.NewRequester(gen, cfg.RequesterOptions()...)
	server := api.NewServer(requester,
		api.WithPreferences(store),
		api.WithLimits(cfg.Limits()),
		api.WithLanguage(cfg.Language),
		api.WithVersion(version),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", portFlag),
		Handler:      server.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	logging.NewStartupLogger("sonic-web").
		Version(version).
		Config("model", cfg.Model).
		Config("language", string(cfg.Language)).
		Config("api_key_source", string(source)).
		Config("port", fmt.Sprint(portFlag)).
		Feature("apiKey", gen != nil).
		InitDuration(time.Since(initStart)).
		Log()
	fmt.Printf("\n  Sonic Diagnostic API: http://localhost:%d/api/health\n\n", portFlag)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
