// Package main is the Lambda entry point for the diagnosis API.
//
// API Gateway (HTTP API, payload v2) forwards every /api/* route here; the
// same handler as sonic-web serves them. The Gemini API key comes from
// GEMINI_API_KEY or the SSM parameter named by SSM_API_KEY_PARAM. A missing
// key does not stop the function: diagnoses then return an error report.
//
// Inline media is capped at inlineLimit to stay under the Lambda and API
// Gateway payload limits after base64. When MEDIA_BUCKET_NAME is set,
// larger files go through POST /api/uploads and are diagnosed by key.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/sonic-diagnostic/internal/api"
	"github.com/fpang/sonic-diagnostic/internal/auth"
	"github.com/fpang/sonic-diagnostic/internal/config"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/logging"
	"github.com/fpang/sonic-diagnostic/internal/s3util"
)

// Overridden with -ldflags "-X main.commitHash=...".
var commitHash = "dev"

// inlineLimit keeps a base64 JSON body under the 6 MB Lambda payload limit.
const inlineLimit = 4 << 20

var handler http.Handler

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	var ssmClient auth.ParameterGetter
	if c, err := auth.NewSSMClient(ctx); err != nil {
		log.Warn().Err(err).Msg("SSM unavailable - API key must come from GEMINI_API_KEY")
	} else {
		ssmClient = c
	}

	var gen diagnosis.Generator
	apiKey, source, err := auth.ResolveLambdaKey(ctx, ssmClient)
	if err != nil {
		log.Error().Err(err).Msg("Gemini API key not loaded - diagnoses will return error reports")
	} else {
		client, err := diagnosis.NewGeminiClient(ctx, apiKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		gen = diagnosis.NewGeminiGenerator(client)
	}

	opts := []api.Option{
		api.WithLimits(cfg.Limits()),
		api.WithInlineLimit(inlineLimit),
		api.WithLanguage(cfg.Language),
		api.WithVersion(commitHash),
	}
	uploads, err := s3util.NewFromEnv(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Staged uploads disabled")
	} else if uploads != nil {
		opts = append(opts, api.WithUploads(uploads))
	}

	requester := diagnosis.NewRequester(gen, cfg.RequesterOptions()...)
	handler = api.NewServer(requester, opts...).Handler()

	logging.NewStartupLogger("diagnose-lambda").
		CommitHash(commitHash).
		SSMParam("geminiApiKey", auth.SSMParamName()).
		Config("model", cfg.Model).
		Config("language", string(cfg.Language)).
		Config("api_key_source", string(source)).
		Config("media_bucket", os.Getenv(s3util.EnvBucket)).
		Feature("apiKey", gen != nil).
		Feature("uploads", uploads != nil).
		InitDuration(time.Since(initStart)).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
