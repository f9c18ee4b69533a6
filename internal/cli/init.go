package cli

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/fpang/sonic-diagnostic/internal/auth"
	"github.com/fpang/sonic-diagnostic/internal/config"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
)

// InitRequester resolves the API key, creates the Gemini client and returns
// a Requester configured from cfg. With validate set the key is checked
// with a minimal call first. EMF lines go to metricsOut; nil discards them.
func InitRequester(ctx context.Context, cfg config.Config, validate bool, metricsOut io.Writer) (*diagnosis.Requester, error) {
	apiKey, source, err := auth.GetAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("source", string(source)).Msg("API key resolved")

	client, err := diagnosis.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	gen := diagnosis.NewGeminiGenerator(client)
	log.Info().Msg("connection successful - Gemini client initialized")

	if validate {
		if err := auth.ValidateAPIKey(ctx, gen, cfg.Model, metricsOut); err != nil {
			return nil, err
		}
		log.Info().Msg("API key validation complete - ready for operations")
	}

	opts := append(cfg.RequesterOptions(), diagnosis.WithMetricsOutput(metricsOut))
	return diagnosis.NewRequester(gen, opts...), nil
}
