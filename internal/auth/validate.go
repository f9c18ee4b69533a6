package auth

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/metrics"
)

// ValidateAPIKey makes a minimal text call with model to confirm the key
// works. Failures are returned as *diagnosis.TransportError. One EMF line
// is written to metricsOut; nil discards it.
func ValidateAPIKey(ctx context.Context, gen diagnosis.Generator, model string, metricsOut io.Writer) error {
	if gen == nil {
		return &diagnosis.TransportError{Kind: diagnosis.KindCredential, Message: "no API key", Err: diagnosis.ErrNoAPIKey}
	}
	log.Debug().Str("model", model).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := gen.GenerateContent(ctx, model, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	var te *diagnosis.TransportError
	switch {
	case err != nil:
		te = diagnosis.Classify(err)
	case resp == nil || len(resp.Candidates) == 0:
		te = &diagnosis.TransportError{Kind: diagnosis.KindEmptyResponse, Message: "API returned empty response"}
	}

	result := "success"
	if te != nil {
		result = string(te.Kind)
	}
	metrics.New(metrics.Namespace).
		To(metricsOut).
		Dimension("Result", result).
		Metric("ApiKeyValidationMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("ApiKeyValidationResult").
		Flush()

	if te != nil {
		log.Error().Err(te).Str("kind", result).Dur("duration", elapsed).Msg("API key validation failed")
		return te
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}
