package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/sonic-diagnostic/internal/assets"
	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/metrics"
)

// Gemini model IDs known to accept inline audio, video and images.
const (
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
	ModelGemini25Flash       = "gemini-2.5-flash"
	ModelGemini25Pro         = "gemini-2.5-pro"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = ModelGemini3FlashPreview

// DefaultCurrency is used for cost estimates when none is configured.
const DefaultCurrency = "PLN"

// maxOutputTokens leaves room for the longest report variant.
const maxOutputTokens = 8192

// Generator is the subset of the Gemini SDK used for a diagnosis.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type geminiGenerator struct {
	client *genai.Client
}

// NewGeminiGenerator adapts a Gemini client to Generator.
func NewGeminiGenerator(client *genai.Client) Generator {
	return geminiGenerator{client: client}
}

func (g geminiGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.client.Models.GenerateContent(ctx, model, contents, config)
}

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// Request is one diagnosis submission.
type Request struct {
	Data     []byte
	MIMEType string
	Context  Context
	// Metadata is optional capture metadata (camera, dimensions, stop reason).
	Metadata map[string]string
}

// RequestFromPayload builds a Request from a finalized capture.
func RequestFromPayload(p *capture.Payload, dc Context) Request {
	return Request{Data: p.Data, MIMEType: p.MIMEType, Context: dc, Metadata: p.Metadata}
}

// Validate checks that r can be sent.
func (r Request) Validate() error {
	if len(r.Data) == 0 {
		return errors.New("no media to diagnose")
	}
	if r.MIMEType == "" {
		return errors.New("media type is required")
	}
	if !capture.IsAllowedMIMEType(r.MIMEType) {
		return fmt.Errorf("%w: %s", capture.ErrUnsupportedType, r.MIMEType)
	}
	return r.Context.Validate()
}

// Requester sends diagnosis requests. It is safe for concurrent use.
type Requester struct {
	gen        Generator
	model      string
	currency   string
	language   lang.Language
	metricsOut io.Writer
	now        func() time.Time
}

// Option configures a Requester.
type Option func(*Requester)

// WithModel overrides the Gemini model.
func WithModel(model string) Option {
	return func(r *Requester) {
		if model != "" {
			r.model = model
		}
	}
}

// WithCurrency sets the currency used for cost estimates.
func WithCurrency(code string) Option {
	return func(r *Requester) {
		if code != "" {
			r.currency = code
		}
	}
}

// WithLanguage sets the default report language.
func WithLanguage(l lang.Language) Option {
	return func(r *Requester) {
		if l.Valid() {
			r.language = l
		}
	}
}

// WithMetricsOutput sends EMF lines to w instead of stdout. A nil w
// disables metrics.
func WithMetricsOutput(w io.Writer) Option {
	return func(r *Requester) { r.metricsOut = w }
}

// NewRequester returns a Requester using gen. A nil gen (no API key) is
// allowed: every request then fails with a credential TransportError.
func NewRequester(gen Generator, opts ...Option) *Requester {
	r := &Requester{
		gen:        gen,
		model:      DefaultModelName,
		currency:   DefaultCurrency,
		language:   lang.Default,
		metricsOut: os.Stdout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Model returns the configured model name.
func (r *Requester) Model() string { return r.model }

// Language returns the default report language.
func (r *Requester) Language() lang.Language { return r.language }

// RequestDiagnosis sends req in the default language.
func (r *Requester) RequestDiagnosis(ctx context.Context, req Request) (string, error) {
	return r.RequestDiagnosisIn(ctx, req, r.language)
}

// RequestDiagnosisIn sends exactly one request and returns the raw model
// text. Invalid requests fail before any call is made. Model failures are
// returned as *TransportError; nothing is retried.
func (r *Requester) RequestDiagnosisIn(ctx context.Context, req Request, language lang.Language) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if !language.Valid() {
		language = r.language
	}
	if r.gen == nil {
		r.emit("", 0, nil, &TransportError{Kind: KindCredential})
		return "", &TransportError{Kind: KindCredential, Message: "Gemini is not configured", Err: ErrNoAPIKey}
	}

	dc := req.Context.Normalized()
	systemPrompt, err := assets.RenderDiagnosisSystemPrompt(assets.SystemPromptData{
		Language: language.Name(),
		Currency: r.currency,
	})
	if err != nil {
		return "", err
	}
	userPrompt, err := assets.RenderDiagnosisUserPrompt(assets.UserPromptData{
		MediaKind: capture.MediaKind(req.MIMEType),
		Category:  dc.Category.Label(),
		MakeModel: dc.MakeModel,
		Symptoms:  dc.Symptoms,
		Metadata:  metadataEntries(req.Metadata),
	})
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
		MaxOutputTokens:  maxOutputTokens,
		ResponseMIMEType: "application/json",
	}
	// Media first, then the context prompt.
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: capture.NormalizeMIMEType(req.MIMEType), Data: req.Data}},
			{Text: userPrompt},
		},
	}}

	log.Debug().
		Str("model", r.model).
		Str("mime_type", req.MIMEType).
		Int("media_bytes", len(req.Data)).
		Str("category", string(dc.Category)).
		Str("language", string(language)).
		Int("prompt_length", len(userPrompt)).
		Msg("Starting Gemini API call for diagnosis")

	start := r.now()
	resp, err := r.gen.GenerateContent(ctx, r.model, contents, config)
	elapsed := r.now().Sub(start)

	if err != nil {
		te := Classify(err)
		r.emit(r.model, elapsed, resp, te)
		log.Error().
			Err(err).
			Str("kind", string(te.Kind)).
			Dur("duration", elapsed).
			Msg("Gemini diagnosis request failed")
		return "", te
	}

	text := ""
	if resp != nil {
		text = resp.Text()
	}
	if text == "" {
		te := &TransportError{Kind: KindEmptyResponse, Message: "received empty response from Gemini API"}
		r.emit(r.model, elapsed, resp, te)
		log.Warn().Dur("duration", elapsed).Msg("Received empty response from Gemini")
		return "", te
	}

	r.emit(r.model, elapsed, resp, nil)
	log.Info().
		Int("response_length", len(text)).
		Dur("duration", elapsed).
		Msg("Gemini diagnosis response received")
	return text, nil
}

// emit records one EMF line for the call.
func (r *Requester) emit(model string, elapsed time.Duration, resp *genai.GenerateContentResponse, te *TransportError) {
	outcome := "success"
	if te != nil {
		outcome = string(te.Kind)
	}
	m := metrics.New(metrics.Namespace).
		To(r.metricsOut).
		Dimension("Operation", "diagnose").
		Dimension("Outcome", outcome).
		Count("GeminiApiCalls")
	if model != "" {
		m.Property("model", model)
		m.Metric("GeminiApiLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds)
	}
	if te != nil {
		m.Count("GeminiApiErrors")
	}
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()
}

// metadataEntries sorts capture metadata for a stable prompt.
func metadataEntries(md map[string]string) []assets.MetadataEntry {
	if len(md) == 0 {
		return nil
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]assets.MetadataEntry, 0, len(keys))
	for _, k := range keys {
		if md[k] != "" {
			entries = append(entries, assets.MetadataEntry{Key: k, Value: md[k]})
		}
	}
	return entries
}
