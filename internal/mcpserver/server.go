// Package mcpserver exposes the diagnosis workflow as an MCP tool so that
// agents can submit local media files.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/lang"
	"github.com/fpang/sonic-diagnostic/internal/workflow"
)

// ToolName is the name agents call.
const ToolName = "diagnose_media"

// DiagnoseInput is the tool's argument object.
type DiagnoseInput struct {
	Path      string `json:"path" jsonschema:"path to a local audio, video or image file"`
	Category  string `json:"category" jsonschema:"equipment category: automotive, home_appliance or industrial"`
	MakeModel string `json:"make_model,omitempty" jsonschema:"make and model of the equipment"`
	Symptoms  string `json:"symptoms,omitempty" jsonschema:"observed symptoms in plain words"`
	Language  string `json:"language,omitempty" jsonschema:"report language: en or pl"`
}

// Config holds the server settings.
type Config struct {
	Version  string
	Limits   capture.Limits
	Language lang.Language
}

type handler struct {
	diagnoser workflow.Diagnoser
	cfg       Config
}

// NewServer returns an MCP server with the diagnose_media tool registered.
func NewServer(d workflow.Diagnoser, cfg Config) *mcp.Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if !cfg.Language.Valid() {
		cfg.Language = lang.Default
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "sonic-diagnostic", Version: cfg.Version}, nil)
	h := &handler{diagnoser: d, cfg: cfg}
	mcp.AddTool(server, &mcp.Tool{
		Name: ToolName,
		Description: "Diagnose a mechanical fault from a recording, video or photo of the equipment. " +
			"Returns a JSON report with severity, diagnosis, estimated cost and an action plan.",
	}, h.diagnose)
	return server
}

func (h *handler) diagnose(ctx context.Context, req *mcp.CallToolRequest, in DiagnoseInput) (*mcp.CallToolResult, any, error) {
	language := h.cfg.Language
	if strings.TrimSpace(in.Language) != "" {
		l, err := lang.Parse(in.Language)
		if err != nil {
			return toolError(err), nil, nil
		}
		language = l
	}

	f, closer, err := capture.LoadFile(in.Path)
	if err != nil {
		return toolError(err), nil, nil
	}
	defer closer.Close()

	scanner := workflow.NewScanner(
		capture.NewController(capture.WithLimits(h.cfg.Limits)),
		h.diagnoser,
		language,
		workflow.WithMinProcessing(0),
	)
	dc := diagnosis.Context{Category: diagnosis.Category(in.Category), MakeModel: in.MakeModel, Symptoms: in.Symptoms}
	if err := scanner.Dispatch(workflow.ContextChanged{Context: dc}); err != nil {
		return toolError(err), nil, nil
	}
	result, err := scanner.ScanFile(ctx, f)
	if err != nil {
		return toolError(err), nil, nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode report: %w", err)
	}
	log.Info().Str("tool", ToolName).Str("path", in.Path).Bool("error_report", result.IsError()).Msg("Tool call complete")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
		IsError: result.IsError(),
	}, nil, nil
}

func toolError(err error) *mcp.CallToolResult {
	log.Warn().Err(err).Str("tool", ToolName).Msg("Tool call rejected")
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
