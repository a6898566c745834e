// Package mcpserver exposes the Mayari backend as Model Context Protocol
// tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ServerName   = "mayari-mcp"
	defaultVoice = "bf_emma"
	defaultSpeed = 1.0
)

type Empty struct{}

type GenerateInput struct {
	Text  string  `json:"text" jsonschema:"Text to synthesize."`
	Voice string  `json:"voice,omitempty" jsonschema:"Voice code (for example bf_emma)."`
	Speed float64 `json:"speed,omitempty" jsonschema:"Speech speed (0.5-2.0). Defaults to 1.0."`
}

type DeleteInput struct {
	Filename string `json:"filename" jsonschema:"Filename returned by mayari_list_audio_files."`
}

type tools struct {
	backend *Backend
	log     *slog.Logger
}

// New builds an MCP server whose tools proxy to backend.
func New(backend *Backend, version string, log *slog.Logger) *mcp.Server {
	t := &tools{backend: backend, log: log.With(slog.String("component", "mcp"))}
	s := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "health_check",
		Description: "Check whether Mayari backend is healthy.",
	}, t.healthCheck)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "mayari_status",
		Description: "Return backend status and configured backend URL.",
	}, t.status)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "mayari_list_voices",
		Description: "List available Kokoro voices.",
	}, t.listVoices)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "mayari_generate_speech",
		Description: "Generate speech audio from text using Kokoro.",
	}, t.generateSpeech)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "mayari_list_audio_files",
		Description: "List generated audio files.",
	}, t.listAudioFiles)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "mayari_delete_audio_file",
		Description: "Delete a generated audio file by filename.",
	}, t.deleteAudioFile)
	return s
}

func (t *tools) healthCheck(ctx context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, any, error) {
	health, err := t.backend.Do(ctx, "GET", "/health", nil)
	if err != nil {
		return nil, nil, err
	}
	return textResult(health)
}

func (t *tools) status(ctx context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, any, error) {
	health, err := t.backend.Do(ctx, "GET", "/health", nil)
	if err != nil {
		return nil, nil, err
	}
	return textResult(map[string]any{"backend_url": t.backend.URL(), "health": health})
}

func (t *tools) listVoices(ctx context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, any, error) {
	voices, err := t.backend.Do(ctx, "GET", "/api/kokoro/voices", nil)
	if err != nil {
		return nil, nil, err
	}
	return textResult(voices)
}

func (t *tools) generateSpeech(ctx context.Context, _ *mcp.CallToolRequest, in GenerateInput) (*mcp.CallToolResult, any, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return textResult(map[string]any{"error": "text is required"})
	}
	voice := in.Voice
	if voice == "" {
		voice = defaultVoice
	}
	speed := in.Speed
	if speed == 0 {
		speed = defaultSpeed
	}

	result, err := t.backend.Do(ctx, "POST", "/api/kokoro/generate", map[string]any{
		"text":  text,
		"voice": voice,
		"speed": speed,
	})
	if err != nil {
		t.log.Warn("generate speech failed", slog.String("error", err.Error()))
		return nil, nil, err
	}
	if u, ok := result["audio_url"].(string); ok {
		result["audio_url"] = t.backend.absolute(u)
	}
	return textResult(result)
}

func (t *tools) listAudioFiles(ctx context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, any, error) {
	data, err := t.backend.Do(ctx, "GET", "/api/kokoro/audio/list", nil)
	if err != nil {
		return nil, nil, err
	}
	if files, ok := data["audio_files"].([]any); ok {
		for _, f := range files {
			item, ok := f.(map[string]any)
			if !ok {
				continue
			}
			if u, ok := item["audio_url"].(string); ok {
				item["audio_url"] = t.backend.absolute(u)
			}
		}
	}
	return textResult(data)
}

func (t *tools) deleteAudioFile(ctx context.Context, _ *mcp.CallToolRequest, in DeleteInput) (*mcp.CallToolResult, any, error) {
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return textResult(map[string]any{"error": "filename is required"})
	}
	if strings.ContainsAny(filename, `/\`) {
		return nil, nil, errors.New("filename must not contain path separators")
	}
	result, err := t.backend.Do(ctx, "DELETE", "/api/kokoro/audio/"+url.PathEscape(filename), nil)
	if err != nil {
		return nil, nil, err
	}
	return textResult(result)
}

func textResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
