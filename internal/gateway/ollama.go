package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/bridge"
	"github.com/yaananth/chatmock/internal/translator"
	"github.com/yaananth/chatmock/internal/translator/ir"
)

// ollamaVersion is reported by /api/version. Clients gate features on a
// minimum version, so it tracks a recent Ollama release.
const ollamaVersion = "0.9.0"

// ErrUnknownModel reports a model name absent from the catalog.
var ErrUnknownModel = errors.New("model not found")

// OllamaChat serves POST /api/chat.
func (g *Gateway) OllamaChat(ctx context.Context, req Request) (*Result, error) {
	ex, err := g.prepare(ctx, endpointOllamaChat, req, translator.TranslateOllamaChat)
	if err != nil {
		return nil, err
	}

	resp, err := ex.open(ctx)
	if err != nil {
		return nil, err
	}

	if ex.tr.Stream {
		proj := bridge.NewOllamaChatProjector(ex.wireModel)
		return &Result{Stream: ex.relay(ctx, resp, proj, contentTypeNDJSON)}, nil
	}

	agg, err := ex.collect(resp)
	if err != nil {
		return nil, err
	}

	msg := ir.OllamaChatMessage{
		Role:     "assistant",
		Content:  agg.Content,
		Thinking: agg.ReasoningText(),
	}
	for _, tc := range agg.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ir.OllamaToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: ir.OllamaToolFunction{Name: tc.Function.Name, Arguments: ollamaToolArgs(tc.Function.Arguments)},
		})
	}

	u := agg.EnsureUsage(ex.tr.Model, ex.promptText())
	elapsed := time.Since(ex.started)
	body := ir.BuildOllamaChatFinal(ex.wireModel, ir.FinishStop, msg, u, elapsed, elapsed)

	ex.aggregated(agg, agg.ResponseID, u)
	return &Result{Body: body}, nil
}

// OllamaGenerate serves POST /api/generate.
func (g *Gateway) OllamaGenerate(ctx context.Context, req Request) (*Result, error) {
	ex, err := g.prepare(ctx, endpointOllamaGenerate, req, translator.TranslateOllamaGenerate)
	if err != nil {
		return nil, err
	}

	resp, err := ex.open(ctx)
	if err != nil {
		return nil, err
	}

	if ex.tr.Stream {
		proj := bridge.NewOllamaGenerateProjector(ex.wireModel)
		return &Result{Stream: ex.relay(ctx, resp, proj, contentTypeNDJSON)}, nil
	}

	agg, err := ex.collect(resp)
	if err != nil {
		return nil, err
	}

	u := agg.EnsureUsage(ex.tr.Model, ex.promptText())
	elapsed := time.Since(ex.started)
	body := ir.BuildOllamaGenerateFinal(ex.wireModel, ir.FinishStop, agg.Content, agg.ReasoningText(), u, elapsed, elapsed)

	ex.aggregated(agg, agg.ResponseID, u)
	return &Result{Body: body}, nil
}

// ollamaToolArgs renders chat-style argument strings as the JSON object the
// Ollama wire expects.
func ollamaToolArgs(args string) []byte {
	if strings.TrimSpace(args) == "" {
		return []byte("{}")
	}
	return []byte(ir.SerializeToolArgs(args))
}

// promptText flattens the request input into plain text for token
// estimation when the backend reported no usage.
func (ex *exchange) promptText() string {
	var b strings.Builder
	if ins := ex.effectiveInstructions(); ins != "" {
		b.WriteString(ins)
	}
	for _, item := range ex.tr.InputItems {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch content := m["content"].(type) {
		case string:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(content)
		case []any:
			for _, part := range content {
				pm, ok := part.(map[string]any)
				if !ok {
					continue
				}
				if text, ok := pm["text"].(string); ok && text != "" {
					if b.Len() > 0 {
						b.WriteByte('\n')
					}
					b.WriteString(text)
				}
			}
		}
	}
	return b.String()
}

// OllamaModelDetails is the details block on tags and show replies.
type OllamaModelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// OllamaTagModel is one entry in the /api/tags model list.
type OllamaTagModel struct {
	Name       string             `json:"name"`
	Model      string             `json:"model"`
	ModifiedAt string             `json:"modified_at"`
	Size       int64              `json:"size"`
	Digest     string             `json:"digest"`
	Details    OllamaModelDetails `json:"details"`
}

// OllamaTagsResponse is the /api/tags reply.
type OllamaTagsResponse struct {
	Models []OllamaTagModel `json:"models"`
}

// OllamaShowResponse is the /api/show reply.
type OllamaShowResponse struct {
	Modelfile    string             `json:"modelfile"`
	Parameters   string             `json:"parameters"`
	Template     string             `json:"template"`
	Details      OllamaModelDetails `json:"details"`
	ModelInfo    map[string]any     `json:"model_info"`
	Capabilities []string           `json:"capabilities"`
}

// The backend exposes every model with the same synthetic capabilities; the
// list is what editor integrations probe for.
var ollamaCapabilities = []string{"completion", "vision", "tools", "thinking"}

func ollamaDetails() OllamaModelDetails {
	return OllamaModelDetails{
		Format:   "gguf",
		Family:   "gpt",
		Families: []string{"gpt"},
	}
}

// ollamaDigest derives a stable pseudo-digest; clients use it only as an
// identity key.
func ollamaDigest(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

// OllamaTags serves GET /api/tags from the model catalog.
func (g *Gateway) OllamaTags() *OllamaTagsResponse {
	models := g.catalog.Models(g.snapshot().ExposeReasoningModels)
	out := &OllamaTagsResponse{Models: make([]OllamaTagModel, 0, len(models))}
	for _, m := range models {
		name := m.ID + ":latest"
		out.Models = append(out.Models, OllamaTagModel{
			Name:       name,
			Model:      name,
			ModifiedAt: time.Unix(m.Created, 0).UTC().Format(time.RFC3339),
			Digest:     ollamaDigest(name),
			Details:    ollamaDetails(),
		})
	}
	return out
}

// OllamaShow serves POST /api/show. The request names the model as either
// "name" or "model"; unknown models are an ErrUnknownModel.
func (g *Gateway) OllamaShow(raw []byte) (*OllamaShowResponse, error) {
	body := gjson.ParseBytes(raw)
	name := strings.TrimSpace(body.Get("name").String())
	if name == "" {
		name = strings.TrimSpace(body.Get("model").String())
	}
	if name == "" || !g.catalog.Has(name) {
		return nil, ErrUnknownModel
	}
	return &OllamaShowResponse{
		Details:      ollamaDetails(),
		ModelInfo:    map[string]any{"general.architecture": "gpt"},
		Capabilities: ollamaCapabilities,
	}, nil
}

// OllamaVersion serves GET /api/version.
func (g *Gateway) OllamaVersion() string {
	return ollamaVersion
}
