package gateway

import (
	"context"

	"github.com/yaananth/chatmock/internal/bridge"
	"github.com/yaananth/chatmock/internal/json"
	"github.com/yaananth/chatmock/internal/translator"
	"github.com/yaananth/chatmock/internal/translator/ir"
)

// CreateChatCompletion serves POST /v1/chat/completions.
func (g *Gateway) CreateChatCompletion(ctx context.Context, req Request) (*Result, error) {
	ex, err := g.prepare(ctx, endpointChat, req, translator.TranslateChat)
	if err != nil {
		return nil, err
	}

	resp, err := ex.open(ctx)
	if err != nil {
		return nil, err
	}

	created := nowUnix()
	if ex.tr.Stream {
		proj := bridge.NewChatProjector(ex.wireModel, created, ex.tr.Compat, ex.tr.IncludeUsage)
		return &Result{Stream: ex.relay(ctx, resp, proj, contentTypeSSE)}, nil
	}

	agg, err := ex.collect(resp)
	if err != nil {
		return nil, err
	}

	completion := ir.ChatCompletion{
		ID:      fallbackID(agg.ResponseID, "chatcmpl"),
		Object:  "chat.completion",
		Created: created,
		Model:   ex.wireModel,
		Choices: []ir.ChatChoice{{
			Index:        0,
			Message:      agg.ChatMessage(ex.tr.Compat),
			FinishReason: agg.FinishReason(),
		}},
	}
	if agg.Usage != nil {
		w := agg.Usage.Wire()
		completion.Usage = &w
	}

	body, err := json.Marshal(&completion)
	if err != nil {
		return nil, err
	}
	ex.aggregated(agg, completion.ID, agg.Usage)
	return &Result{Body: body}, nil
}

// CreateCompletion serves POST /v1/completions, the legacy text surface.
func (g *Gateway) CreateCompletion(ctx context.Context, req Request) (*Result, error) {
	ex, err := g.prepare(ctx, endpointCompletions, req, translator.TranslateCompletions)
	if err != nil {
		return nil, err
	}

	resp, err := ex.open(ctx)
	if err != nil {
		return nil, err
	}

	created := nowUnix()
	if ex.tr.Stream {
		proj := bridge.NewTextProjector(ex.wireModel, created, ex.tr.IncludeUsage)
		return &Result{Stream: ex.relay(ctx, resp, proj, contentTypeSSE)}, nil
	}

	agg, err := ex.collect(resp)
	if err != nil {
		return nil, err
	}

	completion := ir.TextCompletion{
		ID:      fallbackID(agg.ResponseID, "cmpl"),
		Object:  "text_completion",
		Created: created,
		Model:   ex.wireModel,
		Choices: []ir.TextChoice{{
			Index:        0,
			Text:         agg.Content,
			FinishReason: ir.FinishStop,
			Logprobs:     nil,
		}},
	}
	if agg.Usage != nil {
		w := agg.Usage.Wire()
		completion.Usage = &w
	}

	body, err := json.Marshal(&completion)
	if err != nil {
		return nil, err
	}
	ex.aggregated(agg, completion.ID, agg.Usage)
	return &Result{Body: body}, nil
}

func fallbackID(id, fallback string) string {
	if id == "" {
		return fallback
	}
	return id
}
