package gateway

import (
	"context"

	"github.com/yaananth/chatmock/internal/json"
	"github.com/yaananth/chatmock/internal/translator"
	"github.com/yaananth/chatmock/internal/translator/ir"
)

// CreateResponse serves POST /v1/responses. Streaming requests forward the
// upstream SSE verbatim; non-stream requests aggregate into a response
// object and record the local thread state that previous_response_id
// threading replays.
func (g *Gateway) CreateResponse(ctx context.Context, req Request) (*Result, error) {
	ex, err := g.prepare(ctx, endpointResponses, req, translator.TranslateResponses)
	if err != nil {
		return nil, err
	}

	// Unknown thread ids are ignored rather than rejected so a client
	// holding a stale or evicted id can still make progress.
	if prev := ex.tr.PreviousResponseID; prev != "" {
		if items, ok := g.store.Thread(prev); ok {
			ex.tr.InputItems = append(items, ex.tr.InputItems...)
		}
	}

	resp, err := ex.open(ctx)
	if err != nil {
		return nil, err
	}

	if ex.tr.Stream {
		return &Result{Stream: ex.passthrough(ctx, resp)}, nil
	}

	created := nowUnix()
	agg, err := ex.collect(resp)
	if err != nil {
		return nil, err
	}

	responseID := fallbackID(agg.ResponseID, "resp_nonstream")
	output := agg.ResponseOutput()
	if output == nil {
		output = []json.RawMessage{}
	}
	obj := ir.ResponseObject{
		ID:        responseID,
		Object:    "response",
		CreatedAt: created,
		Model:     ex.wireModel,
		Output:    output,
	}
	if agg.Usage != nil {
		w := agg.Usage.Wire()
		obj.Usage = &w
	}

	body, err := json.Marshal(&obj)
	if err != nil {
		return nil, err
	}

	// The store honors the client's store flag; the thread is recorded
	// unconditionally so follow-up turns resolve either way.
	if ex.tr.Store {
		g.store.Put(responseID, body)
	}
	g.recordThread(responseID, ex.tr.InputItems, agg.Content)

	ex.aggregated(agg, responseID, agg.Usage)
	return &Result{Body: body}, nil
}

// recordThread captures the conversation a follow-up naming responseID
// replays: the full spliced input plus the assistant's text reply.
func (g *Gateway) recordThread(responseID string, inputItems []any, assistantText string) {
	thread := make([]any, 0, len(inputItems)+1)
	thread = append(thread, inputItems...)
	if assistantText != "" {
		thread = append(thread, map[string]any{
			"role": "assistant",
			"content": []any{
				map[string]any{"type": "output_text", "text": assistantText},
			},
		})
	}
	g.store.SetThread(responseID, thread)
}
