package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veritas-os/veritas/internal/errs"
)

// openAIEmbeddingsURL is the fixed REST endpoint for OpenAI's embeddings
// API. No embeddings SDK appears anywhere in the retrieval pack (see
// DESIGN.md), so this talks to it directly over net/http the same way
// AnthropicClient would if the Anthropic SDK did not exist — a thin,
// single-purpose vendor adapter, never imported outside this file.
const openAIEmbeddingsURL = "https://api.openai.com/v1/embeddings"

// OpenAIEmbedder is a memory.Embedder backed by OpenAI's embeddings API.
// It satisfies the interface structurally; internal/memory never imports
// this package, keeping the capability's concrete vendor isolated here.
type OpenAIEmbedder struct {
	apiKey string
	model  string
	dim    int
	client *http.Client
}

// NewOpenAIEmbedder builds an OpenAIEmbedder. dim is the embedding
// dimensionality requested of the API (OpenAI's text-embedding-3 family
// supports a `dimensions` parameter).
func NewOpenAIEmbedder(apiKey, model string, dim int) *OpenAIEmbedder {
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAIEmbedder{
		apiKey: apiKey,
		model:  model,
		dim:    dim,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

func (e *OpenAIEmbedder) Dim() int { return e.dim }

type openAIEmbeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed calls the OpenAI embeddings endpoint for a single input string,
// per spec.md §5's "embedder input <= 100,000 chars" bound (enforced by
// the caller, internal/memory.Store.Put).
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.apiKey == "" {
		return nil, errs.New(errs.KindCapabilityUnavailable, "llmclient: no OpenAI API key configured", nil)
	}

	body, err := json.Marshal(openAIEmbeddingRequest{Model: e.model, Input: text, Dimensions: e.dim})
	if err != nil {
		return nil, errs.New(errs.KindInternal, "llmclient: marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEmbeddingsURL, bytes.NewReader(body))
	if err != nil {
		return nil, errs.New(errs.KindInternal, "llmclient: build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindCapabilityUnavailable, "llmclient: embedding request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errs.New(errs.KindCapabilityUnavailable, "llmclient: read embedding response", err)
	}

	var out openAIEmbeddingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.New(errs.KindCapabilityUnavailable, "llmclient: parse embedding response", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, errs.New(errs.KindCapabilityUnavailable, "llmclient: embedding API error: "+msg, nil)
	}
	if len(out.Data) == 0 {
		return nil, errs.New(errs.KindCapabilityUnavailable, "llmclient: embedding response had no data", nil)
	}
	return out.Data[0].Embedding, nil
}
