package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/therealutkarshpriyadarshi/framescribe/internal/gpu"
)

// OllamaBackend serves models through an Ollama server
type OllamaBackend struct {
	client      *api.Client
	pullMissing bool
}

// NewOllamaBackend creates a backend for the server at host. An empty host
// falls back to OLLAMA_HOST.
func NewOllamaBackend(host string, timeout time.Duration, pullMissing bool) (*OllamaBackend, error) {
	if host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return &OllamaBackend{client: client, pullMissing: pullMissing}, nil
	}

	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return &OllamaBackend{
		client:      api.NewClient(base, &http.Client{Timeout: timeout}),
		pullMissing: pullMissing,
	}, nil
}

// Load checks the model is present, pulling it when allowed
func (b *OllamaBackend) Load(ctx context.Context, modelID string, device gpu.Device) error {
	if modelID == "" {
		return errors.New("model id is required")
	}

	_, err := b.client.Show(ctx, &api.ShowRequest{Model: modelID})
	if err == nil {
		return nil
	}
	if !b.pullMissing {
		return fmt.Errorf("model %s not available: %w", modelID, err)
	}

	pullErr := b.client.Pull(ctx, &api.PullRequest{Model: modelID}, func(api.ProgressResponse) error {
		return nil
	})
	if pullErr != nil {
		return fmt.Errorf("failed to pull model %s: %w", modelID, pullErr)
	}
	return nil
}

func generateOptions(req GenerateRequest) map[string]interface{} {
	opts := map[string]interface{}{
		"num_predict": req.MaxNewTokens,
	}
	if req.Device == gpu.DeviceCPU {
		opts["num_gpu"] = 0
	}
	return opts
}

// Generate runs one single-turn chat with the frame attached
func (b *OllamaBackend) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model: req.ModelID,
		Messages: []api.Message{{
			Role:    "user",
			Content: req.Prompt,
			Images:  []api.ImageData{req.Image},
		}},
		Stream:  &stream,
		Options: generateOptions(req),
	}

	var sb strings.Builder
	err := b.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Heartbeat checks the server is reachable
func (b *OllamaBackend) Heartbeat(ctx context.Context) error {
	return b.client.Heartbeat(ctx)
}

// Embedder produces text embeddings for stored descriptions
type Embedder struct {
	client *api.Client
	model  string
}

// Embedder returns an embedder bound to the given model
func (b *OllamaBackend) Embedder(model string) *Embedder {
	return &Embedder{client: b.client, model: model}
}

// Embed returns the embedding of text
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding model %s returned no vectors", e.model)
	}
	return resp.Embeddings[0], nil
}
