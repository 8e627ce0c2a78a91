package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jdray42/boswell/internal/claimerr"
	"github.com/jdray42/boswell/pkg/config"
)

// Ollama is the default Embed provider, calling a local Ollama instance's
// /api/embeddings endpoint.
type Ollama struct {
	baseURL    string
	model      string
	dimension  int
	enabled    bool
	httpClient *http.Client
}

// NewOllama creates a client bound to cfg.
func NewOllama(cfg config.EmbeddingConfig) *Ollama {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	return &Ollama{
		baseURL:    baseURL,
		model:      model,
		dimension:  cfg.Dimension,
		enabled:    cfg.Enabled,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Dimension returns the instance-fixed embedding width.
func (c *Ollama) Dimension() int { return c.dimension }

// IsAvailable checks whether Ollama is reachable.
func (c *Ollama) IsAvailable(ctx context.Context) bool {
	if !c.enabled {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Vector embeds text via Ollama, validating the returned width against the
// instance-fixed dimension.
func (c *Ollama) Vector(ctx context.Context, text string) ([]float32, error) {
	if !c.enabled {
		return nil, claimerr.UnavailableErr("embedding.Vector", fmt.Errorf("ollama embedding provider is disabled"))
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, claimerr.InvalidErr("embedding.Vector", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, claimerr.InvalidErr("embedding.Vector", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, claimerr.UnavailableErr("embedding.Vector", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, claimerr.UnavailableErr("embedding.Vector", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, claimerr.UnavailableErr("embedding.Vector", err)
	}

	if c.dimension > 0 && len(decoded.Embedding) != c.dimension {
		return nil, claimerr.InvalidErr("embedding.Vector", fmt.Errorf(
			"ollama returned %d-dimensional embedding, expected %d", len(decoded.Embedding), c.dimension))
	}

	return decoded.Embedding, nil
}
