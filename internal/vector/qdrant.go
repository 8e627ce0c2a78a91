package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jdray42/boswell/internal/claimerr"
)

// Qdrant is the optional remote vector backend, a thin HTTP-REST wrapper
// over a Qdrant collection.
// It satisfies the same Index interface as Flat so the instance can be
// pointed at an external Qdrant collection instead of the embedded
// memory-mapped file. The single-file embedded layout remains Flat's job;
// this backend trades that for an external service's scaling.
type Qdrant struct {
	baseURL        string
	collectionName string
	httpClient     *http.Client
	dimension      int
}

// NewQdrant creates a client bound to baseURL/collectionName with the given
// instance-fixed dimension.
func NewQdrant(baseURL, collectionName string, dimension int) *Qdrant {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	if collectionName == "" {
		collectionName = "boswell-claims"
	}
	return &Qdrant{
		baseURL:        baseURL,
		collectionName: collectionName,
		dimension:      dimension,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

// IsAvailable checks whether the remote Qdrant instance is reachable.
func (c *Qdrant) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections", nil)
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

// InitCollection creates the collection if it does not already exist, using
// the same HNSW parameters (m=16, ef_construct=100) the rest of the corpus
// verifies against a local-memory deployment.
func (c *Qdrant) InitCollection(ctx context.Context) error {
	exists, err := c.collectionExists(ctx)
	if err != nil {
		return claimerr.UnavailableErr("vector.InitCollection", err)
	}
	if exists {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     c.dimension,
			"distance": "Cosine",
		},
		"hnsw_config": map[string]interface{}{
			"m":            16,
			"ef_construct": 100,
		},
	}
	return c.put(ctx, "/collections/"+c.collectionName, body, "vector.InitCollection")
}

func (c *Qdrant) collectionExists(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections/"+c.collectionName, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Qdrant) put(ctx context.Context, path string, body interface{}, operation string) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return claimerr.InvalidErr(operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return claimerr.InvalidErr(operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return claimerr.UnavailableErr(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return claimerr.UnavailableErr(operation, fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	return nil
}

// Dimension returns the instance-fixed embedding width.
func (c *Qdrant) Dimension() int { return c.dimension }

// Count returns the collection's reported point count.
func (c *Qdrant) Count() int {
	info, err := c.collectionInfo(context.Background())
	if err != nil {
		return 0
	}
	return int(info.PointsCount)
}

type collectionInfo struct {
	PointsCount int64  `json:"points_count"`
	Status      string `json:"status"`
}

func (c *Qdrant) collectionInfo(ctx context.Context) (*collectionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections/"+c.collectionName, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Result collectionInfo `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// Insert upserts a single point.
func (c *Qdrant) Insert(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) != c.dimension {
		return dimensionError("vector.Insert", c.dimension, len(embedding))
	}
	vector := make([]float64, len(embedding))
	for i, v := range embedding {
		vector[i] = float64(v)
	}
	body := map[string]interface{}{
		"points": []map[string]interface{}{
			{"id": id, "vector": vector},
		},
	}
	return c.put(ctx, "/collections/"+c.collectionName+"/points", body, "vector.Insert")
}

// Delete removes a point by id. Deleting an absent id is not an error.
func (c *Qdrant) Delete(ctx context.Context, id string) error {
	body := map[string]interface{}{"points": []string{id}}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return claimerr.InvalidErr("vector.Delete", err)
	}
	url := c.baseURL + "/collections/" + c.collectionName + "/points/delete"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return claimerr.InvalidErr("vector.Delete", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return claimerr.UnavailableErr("vector.Delete", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return claimerr.UnavailableErr("vector.Delete", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}
	return nil
}

// Search performs a remote vector similarity search.
func (c *Qdrant) Search(ctx context.Context, query []float32, limit int, threshold float64) ([]Match, error) {
	if len(query) != c.dimension {
		return nil, dimensionError("vector.Search", c.dimension, len(query))
	}
	if limit <= 0 {
		limit = 10
	}
	vector := make([]float64, len(query))
	for i, v := range query {
		vector[i] = float64(v)
	}

	body := map[string]interface{}{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": threshold,
		"with_payload":    false,
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, claimerr.InvalidErr("vector.Search", err)
	}
	url := c.baseURL + "/collections/" + c.collectionName + "/points/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, claimerr.InvalidErr("vector.Search", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, claimerr.UnavailableErr("vector.Search", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, claimerr.UnavailableErr("vector.Search", fmt.Errorf("status %d: %s", resp.StatusCode, respBody))
	}

	var searchResp struct {
		Result []struct {
			ID    interface{} `json:"id"`
			Score float64     `json:"score"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, claimerr.UnavailableErr("vector.Search", err)
	}

	matches := make([]Match, len(searchResp.Result))
	for i, r := range searchResp.Result {
		var id string
		switch v := r.ID.(type) {
		case string:
			id = v
		case float64:
			id = fmt.Sprintf("%.0f", v)
		default:
			id = fmt.Sprintf("%v", v)
		}
		matches[i] = Match{ClaimID: id, Similarity: r.Score}
	}
	return matches, nil
}

// Rebuild clears the remote collection and repopulates it from src.
func (c *Qdrant) Rebuild(ctx context.Context, src func(yield func(id string, embedding []float32) bool) error) error {
	if err := c.dropCollection(ctx); err != nil {
		return err
	}
	if err := c.InitCollection(ctx); err != nil {
		return err
	}
	var rebuildErr error
	err := src(func(id string, embedding []float32) bool {
		if insertErr := c.Insert(ctx, id, embedding); insertErr != nil {
			rebuildErr = insertErr
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("vector: rebuild source: %w", err)
	}
	return rebuildErr
}

func (c *Qdrant) dropCollection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/collections/"+c.collectionName, nil)
	if err != nil {
		return claimerr.InvalidErr("vector.Rebuild", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return claimerr.UnavailableErr("vector.Rebuild", err)
	}
	defer resp.Body.Close()
	return nil
}

// Close is a no-op for the HTTP-backed client; nothing to release.
func (c *Qdrant) Close() error { return nil }

// CollectionName returns the bound collection name.
func (c *Qdrant) CollectionName() string { return c.collectionName }
