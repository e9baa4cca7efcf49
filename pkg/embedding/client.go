// Package embedding provides clients for text and image embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"prepdocs-go/internal/config"
	"prepdocs-go/pkg/log"
)

const (
	maxBatchSize   = 16
	maxBatchTokens = 8100
	maxAttempts    = 5
)

// Client defines the interface for a text embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// endpoint builds the request URL and authentication headers for one host flavour.
type endpoint struct {
	url     string
	headers map[string]string
}

type openAICompatibleClient struct {
	endpoint     endpoint
	model        string
	dimensions   int
	disableBatch bool
	client       *http.Client
	retryWait    time.Duration
}

// NewClient creates a text embedding client for the configured host.
// Host "openai" talks to the OpenAI API; anything else is treated as an Azure OpenAI deployment.
func NewClient(cfg config.OpenAIConfig, disableBatch bool) Client {
	return &openAICompatibleClient{
		endpoint:     newEndpoint(cfg),
		model:        cfg.ModelName,
		dimensions:   cfg.Dimensions,
		disableBatch: disableBatch,
		client:       &http.Client{Timeout: 60 * time.Second},
		retryWait:    time.Second,
	}
}

func newEndpoint(cfg config.OpenAIConfig) endpoint {
	if cfg.Host == "openai" {
		base := cfg.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		headers := map[string]string{"Authorization": "Bearer " + cfg.Key}
		if cfg.Organization != "" {
			headers["OpenAI-Organization"] = cfg.Organization
		}
		return endpoint{url: strings.TrimSuffix(base, "/") + "/embeddings", headers: headers}
	}

	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.openai.azure.com", cfg.Service)
	}
	u := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		strings.TrimSuffix(base, "/"), url.PathEscape(cfg.Deployment), url.QueryEscape(cfg.APIVersion))
	return endpoint{url: u, headers: map[string]string{"api-key": cfg.Key}}
}

type embeddingRequest struct {
	Model      string   `json:"model,omitempty"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// CreateEmbedding calls the embedding API to get the vector for a given text.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.post(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CreateEmbeddings returns one vector per text, in input order.
// Batching groups at most 16 texts and roughly 8100 tokens per request; when batching is
// disabled every text is sent on its own.
func (c *openAICompatibleClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	if c.disableBatch {
		for _, text := range texts {
			v, err := c.CreateEmbedding(ctx, text)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	for _, batch := range splitBatches(texts) {
		vectors, err := c.post(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// approxTokens estimates the token count of a text as a quarter of its rune count.
func approxTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

func splitBatches(texts []string) [][]string {
	var batches [][]string
	var current []string
	tokens := 0
	for _, text := range texts {
		t := approxTokens(text)
		if len(current) > 0 && (len(current) >= maxBatchSize || tokens+t > maxBatchTokens) {
			batches = append(batches, current)
			current, tokens = nil, 0
		}
		current = append(current, text)
		tokens += t
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (c *openAICompatibleClient) post(ctx context.Context, input []string) ([][]float32, error) {
	log.Debugf("[EmbeddingClient] 开始调用 Embedding API, model: %s, inputs: %d", c.model, len(input))
	reqBytes, err := json.Marshal(embeddingRequest{Model: c.model, Input: input, Dimensions: c.dimensions})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	var body []byte
	for attempt := 1; ; attempt++ {
		var status int
		body, status, err = c.do(ctx, reqBytes)
		if err != nil {
			log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
			return nil, fmt.Errorf("failed to call embedding api: %w", err)
		}
		if status == http.StatusOK {
			break
		}
		if status != http.StatusTooManyRequests || attempt >= maxAttempts {
			log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %d", status)
			return nil, fmt.Errorf("embedding api returned status %d: %s", status, strings.TrimSpace(string(body)))
		}
		wait := c.retryWait * time.Duration(1<<(attempt-1))
		log.Warnf("[EmbeddingClient] 触发限流, %v 后进行第 %d 次重试", wait, attempt+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(resp.Data) != len(input) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(resp.Data), len(input))
	}

	vectors := make([][]float32, len(input))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(input) || vectors[idx] != nil {
			idx = i
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("received empty embedding from api")
		}
		vectors[idx] = d.Embedding
	}
	log.Debugf("[EmbeddingClient] 成功获取 %d 个向量, 维度: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}

func (c *openAICompatibleClient) do(ctx context.Context, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.endpoint.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
