package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"prepdocs-go/internal/config"
	"prepdocs-go/pkg/log"
)

const visionAPIVersion = "2023-02-01-preview"

// ImageClient turns page image URLs into vectors with a vision vectorize endpoint.
type ImageClient struct {
	endpoint string
	key      string
	client   *http.Client
}

// NewImageClient creates an ImageClient from the vision configuration.
func NewImageClient(cfg config.VisionConfig) *ImageClient {
	return &ImageClient{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		key:      cfg.Key,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type vectorizeRequest struct {
	URL string `json:"url"`
}

type vectorizeResponse struct {
	Vector []float32 `json:"vector"`
}

// CreateEmbeddings vectorizes every URI in order, one request per image.
func (c *ImageClient) CreateEmbeddings(ctx context.Context, uris []string) ([][]float32, error) {
	endpoint := fmt.Sprintf("%s/computervision/retrieval:vectorizeImage?api-version=%s&modelVersion=latest",
		c.endpoint, visionAPIVersion)

	out := make([][]float32, 0, len(uris))
	for i, uri := range uris {
		payload, err := json.Marshal(vectorizeRequest{URL: uri})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create vectorize request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to call vectorize api: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("vectorize api returned status %d for image %d: %s", resp.StatusCode, i, strings.TrimSpace(string(body)))
		}

		var vr vectorizeResponse
		if err := json.Unmarshal(body, &vr); err != nil {
			return nil, fmt.Errorf("failed to decode vectorize response: %w", err)
		}
		out = append(out, vr.Vector)
	}
	log.Debugf("[ImageClient] 为 %d 张页图生成向量", len(out))
	return out, nil
}
