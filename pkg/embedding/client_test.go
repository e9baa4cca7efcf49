package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepdocs-go/internal/config"
)

// echoServer 为每个输入返回 [len(input)]，并记录请求次数。
func echoServer(t *testing.T, check func(r *http.Request)) (*httptest.Server, *int32) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if check != nil {
			check(r)
		}
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		var resp embeddingResponse
		for i, in := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(len(in))}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestOpenAIHostBatches(t *testing.T) {
	srv, requests := echoServer(t, func(r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
	})
	c := NewClient(config.OpenAIConfig{Host: "openai", BaseURL: srv.URL, Key: "sk-test", Organization: "org-1", ModelName: "text-embedding-ada-002"}, false)

	texts := make([]string, 20)
	for i := range texts {
		texts[i] = strings.Repeat("a", i+1)
	}
	vectors, err := c.CreateEmbeddings(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 20)
	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i + 1)}, v)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(requests), "16 + 4")
}

func TestAzureHostPerItemWhenBatchDisabled(t *testing.T) {
	srv, requests := echoServer(t, func(r *http.Request) {
		assert.Equal(t, "/openai/deployments/embed/embeddings", r.URL.Path)
		assert.Equal(t, "2023-05-15", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
	})
	c := NewClient(config.OpenAIConfig{Host: "azure", BaseURL: srv.URL, Deployment: "embed", APIVersion: "2023-05-15", Key: "azure-key"}, true)

	vectors, err := c.CreateEmbeddings(context.Background(), []string{"x", "yy", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vectors)
	assert.Equal(t, int32(3), atomic.LoadInt32(requests))
}

func TestSplitBatchesRespectsTokenLimit(t *testing.T) {
	big := strings.Repeat("a", 4*5000)
	batches := splitBatches([]string{big, big, "small"})
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 1)
	assert.Len(t, batches[1], 2)
}

func TestRetriesOnRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.OpenAIConfig{Host: "openai", BaseURL: srv.URL}, false).(*openAICompatibleClient)
	c.retryWait = time.Millisecond

	v, err := c.CreateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5}, v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNonRetryableStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(config.OpenAIConfig{Host: "openai", BaseURL: srv.URL}, false)
	_, err := c.CreateEmbeddings(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestImageClientVectorizesEachURI(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/computervision/retrieval:vectorizeImage", r.URL.Path)
		assert.Equal(t, "vision-key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		var req vectorizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req.URL)
		_, _ = w.Write([]byte(`{"vector":[1,2]}`))
	}))
	defer srv.Close()

	c := NewImageClient(config.VisionConfig{Endpoint: srv.URL + "/", Key: "vision-key"})
	vectors, err := c.CreateEmbeddings(context.Background(), []string{"http://img/0.png", "http://img/1.png"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {1, 2}}, vectors)
	assert.Equal(t, []string{"http://img/0.png", "http://img/1.png"}, seen)
}
