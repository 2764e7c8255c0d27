package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultRetrievalLimit = 5

// retrievalClient talks to the retrieval service over HTTP.
//
// Env:
// - RETRIEVAL_API_BASE_URL (default http://localhost:8090)
// - RETRIEVAL_API_KEY
// - RETRIEVAL_API_KEY_HEADER (default X-API-Key)
// - RETRIEVAL_RATE_LIMIT_PER_MIN (default 60)
type retrievalClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func NewRetrievalClientFromEnv() (Retriever, error) {
	baseURL := strings.TrimSpace(os.Getenv("RETRIEVAL_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("RETRIEVAL_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	apiKey := strings.TrimSpace(os.Getenv("RETRIEVAL_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("retrieval api key is empty")
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("RETRIEVAL_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &retrievalClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: 30 * time.Second},
		limiter:   time.Tick(interval),
	}, nil
}

type retrievalQueryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type retrievalQueryResponse struct {
	Chunks []Chunk `json:"chunks"`
}

func (c *retrievalClient) RetrieveChunks(ctx context.Context, query string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = defaultRetrievalLimit
	}
	<-c.limiter

	body, err := json.Marshal(retrievalQueryRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out retrievalQueryResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("retrieval response decode failed: %w", err)
	}
	return out.Chunks, nil
}
