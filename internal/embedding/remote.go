package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ramccor/recall/internal/chunk"
	"github.com/ramccor/recall/internal/obslog"
	"github.com/ramccor/recall/internal/recallerr"
)

const remoteDimension = 1024

// maxSplitDepth caps the recursive halving of an over-budget batch.
const maxSplitDepth = 10

// Backoff parameters for transient HTTP failures.
const (
	backoffBase = 30 * time.Second
	backoffCap  = 120 * time.Second
	maxAttempts = 6
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Remote POSTs batches to an HTTP embedding endpoint with token-aware
// recursive batch splitting and exponential backoff on transient errors.
// The per-request token budget sits below the service's documented limit
// with a safety margin, since the service counts tokens with its own
// tokenizer and the local estimate is only approximate.
type Remote struct {
	baseURL    string
	apiKey     string
	model      string
	tokenRatio int
	budget     int

	httpClient *http.Client
	log        obslog.Logger
}

// NewRemote constructs the remote embedding provider.
func NewRemote(baseURL, apiKey, model string, tokenRatio, budget int, timeout time.Duration, log obslog.Logger) *Remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if budget <= 0 {
		budget = 100_000
	}
	if tokenRatio <= 0 {
		tokenRatio = 3
	}
	if log == nil {
		log = obslog.NewZerologLogger("info")
	}
	return &Remote{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		tokenRatio: tokenRatio,
		budget:     budget,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (r *Remote) Dimension() int { return remoteDimension }
func (r *Remote) Name() string   { return "remote" }

func (r *Remote) Ping(ctx context.Context) error {
	_, err := r.EmbedBatch(ctx, []string{"ping"})
	return err
}

// EmbedBatch estimates the batch's total token count; if it exceeds the
// configured budget it splits the batch in half recursively (up to
// maxSplitDepth) before sending.
func (r *Remote) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return r.embedSplit(ctx, texts, 0)
}

func (r *Remote) embedSplit(ctx context.Context, texts []string, depth int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	total := r.estimateTotalTokens(texts)
	if total <= r.budget || len(texts) == 1 || depth >= maxSplitDepth {
		if total > r.budget && len(texts) == 1 {
			texts = []string{truncateToBudget(texts[0], r.budget, r.tokenRatio)}
			r.log.Error("embedding_over_budget_truncated", map[string]any{"depth": depth})
		}
		return r.post(ctx, texts)
	}
	mid := len(texts) / 2
	left, err := r.embedSplit(ctx, texts[:mid], depth+1)
	if err != nil {
		return nil, err
	}
	right, err := r.embedSplit(ctx, texts[mid:], depth+1)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func (r *Remote) estimateTotalTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		total += chunk.EstimateTokens(t, r.tokenRatio)
	}
	return total
}

func truncateToBudget(text string, budget, ratio int) string {
	maxChars := budget * ratio
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

// post sends one batch, retrying transient errors with exponential
// backoff: base 30s, cap 120s, up to 6 attempts.
func (r *Remote) post(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	delay := backoffBase
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		vecs, transient, err := r.postOnce(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !transient {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	return nil, fmt.Errorf("%w: %v", recallerr.ErrTransientIO, lastErr)
}

func (r *Remote) postOnce(ctx context.Context, texts []string) (vecs [][]float32, transient bool, err error) {
	body, err := json.Marshal(embedReq{Model: r.model, Input: texts})
	if err != nil {
		return nil, false, fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("embedding: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		return nil, true, fmt.Errorf("embedding: status %d", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("embedding: status %d: %s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("embedding: read body: %w", err)
	}
	var er embedResp
	if err := json.Unmarshal(b, &er); err != nil {
		return nil, false, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, false, fmt.Errorf("embedding: response count %d != request count %d", len(er.Data), len(texts))
	}
	out := make([][]float32, len(er.Data))
	for i, d := range er.Data {
		out[i] = d.Embedding
	}
	return out, false, nil
}
