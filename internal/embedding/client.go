// Package embedding предоставляет способы получения векторов для текста.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const maxRateLimitRetries = 3

// ErrRateLimited возвращается, если сервис отвечает 429 дольше допустимого.
var ErrRateLimited = errors.New("embedding service rate limited")

// ErrDimensionMismatch возвращается, если сервис вернул вектор не той размерности.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Client инкапсулирует HTTP-взаимодействие с OpenAI-совместимым сервисом векторизации.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option настраивает Client.
type Option func(*Client)

// WithDimension задаёт ожидаемую размерность векторов.
func WithDimension(d int) Option {
	return func(c *Client) { c.dimension = d }
}

// WithRateLimit ограничивает частоту запросов.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient создаёт клиент сервиса векторизации по указанному адресу.
func NewClient(baseURL, apiKey, model string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	c := &Client{
		baseURL: base,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name возвращает идентификатор модели, по которому различаются кэши индекса.
func (c *Client) Name() string {
	return "api:" + c.model
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed запрашивает вектор для текста. На ответ 429 клиент ждёт Retry-After
// и повторяет запрос, не более maxRateLimitRetries раз.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("embedding client not configured")
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		vec, retryAfter, err := c.do(ctx, text)
		if err != nil {
			return nil, err
		}
		if vec != nil {
			return vec, nil
		}
		if attempt >= maxRateLimitRetries {
			return nil, ErrRateLimited
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// do выполняет один запрос. Нулевой вектор без ошибки означает ответ 429.
func (c *Client) do(ctx context.Context, text string) ([]float32, time.Duration, error) {
	body, err := json.Marshal(embeddingRequest{Input: text, Model: c.model})
	if err != nil {
		return nil, 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, retryAfter, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, 0, errors.New("no embedding returned")
	}

	vec := result.Data[0].Embedding
	if c.dimension > 0 && len(vec) != c.dimension {
		return nil, 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), c.dimension)
	}
	return vec, 0, nil
}
