package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yavinfive/eddie/internal/httpkit"
)

// OllamaClient talks to an Ollama-compatible /api/chat endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	numCtx     int
	keepAlive  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a model client. numCtx is the context-size
// hint forwarded to the runtime; timeout bounds each call so a hung
// model cannot stall a conversation.
func NewOllamaClient(baseURL, model string, numCtx int, timeout time.Duration, keepAlive string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaClient{
		baseURL:   baseURL,
		model:     model,
		numCtx:    numCtx,
		keepAlive: keepAlive,
		timeout:   timeout,
		// Per-call deadlines come from the context; the client-level
		// timeout stays off so slow models are governed in one place.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(0)),
		logger:     logger,
	}
}

// chatRequest is the request format for the chat API. Streaming is
// always disabled: the interpreter needs the complete text before it
// can classify it.
type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	KeepAlive string    `json:"keep_alive,omitempty"`
	Options   *options  `json:"options,omitempty"`
}

type options struct {
	NumCtx int `json:"num_ctx,omitempty"`
}

// chatResponse is the subset of the chat API response we consume.
type chatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

// Chat implements [Client].
func (c *OllamaClient) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := chatRequest{
		Model:     c.model,
		Messages:  messages,
		Stream:    false,
		KeepAlive: c.keepAlive,
	}
	if c.numCtx > 0 {
		req.Options = &options{NumCtx: c.numCtx}
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.logger != nil {
		c.logger.Debug("model call", "model", c.model, "messages", len(messages))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return chatResp.Message.Content, nil
}

// Ping checks if the model runtime is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	return nil
}
