package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentgateway/internal/message"
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions endpoint (OpenAI, DeepSeek, Groq, OpenRouter, local vLLM...).
// Defaults match the DeepSeek API per this gateway's configuration contract.
type OpenAIClient struct {
	mu           sync.RWMutex
	apiKey       string
	apiBase      string
	defaultModel string
	httpClient   *http.Client
	retryConfig  RetryConfig
}

func NewOpenAIClient(apiKey, apiBase, defaultModel string) *OpenAIClient {
	if apiBase == "" {
		apiBase = "https://api.deepseek.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")
	if defaultModel == "" {
		defaultModel = "deepseek-chat"
	}

	return &OpenAIClient{
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (c *OpenAIClient) DefaultModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultModel
}

// SetCredentials atomically swaps the API key, base URL, and default
// model, letting a config hot-reload take effect without restarting the
// gateway or dropping in-flight requests (Chat reads all three under the
// same lock on every call).
func (c *OpenAIClient) SetCredentials(apiKey, apiBase, defaultModel string) {
	apiBase = strings.TrimRight(apiBase, "/")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.apiBase = apiBase
	c.defaultModel = defaultModel
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	c.mu.RLock()
	apiKey, apiBase, defaultModel := c.apiKey, c.apiBase, c.defaultModel
	c.mu.RUnlock()

	model := req.Model
	if model == "" {
		model = defaultModel
	}
	body := c.buildRequestBody(model, req)

	return RetryDo(ctx, c.retryConfig, func() (*ChatResponse, error) {
		respBody, err := c.doRequest(ctx, apiKey, apiBase, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var wire wireResponse
		if err := json.NewDecoder(respBody).Decode(&wire); err != nil {
			return nil, fmt.Errorf("backend: decode response: %w", err)
		}
		return parseResponse(&wire), nil
	})
}

// buildRequestBody converts the internal message/content-block model to the
// OpenAI wire format: an assistant message carries a tool_calls[] array for
// its tool_use blocks (content omitted when there is no text), and each
// tool_result block becomes a separate role="tool" message carrying
// tool_call_id. A system message is prepended from req.System when set.
func (c *OpenAIClient) buildRequestBody(model string, req ChatRequest) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages)+1)

	if req.System != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": req.System})
	}

	for _, m := range req.Messages {
		if !m.HasBlocks() {
			msgs = append(msgs, map[string]any{"role": string(m.Role), "content": m.Text})
			continue
		}

		var toolCalls []map[string]any
		var text strings.Builder
		var toolResults []message.Block

		for _, b := range m.Blocks {
			switch b.Type {
			case message.BlockText:
				text.WriteString(b.Text)
			case message.BlockToolUse:
				argsJSON, _ := json.Marshal(b.Input)
				toolCalls = append(toolCalls, map[string]any{
					"id":   b.ToolUseID,
					"type": "function",
					"function": map[string]any{
						"name":      b.Name,
						"arguments": string(argsJSON),
					},
				})
			case message.BlockToolResult:
				toolResults = append(toolResults, b)
			}
		}

		if len(toolCalls) > 0 || text.Len() > 0 {
			assistantMsg := map[string]any{"role": "assistant"}
			if text.Len() > 0 {
				assistantMsg["content"] = text.String()
			}
			if len(toolCalls) > 0 {
				assistantMsg["tool_calls"] = toolCalls
			}
			msgs = append(msgs, assistantMsg)
		}

		for _, tr := range toolResults {
			msgs = append(msgs, map[string]any{
				"role":         "tool",
				"tool_call_id": tr.ToolResultID,
				"content":      tr.Output,
			})
		}
	}

	body := map[string]any{
		"model":      model,
		"messages":   msgs,
		"max_tokens": 8192,
	}

	if len(req.Tools) > 0 {
		defs := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			defs[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			}
		}
		body["tools"] = defs
		body["tool_choice"] = "auto"
	}

	return body
}

func (c *OpenAIClient) doRequest(ctx context.Context, apiKey, apiBase string, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend: request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("backend: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func parseResponse(w *wireResponse) *ChatResponse {
	result := &ChatResponse{StopReason: StopEndTurn}
	if len(w.Choices) == 0 {
		return result
	}

	choice := w.Choices[0]
	if choice.Message.Content != "" {
		result.Blocks = append(result.Blocks, message.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		result.Blocks = append(result.Blocks, message.ToolUseBlock(tc.ID, strings.TrimSpace(tc.Function.Name), args))
	}

	switch {
	case len(choice.Message.ToolCalls) > 0:
		result.StopReason = StopToolCalls
	case choice.FinishReason == "length":
		result.StopReason = StopLength
	default:
		result.StopReason = StopEndTurn
	}

	result.Usage = Usage{
		PromptTokens:     w.Usage.PromptTokens,
		CompletionTokens: w.Usage.CompletionTokens,
		TotalTokens:      w.Usage.TotalTokens,
	}
	return result
}
