package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient is a direct HTTP client for OpenAI-compatible chat APIs.
// It works against any backend that speaks the chat completions protocol
// (OpenAI, Ollama's /v1 endpoint, vLLM, and so on).
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIClient creates a new OpenAI-compatible API client.
// baseURL should be like "https://api.openai.com/v1".
func NewOpenAIClient(baseURL, apiKey, model string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Complete sends a non-streaming chat completion request.
func (o *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	payload, err := json.Marshal(o.buildBody(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := o.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: o.Name(), Message: string(respBody), Code: resp.StatusCode}
	}

	var result openaiChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("API returned no choices")
	}

	choice := result.Choices[0]
	out := &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        result.Model,
		Usage: Usage{
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		},
		Duration: time.Since(start),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// Stream sends a streaming chat completion request.
func (o *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	eventChan := make(chan StreamEvent)

	payload, err := json.Marshal(o.buildBody(req, true))
	if err != nil {
		close(eventChan)
		return eventChan, fmt.Errorf("failed to marshal request: %w", err)
	}

	go o.streamRequest(ctx, eventChan, payload)
	return eventChan, nil
}

// Name returns the provider name.
func (o *OpenAIClient) Name() string {
	return "openai"
}

// Helper methods

func (o *OpenAIClient) buildBody(req CompletionRequest, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = o.model
	}

	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: RoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		m := openaiMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openaiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openaiFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, m)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": messages,
		"stream":   stream,
	}

	if len(req.Tools) > 0 {
		tools := make([]openaiTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, openaiTool{
				Type: "function",
				Function: openaiFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.InputSchema,
				},
			})
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
		// Tool calls are dispatched one at a time, in order.
		body["parallel_tool_calls"] = false
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	return body
}

func (o *OpenAIClient) post(ctx context.Context, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/chat/completions", o.baseURL), strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (o *OpenAIClient) streamRequest(ctx context.Context, eventChan chan StreamEvent, payload []byte) {
	defer close(eventChan)

	resp, err := o.post(ctx, payload)
	if err != nil {
		eventChan <- StreamEvent{Type: "error", Error: err.Error()}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		eventChan <- StreamEvent{Type: "error", Error: fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(body))}
		return
	}

	var (
		fullContent  strings.Builder
		finishReason string
		model        string
		usage        Usage
		toolCalls    []ToolCall
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			fullContent.WriteString(choice.Delta.Content)
			eventChan <- StreamEvent{Type: "delta", Content: choice.Delta.Content}
		}

		// Tool call fragments arrive as indexed deltas; stitch them together.
		for _, frag := range choice.Delta.ToolCalls {
			for len(toolCalls) <= frag.Index {
				toolCalls = append(toolCalls, ToolCall{})
			}
			tc := &toolCalls[frag.Index]
			if frag.ID != "" {
				tc.ID = frag.ID
			}
			if frag.Function.Name != "" {
				tc.Name = frag.Function.Name
			}
			tc.Arguments += frag.Function.Arguments
		}
	}

	if err := scanner.Err(); err != nil {
		eventChan <- StreamEvent{Type: "error", Error: fmt.Sprintf("stream read failed: %v", err)}
		return
	}

	eventChan <- StreamEvent{
		Type: "done",
		Response: &CompletionResponse{
			Content:      fullContent.String(),
			FinishReason: finishReason,
			ToolCalls:    toolCalls,
			Model:        model,
			Usage:        usage,
		},
	}
}

// API wire structures

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int                `json:"index"`
				ID       string             `json:"id"`
				Function openaiFunctionCall `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}
