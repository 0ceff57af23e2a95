package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const maxResponseBytes = 8 << 20

// OpenAICompatProvider talks to an OpenAI-style /chat/completions endpoint (SiliconFlow by default).
type OpenAICompatProvider struct {
	Name    string
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type openAIChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
}

func NewOpenAICompatProvider(name, baseURL, apiKey string) *OpenAICompatProvider {
	if name == "" {
		name = "siliconflow"
	}
	return &OpenAICompatProvider{
		Name:    name,
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// encodeChatRequest serializes req; the tools key is only present when tools are attached.
func encodeChatRequest(req ChatRequest) ([]byte, error) {
	b, err := json.Marshal(openAIChatReq{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      false,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if len(req.Tools) > 0 {
		return sjson.SetBytes(b, "tools", req.Tools)
	}
	return b, nil
}

func (p *OpenAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if p.Client == nil {
		return nil, fmt.Errorf("%s: http client is nil", p.Name)
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, fmt.Errorf("%s: api key is required", p.Name)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("%s: model is required", p.Name)
	}

	b, err := encodeChatRequest(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, &ProviderError{
			Provider:   p.Name,
			StatusCode: resp.StatusCode,
			Message:    providerErrorMessage(body, resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", p.Name, err)
	}
	return decodeChatResponse(p.Name, resp.StatusCode, body)
}

// providerErrorMessage prefers {"error":{"message"}}, then {"error":"..."}, then a top-level {"message"}.
func providerErrorMessage(body []byte, status int) string {
	if gjson.ValidBytes(body) {
		if msg := strings.TrimSpace(gjson.GetBytes(body, "error.message").String()); msg != "" {
			return msg
		}
		if e := gjson.GetBytes(body, "error"); e.Type == gjson.String && strings.TrimSpace(e.String()) != "" {
			return strings.TrimSpace(e.String())
		}
		if msg := strings.TrimSpace(gjson.GetBytes(body, "message").String()); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("API request failed: %d %s", status, http.StatusText(status))
}

func decodeChatResponse(name string, status int, body []byte) (*ChatResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidResponse
	}
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return nil, &ProviderError{Provider: name, StatusCode: status, Message: msg}
	}

	choices := gjson.GetBytes(body, "choices")
	if !choices.IsArray() || len(choices.Array()) == 0 {
		return nil, ErrInvalidResponse
	}
	content := choices.Get("0.message.content")
	if content.Type != gjson.String {
		return nil, ErrInvalidResponse
	}

	out := &ChatResult{Content: content.String()}
	if total := gjson.GetBytes(body, "usage.total_tokens"); total.Exists() && total.Int() > 0 {
		out.TotalTokens = total.Int()
		out.HasUsage = true
	}
	return out, nil
}
