package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider is the local-development backend. Model, when set, replaces the
// requested model since Ollama hosts its own model names. Tools are not forwarded.
type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []ollamaMsg    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaMsg struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResp struct {
	Message         ollamaMsg `json:"message"`
	PromptEvalCount int64     `json:"prompt_eval_count"`
	EvalCount       int64     `json:"eval_count"`
	Error           string    `json:"error,omitempty"`
}

// stripDataURI turns "data:image/png;base64,XXXX" into "XXXX"; Ollama wants raw base64.
func stripDataURI(u string) string {
	if i := strings.Index(u, ";base64,"); i >= 0 && strings.HasPrefix(u, "data:") {
		return u[i+len(";base64,"):]
	}
	return u
}

func toOllamaMsgs(messages []Message) []ollamaMsg {
	out := make([]ollamaMsg, 0, len(messages))
	for _, m := range messages {
		om := ollamaMsg{Role: m.Role, Content: m.Text()}
		for _, p := range m.Parts {
			if p.ImageURL != nil {
				om.Images = append(om.Images, stripDataURI(p.ImageURL.URL))
			}
		}
		out = append(out, om)
	}
	return out
}

func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}
	model := req.Model
	if p.Model != "" {
		model = p.Model
	}

	b, err := json.Marshal(ollamaChatReq{
		Model:    model,
		Messages: toOllamaMsgs(req.Messages),
		Stream:   false,
		Options:  map[string]any{"temperature": req.Temperature},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, &ProviderError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Message:    providerErrorMessage(body, resp.StatusCode),
		}
	}

	var decoded ollamaChatResp
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, ErrInvalidResponse
	}
	if decoded.Error != "" {
		return nil, &ProviderError{Provider: "ollama", StatusCode: resp.StatusCode, Message: decoded.Error}
	}

	out := &ChatResult{Content: decoded.Message.Content}
	if total := decoded.PromptEvalCount + decoded.EvalCount; total > 0 {
		out.TotalTokens = total
		out.HasUsage = true
	}
	return out, nil
}
