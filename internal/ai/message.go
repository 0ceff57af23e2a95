package ai

import (
	"context"
	"encoding/json"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ImageURL struct {
	URL string `json:"url"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// Message is a chat message. When Parts is non-empty it is sent as a content array
// (multimodal), otherwise Content is sent as a plain string.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

// HasImage reports whether any part carries an image.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.ImageURL != nil {
			return true
		}
	}
	return false
}

// Text returns the textual content, joining text parts of a multimodal message.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type Tool struct {
	Type string `json:"type"`
}

// WebSearchTool is the search directive attached to text-only requests.
var WebSearchTool = Tool{Type: "web_search"}

type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	Tools       []Tool
}

type ChatResult struct {
	Content string
	// TotalTokens is usage.total_tokens; HasUsage is false when the provider omitted it.
	TotalTokens int64
	HasUsage    bool
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
}
