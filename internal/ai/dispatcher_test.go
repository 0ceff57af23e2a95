package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type staticSettings Settings

func (s staticSettings) Provider(ctx context.Context) Settings { return Settings(s) }

type recordingObserver struct {
	outcomes []string
	models   []string
}

func (o *recordingObserver) ObserveProviderCall(provider, model, outcome string, d time.Duration) {
	o.models = append(o.models, model)
	o.outcomes = append(o.outcomes, outcome)
}

// captureServer records the last request body and answers with status/body.
func captureServer(t *testing.T, status int, reply string, last *[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		*last = b
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDispatcher(baseURL string, obs Observer) *Dispatcher {
	reg := NewRegistry()
	reg.Register("siliconflow", func(ctx context.Context, s Settings) (Provider, error) {
		return NewOpenAICompatProvider("siliconflow", s.BaseURL, s.APIKey), nil
	})
	settings := staticSettings{
		APIKey:      "sk-test",
		BaseURL:     baseURL,
		TextModel:   "text-model",
		VisionModel: "vision-model",
	}
	return NewDispatcher(reg, "siliconflow", settings, obs)
}

const okReply = `{"choices":[{"message":{"role":"assistant","content":"x = 2"}}],"usage":{"total_tokens":42}}`

func TestDispatch_TextWithSearch(t *testing.T) {
	var body []byte
	srv := captureServer(t, http.StatusOK, okReply, &body)
	d := newTestDispatcher(srv.URL, nil)

	res, err := d.Dispatch(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, false, true)
	require.NoError(t, err)
	require.Equal(t, "x = 2", res.Content)
	require.True(t, res.HasUsage)
	require.EqualValues(t, 42, res.TotalTokens)

	require.Equal(t, "text-model", gjson.GetBytes(body, "model").String())
	require.False(t, gjson.GetBytes(body, "stream").Bool())
	require.InDelta(t, 0.7, gjson.GetBytes(body, "temperature").Float(), 1e-9)
	require.Equal(t, "web_search", gjson.GetBytes(body, "tools.0.type").String())
}

func TestDispatch_VisionNeverCarriesTools(t *testing.T) {
	var body []byte
	srv := captureServer(t, http.StatusOK, okReply, &body)
	d := newTestDispatcher(srv.URL, nil)

	msgs := []Message{{
		Role:  RoleUser,
		Parts: []ContentPart{ImagePart("data:image/png;base64,AAAA"), TextPart("what is this")},
	}}
	_, err := d.Dispatch(context.Background(), msgs, true, true)
	require.NoError(t, err)

	require.Equal(t, "vision-model", gjson.GetBytes(body, "model").String())
	require.False(t, gjson.GetBytes(body, "tools").Exists(), "multimodal request must not contain tools")
	require.Equal(t, "image_url", gjson.GetBytes(body, "messages.0.content.0.type").String())
	require.Equal(t, "text", gjson.GetBytes(body, "messages.0.content.1.type").String())
}

func TestDispatch_TextWithoutSearchHasNoTools(t *testing.T) {
	var body []byte
	srv := captureServer(t, http.StatusOK, okReply, &body)
	d := newTestDispatcher(srv.URL, nil)

	_, err := d.Dispatch(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, false, false)
	require.NoError(t, err)
	require.False(t, gjson.GetBytes(body, "tools").Exists())
}

func TestDispatch_ProviderErrorMessage(t *testing.T) {
	var body []byte
	srv := captureServer(t, http.StatusUnauthorized, `{"error":{"message":"Invalid token","type":"auth"}}`, &body)
	obs := &recordingObserver{}
	d := newTestDispatcher(srv.URL, obs)

	_, err := d.Dispatch(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, false, false)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, http.StatusUnauthorized, pe.StatusCode)
	require.Equal(t, "Invalid token", pe.Message)
	require.Equal(t, []string{"provider_error"}, obs.outcomes)
	require.Equal(t, []string{"text-model"}, obs.models)
}

func TestDispatch_GenericErrorWhenUnparseable(t *testing.T) {
	var body []byte
	srv := captureServer(t, http.StatusBadGateway, `<html>bad gateway</html>`, &body)
	d := newTestDispatcher(srv.URL, nil)

	_, err := d.Dispatch(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, false, false)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "API request failed: 502 Bad Gateway", pe.Message)
}

func TestDispatch_InvalidResponseFormat(t *testing.T) {
	for _, reply := range []string{`{"choices":[]}`, `{}`, `{"choices":[{"message":{}}]}`, `not json`} {
		var body []byte
		srv := captureServer(t, http.StatusOK, reply, &body)
		obs := &recordingObserver{}
		d := newTestDispatcher(srv.URL, obs)

		_, err := d.Dispatch(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, false, false)
		require.ErrorIs(t, err, ErrInvalidResponse, "reply=%s", reply)
		require.Equal(t, []string{"invalid_response"}, obs.outcomes)
	}
}

func TestDispatch_NoUsageReported(t *testing.T) {
	var body []byte
	srv := captureServer(t, http.StatusOK, `{"choices":[{"message":{"content":"ok"}}]}`, &body)
	d := newTestDispatcher(srv.URL, nil)

	res, err := d.Dispatch(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, false, false)
	require.NoError(t, err)
	require.False(t, res.HasUsage)
}

func TestDispatch_UnknownProvider(t *testing.T) {
	d := NewDispatcher(NewRegistry(), "nope", staticSettings{}, nil)
	_, err := d.Dispatch(context.Background(), nil, false, false)
	require.Error(t, err)
}

func TestOpenAICompat_RequiresAPIKey(t *testing.T) {
	p := NewOpenAICompatProvider("siliconflow", "http://127.0.0.1:1", "")
	_, err := p.Chat(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
}

func TestOllama_SendsImagesAndCountsTokens(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"local"},"prompt_eval_count":10,"eval_count":5}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3:latest")
	res, err := p.Chat(context.Background(), ChatRequest{
		Model: "ignored",
		Messages: []Message{{
			Role:  RoleUser,
			Parts: []ContentPart{ImagePart("data:image/jpeg;base64,QUJD"), TextPart("describe")},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, "local", res.Content)
	require.EqualValues(t, 15, res.TotalTokens)
	require.Equal(t, "llama3:latest", got.Model)
	require.Equal(t, []string{"QUJD"}, got.Messages[0].Images)
	require.Equal(t, "describe", got.Messages[0].Content)
}
