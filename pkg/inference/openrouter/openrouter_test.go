package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

func completionBody(t *testing.T, choice map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      "gen-123",
		"created": 1724300000,
		"model":   "test/model",
		"object":  "chat.completion",
		"choices": []any{choice},
		"usage": map[string]any{
			"prompt_tokens":     12,
			"completion_tokens": 7,
			"total_tokens":      19,
		},
		"provider": "TestProvider",
	})
	require.NoError(t, err)
	return body
}

func TestCompleteMapsResponse(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_, _ = w.Write(completionBody(t, map[string]any{
			"finish_reason":        "stop",
			"native_finish_reason": "stop",
			"message":              map[string]any{"role": "assistant", "content": "hello there"},
		}))
	}))
	defer srv.Close()

	e := New("sk-test", WithBaseURL(srv.URL))
	req := engine.NewRequest("test/model")
	req.AppendMessages(chat.NewUserMessage("hi"))

	resp, err := e.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "test/model", gotBody["model"])
	// transforms is always sent, an empty list disables middle-out compression
	transforms, ok := gotBody["transforms"].([]any)
	require.True(t, ok, "transforms missing from request body")
	assert.Empty(t, transforms)

	assert.Equal(t, chat.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "hello there", resp.Message.Content)
	assert.Equal(t, engine.FinishStop, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 19, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.Raw.Request)
	assert.NotEmpty(t, resp.Raw.Response)
}

func TestCompleteMapsToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completionBody(t, map[string]any{
			"finish_reason":        "tool_calls",
			"native_finish_reason": "TOOL_CALL",
			"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []any{
					map[string]any{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "pubtator_id_search",
							"arguments": `{"query":"BRCA1","concept":"gene"}`,
						},
					},
				},
			},
		}))
	}))
	defer srv.Close()

	e := New("sk-test", WithBaseURL(srv.URL))
	resp, err := e.Complete(context.Background(), engine.NewRequest("test/model"))
	require.NoError(t, err)

	assert.Equal(t, engine.FinishToolCalls, resp.FinishReason)
	assert.Equal(t, "TOOL_CALL", resp.NativeFinishReason)
	require.Len(t, resp.Message.ToolCalls, 1)
	tc := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "pubtator_id_search", tc.Name)
	assert.JSONEq(t, `{"query":"BRCA1","concept":"gene"}`, string(tc.Arguments))
}

func TestCompleteSendsToolsAndStructuredOutput(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write(completionBody(t, map[string]any{
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": "{}"},
		}))
	}))
	defer srv.Close()

	e := New("sk-test", WithBaseURL(srv.URL))
	req := engine.NewRequest("test/model")
	req.ToolChoice = engine.ToolChoiceRequired
	req.Tools = []engine.ToolDef{{Name: "pubtator_id_search", Description: "entity id lookup"}}
	req.StructuredOutput = &engine.StructuredOutput{
		Name:   "annotation",
		Strict: true,
		Schema: json.RawMessage(`{"type":"object"}`),
	}
	req.Plugins = []engine.Plugin{{ID: "web", MaxResults: 3}}

	_, err := e.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "required", gotBody["tool_choice"])

	tools, ok := gotBody["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "pubtator_id_search", fn["name"])

	rf, ok := gotBody["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", rf["type"])
	js := rf["json_schema"].(map[string]any)
	assert.Equal(t, "annotation", js["name"])
	assert.Equal(t, true, js["strict"])

	plugins, ok := gotBody["plugins"].([]any)
	require.True(t, ok)
	assert.Equal(t, "web", plugins[0].(map[string]any)["id"])
}

func TestCompleteRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"rate limited"}}`))
	}))
	defer srv.Close()

	e := New("sk-test", WithBaseURL(srv.URL))
	_, err := e.Complete(context.Background(), engine.NewRequest("test/model"))
	require.Error(t, err)

	assert.True(t, engine.IsRateLimited(err), "expected a rate-limit provider error, got %v", err)
	assert.True(t, engine.IsTransient(err))
}

func TestCompleteEmbeddedEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 OK with an error envelope instead of choices
		_, _ = w.Write([]byte(`{"error":{"code":502,"message":"upstream broke","metadata":{"provider_name":"SomeProvider"}}}`))
	}))
	defer srv.Close()

	e := New("sk-test", WithBaseURL(srv.URL))
	_, err := e.Complete(context.Background(), engine.NewRequest("test/model"))
	require.Error(t, err)

	var pe *engine.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 502, pe.StatusCode)
	assert.Equal(t, "SomeProvider", pe.Type)
	assert.True(t, pe.IsOverloaded())
}

func TestCompleteChoiceLevelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completionBody(t, map[string]any{
			"finish_reason": "error",
			"message":       map[string]any{"role": "assistant", "content": ""},
			"error":         map[string]any{"code": 500, "message": "model crashed"},
		}))
	}))
	defer srv.Close()

	e := New("sk-test", WithBaseURL(srv.URL))
	_, err := e.Complete(context.Background(), engine.NewRequest("test/model"))
	require.Error(t, err)

	var pe *engine.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 500, pe.StatusCode)
}

func TestKeyInfoIsCachedAndRedacted(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/key", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		calls++
		_, _ = w.Write([]byte(`{"data":{"label":"my secret key","usage":1.25,"limit":10,"limit_remaining":8.75,"is_free_tier":false,"rate_limit":{"requests":40,"interval":"10s"},"is_provisioning_key":false}}`))
	}))
	defer srv.Close()

	e := New("sk-test", WithBaseURL(srv.URL))

	ki, err := e.KeyInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "[redacted]", ki.Label)
	assert.Equal(t, 1.25, ki.Usage)
	require.NotNil(t, ki.Limit)
	assert.Equal(t, 10.0, *ki.Limit)
	assert.Equal(t, 40.0, ki.RateLimit.Requests)

	_, err = e.KeyInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "key info should be fetched once and cached")
}
