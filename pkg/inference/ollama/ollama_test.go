package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

func newTestEngine(t *testing.T, handler http.HandlerFunc) (*Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Setenv("OLLAMA_HOST", "")
	e, err := NewFromURL(srv.URL)
	require.NoError(t, err)
	return e, srv
}

func TestNewFromURLExportsHost(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	e, err := NewFromURL("http://10.1.2.3:11434")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "http://10.1.2.3:11434", os.Getenv("OLLAMA_HOST"))
}

func TestCompleteAccumulatesResponse(t *testing.T) {
	var gotBody map[string]any
	e, srv := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama2","created_at":"2024-01-01T00:00:00Z","message":{"role":"assistant","content":"hello from ollama"},"done":true,"prompt_eval_count":11,"eval_count":6}` + "\n"))
	})
	defer srv.Close()

	req := engine.NewRequest("llama2")
	req.AppendMessages(chat.NewUserMessage("hi"))
	req.StructuredOutput = &engine.StructuredOutput{Name: "annotation", Schema: json.RawMessage(`{"type":"object"}`)}

	resp, err := e.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "llama2", gotBody["model"])
	assert.Equal(t, "json", gotBody["format"], "structured output should switch the daemon to JSON mode")
	assert.Equal(t, false, gotBody["stream"])

	assert.Equal(t, chat.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "hello from ollama", resp.Message.Content)
	assert.Equal(t, engine.FinishStop, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
}

func TestCompleteRejectsTools(t *testing.T) {
	e, srv := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be sent when tools are configured")
	})
	defer srv.Close()

	req := engine.NewRequest("llama2")
	req.Tools = []engine.ToolDef{{Name: "pubtator_id_search"}}

	_, err := e.Complete(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool calling")
}
