package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

func newTestState(pairs ...any) *State {
	c := conversation.NewContext()
	for i := 0; i+1 < len(pairs); i += 2 {
		c.Set(conversation.Key(pairs[i].(string)), pairs[i+1])
	}
	return NewState(c, nil, 0)
}

func TestComposeMessageRendersTemplate(t *testing.T) {
	h, err := NewComposeMessageHandler(ComposeMessageConfig{
		Template: "Annotate this abstract:\n\n{{ .document }}",
	})
	require.NoError(t, err)
	assert.False(t, h.AppliesInToolCycle())

	state := newTestState("document", "Mutations in TP53 drive tumor growth.")
	req := engine.NewRequest("test-model")
	require.NoError(t, h.OnRequest(context.Background(), state, req))

	require.Len(t, req.Messages, 1)
	assert.Equal(t, chat.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Annotate this abstract:\n\nMutations in TP53 drive tumor growth.", req.Messages[0].Content)
}

func TestComposeMessageSprigFunctions(t *testing.T) {
	h, err := NewComposeMessageHandler(ComposeMessageConfig{
		Template: "{{ .document | upper | trim }}",
		Role:     "system",
	})
	require.NoError(t, err)

	state := newTestState("document", "  hela cells  ")
	req := engine.NewRequest("test-model")
	require.NoError(t, h.OnRequest(context.Background(), state, req))

	require.Len(t, req.Messages, 1)
	assert.Equal(t, chat.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "HELA CELLS", req.Messages[0].Content)
}

func TestComposeMessageRequiredContextKeys(t *testing.T) {
	h, err := NewComposeMessageHandler(ComposeMessageConfig{
		Template: `{{ .document }}
{{- if .reference }}
Reference: {{ .reference }}
{{- end }}
{{ range .items }}{{ . }}{{ end }}
{{ .entities.genes }}`,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"document", "entities", "items", "reference"}, h.RequiredContextKeys())
}

func TestComposeMessageMissingKeyFailsBeforeRender(t *testing.T) {
	h, err := NewComposeMessageHandler(ComposeMessageConfig{
		Template: "{{ .document }} {{ .annotations }}",
	})
	require.NoError(t, err)

	state := newTestState("document", "text")
	req := engine.NewRequest("test-model")
	err = h.OnRequest(context.Background(), state, req)
	require.Error(t, err)

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "annotations")
	assert.Empty(t, req.Messages)
}

func TestComposeMessageIdempotent(t *testing.T) {
	h, err := NewComposeMessageHandler(ComposeMessageConfig{
		Template: "doc: {{ .document }}, genes: {{ .genes }}",
	})
	require.NoError(t, err)

	state := newTestState("document", "abstract", "genes", []string{"TP53", "EGFR"})

	first := engine.NewRequest("test-model")
	require.NoError(t, h.OnRequest(context.Background(), state, first))
	second := engine.NewRequest("test-model")
	require.NoError(t, h.OnRequest(context.Background(), state, second))

	assert.Equal(t, first.Messages[0].Content, second.Messages[0].Content)
}

func TestComposeMessageConfigValidation(t *testing.T) {
	_, err := NewComposeMessageHandler(ComposeMessageConfig{})
	require.Error(t, err)

	_, err = NewComposeMessageHandler(ComposeMessageConfig{Template: "{{ .document }"})
	require.Error(t, err)

	_, err = NewComposeMessageHandler(ComposeMessageConfig{Template: "hi", Role: "tool"})
	require.Error(t, err)
}
