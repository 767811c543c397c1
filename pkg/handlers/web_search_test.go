package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

func TestWebSearchAttachesPlugin(t *testing.T) {
	h, err := NewWebSearchHandler(WebSearchConfig{MaxResults: 3, SearchPrompt: "search the biomedical literature"})
	require.NoError(t, err)
	assert.False(t, h.AppliesInToolCycle())

	req := engine.NewRequest("test-model")
	require.NoError(t, h.OnRequest(context.Background(), newTestState(), req))

	require.Len(t, req.Plugins, 1)
	assert.Equal(t, "web", req.Plugins[0].ID)
	assert.Equal(t, 3, req.Plugins[0].MaxResults)
	assert.Equal(t, "search the biomedical literature", req.Plugins[0].SearchPrompt)

	err = h.OnRequest(context.Background(), newTestState(), req)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestWebSearchRejectsNegativeMaxResults(t *testing.T) {
	_, err := NewWebSearchHandler(WebSearchConfig{MaxResults: -1})
	require.Error(t, err)
}
