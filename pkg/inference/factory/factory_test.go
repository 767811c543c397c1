package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineSelectsProvider(t *testing.T) {
	e, err := NewEngine(Config{Provider: "openrouter", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openrouter", e.Name())

	// openrouter is the default provider
	e, err = NewEngine(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openrouter", e.Name())

	e, err = NewEngine(Config{Provider: "OpenAI", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", e.Name())

	e, err = NewEngine(Config{Provider: "ollama", BaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", e.Name())
}

func TestNewEngineRequiresCredentials(t *testing.T) {
	_, err := NewEngine(Config{Provider: "openrouter"})
	require.Error(t, err)

	_, err = NewEngine(Config{Provider: "openai"})
	require.Error(t, err)
}

func TestNewEngineRejectsUnknownProvider(t *testing.T) {
	_, err := NewEngine(Config{Provider: "anthropic-direct"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
