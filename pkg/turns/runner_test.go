package turns

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/corpus"
	"github.com/go-go-golems/grillo/pkg/handlers"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
	"github.com/go-go-golems/grillo/pkg/lookup"
)

type scriptedEngine struct {
	steps    []func(req *engine.Request) (*engine.Response, error)
	requests []*engine.Request
}

func (s *scriptedEngine) Complete(_ context.Context, req *engine.Request) (*engine.Response, error) {
	s.requests = append(s.requests, req)
	if len(s.requests) > len(s.steps) {
		return nil, &engine.ProviderError{StatusCode: 500, Message: "script exhausted"}
	}
	return s.steps[len(s.requests)-1](req)
}

func (s *scriptedEngine) Name() string { return "scripted" }

func reply(content string) func(*engine.Request) (*engine.Response, error) {
	return func(*engine.Request) (*engine.Response, error) {
		return &engine.Response{
			Message:      chat.NewAssistantMessage(content),
			FinishReason: engine.FinishStop,
		}, nil
	}
}

func toolReply(callID, tool, args string) func(*engine.Request) (*engine.Response, error) {
	return func(*engine.Request) (*engine.Response, error) {
		return &engine.Response{
			Message: chat.NewAssistantMessage("", chat.ToolCall{
				ID:        callID,
				Name:      tool,
				Arguments: json.RawMessage(args),
			}),
			FinishReason: engine.FinishToolCalls,
		}, nil
	}
}

func failWith(status int) func(*engine.Request) (*engine.Response, error) {
	return func(*engine.Request) (*engine.Response, error) {
		return nil, &engine.ProviderError{StatusCode: status, Message: "scripted failure"}
	}
}

type recordingLimiter struct {
	waits   int
	reports []bool
}

func (l *recordingLimiter) Wait(context.Context) error { l.waits++; return nil }
func (l *recordingLimiter) Report(ok bool)             { l.reports = append(l.reports, ok) }

func testRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func newTestRunner(t *testing.T, eng engine.Engine, limiter Limiter) *Runner {
	t.Helper()
	r, err := NewRunner(eng, limiter, RunnerConfig{
		Model:         "test-model",
		Retry:         testRetry(),
		MaxToolCycles: 3,
	})
	require.NoError(t, err)
	return r
}

func newTestConversation() *conversation.Conversation {
	return conversation.New(&corpus.Document{ID: "doc-1", Text: "some text"}, 0)
}

func composer(t *testing.T, tmpl string) handlers.RequestHandler {
	t.Helper()
	h, err := handlers.NewComposeMessageHandler(handlers.ComposeMessageConfig{Template: tmpl})
	require.NoError(t, err)
	return h
}

func structuredOutput(t *testing.T) *handlers.StructuredOutputHandler {
	t.Helper()
	var cfg handlers.StructuredOutputConfig
	raw := `
key: extraction
schema:
  type: object
  properties:
    title:
      type: string
  required: [title]
`
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))
	h, err := handlers.NewStructuredOutputHandler(cfg)
	require.NoError(t, err)
	return h
}

type fakeStrategy struct{}

func (fakeStrategy) Tool() engine.ToolDef {
	return engine.ToolDef{Name: "entity_lookup", Description: "look up an entity"}
}

func (fakeStrategy) Lookup(context.Context, json.RawMessage) (*lookup.Result, error) {
	return &lookup.Result{Formatted: "- thing: ID:1234"}, nil
}

func toolHandler(t *testing.T) *handlers.ToolLookupHandler {
	t.Helper()
	reg := lookup.NewRegistry()
	reg.Register("fake", func(*yaml.Node) (lookup.Strategy, error) {
		return fakeStrategy{}, nil
	})
	h, err := handlers.NewToolLookupHandler(reg, handlers.ToolLookupConfig{
		Strategies: []handlers.StrategySpec{{Type: "fake"}},
	})
	require.NoError(t, err)
	return h
}

func TestHistoryGrowsByTwoMessagesPerCleanTurn(t *testing.T) {
	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		reply("first answer"),
		reply("second answer"),
	}}
	limiter := &recordingLimiter{}
	r := newTestRunner(t, eng, limiter)
	conv := newTestConversation()

	err := r.RunConversation(context.Background(), conv, []Config{
		{Name: "one", RequestHandlers: []handlers.RequestHandler{composer(t, "analyze {{ .document }}")}},
		{Name: "two", RequestHandlers: []handlers.RequestHandler{composer(t, "refine it")}},
	})
	require.NoError(t, err)

	require.Equal(t, conversation.StatusSucceeded, conv.Status)
	msgs := conv.History.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "analyze some text", msgs[0].Content)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, chat.RoleUser, msgs[2].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[3].Role)
	assert.Equal(t, "second answer", msgs[3].Content)
	assert.Equal(t, 2, limiter.waits)

	// the second request replays the full transcript plus the new message
	require.Len(t, eng.requests, 2)
	assert.Len(t, eng.requests[1].Messages, 3)
}

func TestStructuredOutputEndToEnd(t *testing.T) {
	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		reply(`{"title": "A Study"}`),
	}}
	r := newTestRunner(t, eng, &recordingLimiter{})
	conv := newTestConversation()

	so := structuredOutput(t)
	outcome, err := r.Run(context.Background(), conv, Config{
		Name:             "extract",
		RequestHandlers:  []handlers.RequestHandler{composer(t, "extract from {{ .document }}"), so},
		ResponseHandlers: []handlers.ResponseHandler{so},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 0, outcome.ToolCycles)

	require.Equal(t, 2, conv.History.Len())
	value, ok := conv.Context.Get(conversation.Key("extraction"))
	require.True(t, ok)
	assert.Equal(t, map[string]any{"title": "A Study"}, value)

	// the request carried the schema constraint
	require.NotNil(t, eng.requests[0].StructuredOutput)
}

func TestUnknownToolRecoversWithinCycle(t *testing.T) {
	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		toolReply("call_1", "frobnicate", `{"q": "x"}`),
		reply(`{"title": "Recovered"}`),
	}}
	r := newTestRunner(t, eng, &recordingLimiter{})
	conv := newTestConversation()

	so := structuredOutput(t)
	th := toolHandler(t)
	outcome, err := r.Run(context.Background(), conv, Config{
		Name:             "extract",
		RequestHandlers:  []handlers.RequestHandler{composer(t, "extract"), so, th},
		ResponseHandlers: []handlers.ResponseHandler{th, so},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.ToolCycles)

	msgs := conv.History.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.True(t, msgs[1].HasToolCalls())
	assert.Equal(t, chat.RoleTool, msgs[2].Role)
	assert.Contains(t, msgs[2].Content, `Unknown tool "frobnicate"`)
	assert.Equal(t, chat.RoleAssistant, msgs[3].Role)

	_, ok := conv.Context.Get(conversation.Key("extraction"))
	assert.True(t, ok)
}

func TestCycleCapFailsDeterministically(t *testing.T) {
	// the model never stops asking for the tool
	steps := make([]func(*engine.Request) (*engine.Response, error), 0, 4)
	for i := 0; i < 4; i++ {
		steps = append(steps, toolReply("call_1", "entity_lookup", `{"q": "x"}`))
	}
	eng := &scriptedEngine{steps: steps}

	r, err := NewRunner(eng, &recordingLimiter{}, RunnerConfig{
		Model:         "test-model",
		Retry:         testRetry(),
		MaxToolCycles: 2,
	})
	require.NoError(t, err)

	conv := newTestConversation()
	th := toolHandler(t)
	outcome, err := r.Run(context.Background(), conv, Config{
		Name:             "extract",
		RequestHandlers:  []handlers.RequestHandler{composer(t, "extract"), th},
		ResponseHandlers: []handlers.ResponseHandler{th},
	})
	require.Error(t, err)

	var capErr *CycleCapError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Cap)
	assert.False(t, outcome.Success)

	// cap 2 means three sends: the initial pass and two cycles
	assert.Len(t, eng.requests, 3)
}

func TestTransientErrorsRetryWithBackoff(t *testing.T) {
	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		failWith(429),
		failWith(503),
		reply("finally"),
	}}
	limiter := &recordingLimiter{}
	r := newTestRunner(t, eng, limiter)
	conv := newTestConversation()

	outcome, err := r.Run(context.Background(), conv, Config{
		Name:            "one",
		RequestHandlers: []handlers.RequestHandler{composer(t, "hi")},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, limiter.waits)
	// 429 reported as a rejection, the final success as ok
	assert.Equal(t, []bool{false, true}, limiter.reports)
}

func TestRetryExhaustionFailsTurn(t *testing.T) {
	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		failWith(429), failWith(429), failWith(429),
	}}
	r := newTestRunner(t, eng, &recordingLimiter{})
	conv := newTestConversation()

	outcome, err := r.Run(context.Background(), conv, Config{
		Name:            "one",
		RequestHandlers: []handlers.RequestHandler{composer(t, "hi")},
	})
	require.Error(t, err)
	assert.Equal(t, 3, outcome.Attempts)
	assert.False(t, outcome.Success)
}

func TestPermanentProviderErrorIsNotRetried(t *testing.T) {
	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		failWith(400),
	}}
	r := newTestRunner(t, eng, &recordingLimiter{})
	conv := newTestConversation()

	outcome, err := r.Run(context.Background(), conv, Config{
		Name:            "one",
		RequestHandlers: []handlers.RequestHandler{composer(t, "hi")},
	})
	require.Error(t, err)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestUnexpectedFinishReasonFailsTurn(t *testing.T) {
	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		func(*engine.Request) (*engine.Response, error) {
			return &engine.Response{
				Message:            chat.NewAssistantMessage("cut off"),
				FinishReason:       engine.FinishReason("length"),
				NativeFinishReason: "MAX_TOKENS",
			}, nil
		},
	}}
	r := newTestRunner(t, eng, &recordingLimiter{})
	conv := newTestConversation()

	_, err := r.Run(context.Background(), conv, Config{
		Name:            "one",
		RequestHandlers: []handlers.RequestHandler{composer(t, "hi")},
	})
	require.Error(t, err)

	var finishErr *engine.UnexpectedFinishError
	require.ErrorAs(t, err, &finishErr)
	assert.Equal(t, "length", finishErr.FinishReason)
}

func TestMissingContextKeyFailsBeforeAnyCall(t *testing.T) {
	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		reply("never reached"),
	}}
	limiter := &recordingLimiter{}
	r := newTestRunner(t, eng, limiter)
	conv := newTestConversation()

	_, err := r.Run(context.Background(), conv, Config{
		Name:            "one",
		RequestHandlers: []handlers.RequestHandler{composer(t, "use {{ .no_such_key }}")},
	})
	require.Error(t, err)

	var cfgErr *handlers.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, limiter.waits)
	assert.Empty(t, eng.requests)
}

func TestRunConversationHaltsAfterFirstFailure(t *testing.T) {
	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		reply("fine"),
		failWith(400),
	}}
	r := newTestRunner(t, eng, &recordingLimiter{})
	conv := newTestConversation()

	err := r.RunConversation(context.Background(), conv, []Config{
		{Name: "one", RequestHandlers: []handlers.RequestHandler{composer(t, "a")}},
		{Name: "two", RequestHandlers: []handlers.RequestHandler{composer(t, "b")}},
		{Name: "three", RequestHandlers: []handlers.RequestHandler{composer(t, "c")}},
	})
	require.Error(t, err)

	assert.Equal(t, conversation.StatusFailed, conv.Status)
	// the third turn never ran
	require.Len(t, conv.Outcomes, 2)
	assert.True(t, conv.Outcomes[0].Success)
	assert.False(t, conv.Outcomes[1].Success)
	// the first turn's exchange is preserved
	assert.Equal(t, 2, conv.History.Len())
}

func TestCancelledContextMarksConversationCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := &scriptedEngine{steps: []func(*engine.Request) (*engine.Response, error){
		reply("unreachable"),
	}}
	r := newTestRunner(t, eng, &cancellingLimiter{})
	conv := newTestConversation()

	err := r.RunConversation(ctx, conv, []Config{
		{Name: "one", RequestHandlers: []handlers.RequestHandler{composer(t, "a")}},
	})
	require.Error(t, err)
	assert.Equal(t, conversation.StatusCancelled, conv.Status)
}

type cancellingLimiter struct{}

func (cancellingLimiter) Wait(ctx context.Context) error { return ctx.Err() }
func (cancellingLimiter) Report(bool)                    {}

func TestConfigErrorMarksConversationRejected(t *testing.T) {
	eng := &scriptedEngine{}
	r := newTestRunner(t, eng, &recordingLimiter{})
	conv := newTestConversation()

	err := r.RunConversation(context.Background(), conv, []Config{
		{Name: "one", RequestHandlers: []handlers.RequestHandler{composer(t, "{{ .nonexistent }}")}},
	})
	require.Error(t, err)

	assert.Equal(t, conversation.StatusRejected, conv.Status)
	assert.Empty(t, eng.requests, "no network call for a rejected conversation")
}
