package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
	"github.com/go-go-golems/grillo/pkg/lookup"
)

// nativeMalformedFunctionCall is reported by some providers when the model
// emitted a function call the provider could not parse. There is nothing to
// dispatch and nothing to tell the model, so the turn fails.
const nativeMalformedFunctionCall = "MALFORMED_FUNCTION_CALL"

// defaultLookupKey is the Context key tool calls are recorded under.
const defaultLookupKey = "lookups"

// StrategySpec names a lookup strategy and carries its raw configuration.
type StrategySpec struct {
	Type string

	node yaml.Node
}

func (s *StrategySpec) UnmarshalYAML(value *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := value.Decode(&head); err != nil {
		return err
	}
	if head.Type == "" {
		return errors.New("strategy spec needs a type")
	}
	s.Type = head.Type
	s.node = *value
	return nil
}

// ToolLookupConfig configures a ToolLookupHandler.
type ToolLookupConfig struct {
	// Strategies to advertise; usually one.
	Strategies []StrategySpec `yaml:"strategies"`
	// ForceToolUse sets tool_choice required on the initial pass, so the
	// model must look an entity up before answering.
	ForceToolUse bool `yaml:"force_tool_use,omitempty"`
	// Key is the Context key calls are recorded under; defaults to
	// "lookups".
	Key string `yaml:"key,omitempty"`
}

// ToolLookupHandler advertises one tool per bound lookup strategy and
// answers the model's tool calls. Lookup failures and unknown tool names
// become corrective tool messages rather than turn failures, so the model
// can fix its call on the next cycle.
type ToolLookupHandler struct {
	strategies   map[string]lookup.Strategy
	tools        []engine.ToolDef
	forceToolUse bool
	key          string
}

var (
	_ RequestHandler  = (*ToolLookupHandler)(nil)
	_ ResponseHandler = (*ToolLookupHandler)(nil)
)

func NewToolLookupHandler(registry *lookup.Registry, cfg ToolLookupConfig) (*ToolLookupHandler, error) {
	if len(cfg.Strategies) == 0 {
		return nil, NewConfigError(TypeToolLookup, errors.New("at least one strategy is required"))
	}

	strategies := make(map[string]lookup.Strategy, len(cfg.Strategies))
	tools := make([]engine.ToolDef, 0, len(cfg.Strategies))
	for _, spec := range cfg.Strategies {
		strategy, err := registry.New(spec.Type, &spec.node)
		if err != nil {
			return nil, NewConfigError(TypeToolLookup, errors.Wrapf(err, "building strategy %q", spec.Type))
		}
		def := strategy.Tool()
		if _, dup := strategies[def.Name]; dup {
			return nil, NewConfigError(TypeToolLookup,
				errors.Errorf("two strategies advertise the tool name %q", def.Name))
		}
		strategies[def.Name] = strategy
		tools = append(tools, def)
	}

	key := cfg.Key
	if key == "" {
		key = defaultLookupKey
	}

	return &ToolLookupHandler{
		strategies:   strategies,
		tools:        tools,
		forceToolUse: cfg.ForceToolUse,
		key:          key,
	}, nil
}

func (h *ToolLookupHandler) Name() string {
	return TypeToolLookup
}

// AppliesInToolCycle is always true: the tools must stay advertised and the
// replies handled for as long as the model keeps calling them.
func (h *ToolLookupHandler) AppliesInToolCycle() bool {
	return true
}

func (h *ToolLookupHandler) WritesContextKey() string {
	return h.key
}

// WritesKeyKind is always an object: per-call records are filed as a map
// under the bookkeeping key.
func (h *ToolLookupHandler) WritesKeyKind() conversation.KeyKind {
	return conversation.KindObject
}

func (h *ToolLookupHandler) OnRequest(ctx context.Context, state *State, req *engine.Request) error {
	for _, def := range h.tools {
		if req.HasTool(def.Name) {
			return NewConfigError(h.Name(), errors.Errorf("tool %q is already advertised", def.Name))
		}
		req.Tools = append(req.Tools, def)
	}

	// Forcing tool use during a cycle would trap the model in the loop.
	if h.forceToolUse && state.Cycle == 0 {
		req.ToolChoice = engine.ToolChoiceRequired
	}
	return nil
}

func (h *ToolLookupHandler) OnResponse(ctx context.Context, state *State, resp *engine.Response) error {
	if resp.NativeFinishReason == nativeMalformedFunctionCall {
		return errors.Errorf("provider reported %s: the model emitted an unparseable tool call", nativeMalformedFunctionCall)
	}

	calls := resp.Message.ToolCalls
	if len(calls) == 0 {
		return nil
	}

	log.Debug().Int("tool_calls", len(calls)).Int("cycle", state.Cycle).Msg("dispatching tool calls")

	outcomes := make([]dispatchOutcome, len(calls))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, call := range calls {
		eg.Go(func() error {
			outcomes[i] = h.dispatch(egCtx, call)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "tool dispatch cancelled")
	}

	for i, outcome := range outcomes {
		state.StageMessage(outcome.message)
		state.Context.SetNested(conversation.Key(h.key), calls[i].ID, outcome.record)
	}
	state.SignalCycle()
	return nil
}

type dispatchOutcome struct {
	message chat.Message
	record  any
}

func (h *ToolLookupHandler) dispatch(ctx context.Context, call chat.ToolCall) dispatchOutcome {
	strategy, ok := h.strategies[call.Name]
	if !ok {
		log.Warn().Str("tool", call.Name).Msg("model called an unknown tool")
		return dispatchOutcome{
			message: chat.NewToolMessage(call.ID, call.Name,
				fmt.Sprintf("Unknown tool %q. The available tools are: %s.", call.Name, strings.Join(h.toolNames(), ", "))),
			record: map[string]any{
				"tool":      call.Name,
				"arguments": string(call.Arguments),
				"error":     "unknown tool",
			},
		}
	}

	result, err := strategy.Lookup(ctx, call.Arguments)
	if err != nil {
		log.Warn().Err(err).Str("tool", call.Name).Msg("tool call failed")
		return dispatchOutcome{
			message: chat.NewToolMessage(call.ID, call.Name,
				fmt.Sprintf("Tool call failed: %v. Please correct the call and try again.", err)),
			record: map[string]any{
				"tool":      call.Name,
				"arguments": string(call.Arguments),
				"error":     err.Error(),
			},
		}
	}

	return dispatchOutcome{
		message: chat.NewToolMessage(call.ID, call.Name, result.Formatted),
		record: map[string]any{
			"tool":      call.Name,
			"arguments": result.Arguments,
			"results":   result.Results,
		},
	}
}

func (h *ToolLookupHandler) toolNames() []string {
	names := make([]string, 0, len(h.strategies))
	for name := range h.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
