package handlers

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"

	"github.com/go-go-golems/grillo/pkg/chat"
	"github.com/go-go-golems/grillo/pkg/conversation"
	"github.com/go-go-golems/grillo/pkg/inference/engine"
)

// ComposeMessageConfig configures a ComposeMessageHandler.
type ComposeMessageConfig struct {
	// Template is a text/template body rendered over the Context.
	Template string `yaml:"template"`
	// Role of the appended message; defaults to user.
	Role string `yaml:"role,omitempty"`
	// ApplyInToolCycle re-renders the message on tool-cycle passes.
	// Almost always left false: the transcript already carries it.
	ApplyInToolCycle bool `yaml:"apply_in_tool_cycle,omitempty"`
}

// ComposeMessageHandler renders a template over the Context and appends the
// result to the outgoing request. The template is parsed and its referenced
// keys extracted at construction, so missing keys surface as configuration
// errors before any network call. Rendering the same Context twice yields
// byte-identical messages.
type ComposeMessageHandler struct {
	tmpl             *template.Template
	role             chat.Role
	requiredKeys     []string
	applyInToolCycle bool
}

var _ RequestHandler = (*ComposeMessageHandler)(nil)

func NewComposeMessageHandler(cfg ComposeMessageConfig) (*ComposeMessageHandler, error) {
	if strings.TrimSpace(cfg.Template) == "" {
		return nil, NewConfigError(TypeComposeMessage, errors.New("template must not be empty"))
	}

	role := chat.RoleUser
	if cfg.Role != "" {
		role = chat.Role(cfg.Role)
		switch role {
		case chat.RoleUser, chat.RoleSystem, chat.RoleAssistant:
		default:
			return nil, NewConfigError(TypeComposeMessage, errors.Errorf("unsupported role %q", cfg.Role))
		}
	}

	tmpl, err := template.New(TypeComposeMessage).
		Funcs(sprig.FuncMap()).
		Option("missingkey=error").
		Parse(cfg.Template)
	if err != nil {
		return nil, NewConfigError(TypeComposeMessage, errors.Wrap(err, "parsing template"))
	}

	return &ComposeMessageHandler{
		tmpl:             tmpl,
		role:             role,
		requiredKeys:     templateKeys(tmpl),
		applyInToolCycle: cfg.ApplyInToolCycle,
	}, nil
}

func (h *ComposeMessageHandler) Name() string {
	return TypeComposeMessage
}

func (h *ComposeMessageHandler) AppliesInToolCycle() bool {
	return h.applyInToolCycle
}

// RequiredContextKeys lists the top-level Context keys the template reads.
// The configuration validator checks these against the keys seeded and
// written by earlier handlers.
func (h *ComposeMessageHandler) RequiredContextKeys() []string {
	keys := make([]string, len(h.requiredKeys))
	copy(keys, h.requiredKeys)
	return keys
}

func (h *ComposeMessageHandler) OnRequest(ctx context.Context, state *State, req *engine.Request) error {
	for _, key := range h.requiredKeys {
		if !state.Context.Has(conversation.Key(key)) {
			return NewConfigError(h.Name(), errors.Errorf("context key %q is not set", key))
		}
	}

	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, state.Context.TemplateData()); err != nil {
		return NewConfigError(h.Name(), errors.Wrap(err, "rendering template"))
	}

	req.AppendMessages(chat.NewMessage(h.role, buf.String()))
	return nil
}

// templateKeys walks the parse trees and collects the top-level field names
// the template dereferences off dot.
func templateKeys(t *template.Template) []string {
	seen := map[string]struct{}{}
	for _, tmpl := range t.Templates() {
		if tmpl.Tree == nil || tmpl.Tree.Root == nil {
			continue
		}
		walkTemplateNode(tmpl.Tree.Root, seen)
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func walkTemplateNode(node parse.Node, seen map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walkTemplateNode(child, seen)
		}
	case *parse.ActionNode:
		walkTemplatePipe(n.Pipe, seen)
	case *parse.IfNode:
		walkTemplateBranch(&n.BranchNode, seen)
	case *parse.RangeNode:
		walkTemplateBranch(&n.BranchNode, seen)
	case *parse.WithNode:
		walkTemplateBranch(&n.BranchNode, seen)
	case *parse.TemplateNode:
		walkTemplatePipe(n.Pipe, seen)
	}
}

func walkTemplateBranch(branch *parse.BranchNode, seen map[string]struct{}) {
	walkTemplatePipe(branch.Pipe, seen)
	walkTemplateNode(branch.List, seen)
	if branch.ElseList != nil {
		walkTemplateNode(branch.ElseList, seen)
	}
}

func walkTemplatePipe(pipe *parse.PipeNode, seen map[string]struct{}) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					seen[a.Ident[0]] = struct{}{}
				}
			case *parse.ChainNode:
				if pn, ok := a.Node.(*parse.PipeNode); ok {
					walkTemplatePipe(pn, seen)
				}
			case *parse.PipeNode:
				walkTemplatePipe(a, seen)
			}
		}
	}
}
