package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the model. Arguments is
// the raw JSON string the model produced, which may be malformed.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one entry in a conversation transcript. A message is immutable
// once it has been appended to a History.
//
// ToolCalls is only set on assistant messages. ToolCallID and ToolName are
// only set on tool messages and link the message to the call it answers.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"name,omitempty"`
}

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string, toolCalls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolMessage builds the tool-role answer for a single tool call.
func NewToolMessage(callID string, toolName string, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
	}
}

func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a deep copy. Messages are value types, but ToolCalls holds a
// slice whose backing array would otherwise be shared.
func (m Message) Clone() Message {
	c := m
	if len(m.ToolCalls) > 0 {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c.ToolCalls[i] = tc
			if tc.Arguments != nil {
				c.ToolCalls[i].Arguments = append(json.RawMessage(nil), tc.Arguments...)
			}
		}
	}
	return c
}

func (m Message) String() string {
	if m.Role == RoleTool {
		return fmt.Sprintf("[%s %s]: %s", m.Role, m.ToolName, strings.TrimRight(m.Content, "\n"))
	}
	if m.HasToolCalls() {
		names := make([]string, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			names[i] = tc.Name
		}
		return fmt.Sprintf("[%s tool_calls=%s]: %s", m.Role, strings.Join(names, ","), m.Content)
	}
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}
