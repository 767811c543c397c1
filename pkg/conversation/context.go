package conversation

import (
	"encoding/json"
	"sort"

	"github.com/huandu/go-clone"
)

// Key is a typed string key into a conversation Context.
type Key string

func (k Key) String() string {
	return string(k)
}

// Keys seeded by the conversation itself before any turn runs.
const (
	KeyDocument      Key = "document"
	KeySupplementary Key = "supplementary"
	KeyReference     Key = "reference"
)

// KeyKind declares what shape of value lives under a context key. Writers
// report the kind they store and the configuration flow check rejects a
// handler that redeclares a key at a conflicting kind.
type KeyKind string

const (
	KindText   KeyKind = "text"
	KindObject KeyKind = "object"
	KindList   KeyKind = "list"
	KindAny    KeyKind = "any"
)

// Context is the mutable per-conversation key/value store. Handlers write
// parsed results under their declared keys; later turns read them through
// message templates. Keys are only ever added or overwritten, never deleted.
//
// A Context belongs to exactly one conversation and is only touched by that
// conversation's strictly sequential turn executions, so it needs no locking.
type Context struct {
	values map[Key]any
}

func NewContext() *Context {
	return &Context{values: map[Key]any{}}
}

func (c *Context) Set(key Key, value any) {
	c.values[key] = value
}

func (c *Context) Get(key Key) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (c *Context) GetString(key Key) (string, bool) {
	v, ok := c.values[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// SetNested writes value under field inside the map stored at key, creating
// the map on first use. Tool adapters use this to file per-call records.
func (c *Context) SetNested(key Key, field string, value any) {
	m, ok := c.values[key].(map[string]any)
	if !ok {
		m = map[string]any{}
		c.values[key] = m
	}
	m[field] = value
}

func (c *Context) Has(key Key) bool {
	_, ok := c.values[key]
	return ok
}

// Keys returns all present keys in sorted order.
func (c *Context) Keys() []Key {
	keys := make([]Key, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (c *Context) Len() int {
	return len(c.values)
}

// Snapshot deep-copies the context for persistence, so the record cannot be
// mutated by turns that run after the snapshot was taken.
func (c *Context) Snapshot() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[string(k)] = clone.Clone(v)
	}
	return out
}

// TemplateData exposes the context to text/template rendering, keyed by the
// plain string form.
func (c *Context) TemplateData() map[string]any {
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[string(k)] = v
	}
	return out
}

func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}
