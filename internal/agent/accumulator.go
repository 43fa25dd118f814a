package agent

import (
	"encoding/json"
	"strconv"

	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// ToolCallAccumulator folds a stream of llm.StreamChunk tool-call
// fragments into complete coretypes.ToolCall values. Some providers
// (Anthropic) emit one whole ToolCall per chunk; others (OpenAI) emit
// index-keyed argument fragments that must be concatenated — keyed on
// ToolCallIndex, since that field is always present across an OpenAI
// tool-call stream even though ToolCallID/ToolCallName only appear on
// the fragment's first delta. Per the Tool-call streaming deltas
// design note.
type ToolCallAccumulator struct {
	order []string // insertion order of keys, to preserve emission order
	byKey map[string]*accumulating
}

type accumulating struct {
	id   string
	name string
	args []byte
}

// NewToolCallAccumulator constructs an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{byKey: make(map[string]*accumulating)}
}

// Add folds one StreamChunk into the accumulator. Whole-entry tool calls
// are recorded immediately under their own id; index-keyed fragments
// are merged into the entry already tracked under that index, if any.
func (a *ToolCallAccumulator) Add(chunk *llm.StreamChunk) {
	if chunk == nil {
		return
	}
	if chunk.ToolCall != nil {
		key := "id:" + chunk.ToolCall.ID
		a.byKey[key] = &accumulating{id: chunk.ToolCall.ID, name: chunk.ToolCall.Name, args: append([]byte(nil), chunk.ToolCall.Input...)}
		a.order = append(a.order, key)
		return
	}
	if chunk.ToolCallID == "" && chunk.ToolCallName == "" && chunk.ToolCallArgsDelta == "" {
		return
	}

	key := "idx:" + strconv.Itoa(chunk.ToolCallIndex)
	entry, ok := a.byKey[key]
	if !ok {
		entry = &accumulating{}
		a.byKey[key] = entry
		a.order = append(a.order, key)
	}
	if chunk.ToolCallID != "" {
		entry.id = chunk.ToolCallID
	}
	if chunk.ToolCallName != "" {
		entry.name = chunk.ToolCallName
	}
	entry.args = append(entry.args, []byte(chunk.ToolCallArgsDelta)...)
}

// ToolCalls returns the accumulated calls in emission order, with any
// empty argument buffer normalized to an empty JSON object so dispatch
// never sees a zero-length json.RawMessage.
func (a *ToolCallAccumulator) ToolCalls() []coretypes.ToolCall {
	out := make([]coretypes.ToolCall, 0, len(a.order))
	for _, key := range a.order {
		entry := a.byKey[key]
		args := entry.args
		if len(args) == 0 {
			args = []byte("{}")
		}
		out = append(out, coretypes.ToolCall{ID: entry.id, Name: entry.name, Input: json.RawMessage(args)})
	}
	return out
}

// Empty reports whether any tool call fragments were accumulated.
func (a *ToolCallAccumulator) Empty() bool { return len(a.order) == 0 }
