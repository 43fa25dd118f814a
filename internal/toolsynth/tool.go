package toolsynth

import (
	"encoding/json"

	"github.com/nexora-ai/core/pkg/coretypes"
)

// Kind identifies which of the six synthesis sources (spec §4.7) a Tool
// came from, and therefore how dispatch (spec §4.8) routes it.
type Kind string

const (
	KindFunction     Kind = "function"
	KindSubAgent     Kind = "sub_agent"
	KindSkill        Kind = "skill"
	KindMCP          Kind = "mcp"
	KindState        Kind = "state"
	KindContinuation Kind = "continuation"
)

// Meta is the private metadata spec §4.7 says rides alongside every
// synthesised tool: namespace/name, locked and overridable parameters,
// and the routing kind. It is stripped before the tool list is sent to
// an LLMProvider and retained only in the engine for dispatch.
type Meta struct {
	Kind      Kind
	Namespace string
	Name      string

	// Locked holds parameter values the agent pinned; these are removed
	// from the LLM-facing schema entirely and always win at merge time.
	Locked map[string]coretypes.ParamLock

	// RequiresApproval is set for KindFunction when the underlying
	// Function is marked requires_approval: the engine must pause for
	// human consent before dispatching this call.
	RequiresApproval bool

	// SubAgentRef is set for KindSubAgent: the namespace/name of the
	// agent this tool invokes.
	SubAgentRef string

	// StateNamespaceReadonly/StateNamespaceReadwrite are set for
	// KindState: the namespaces the
	// synthesised enum parameter is allowed to reference.
	StateNamespaceReadonly  []string
	StateNamespaceReadwrite []string

	// MCPServer/MCPToolName are set for KindMCP.
	MCPServer   string
	MCPToolName string

	// PausedExecutionIDs is set for KindContinuation.
	PausedExecutionIDs []string
}

// Tool is one entry of the synthesised tool list: the LLM-facing
// Name/Description/Schema plus the engine-only Meta used at dispatch.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Meta        Meta
}

// jsonSchema is the minimal shape this package needs to read and
// rewrite out of an arbitrary input_schema document.
type jsonSchema struct {
	Type       string                     `json:"type,omitempty"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Required   []string                   `json:"required,omitempty"`
}

// projectSchema removes locked parameters from an input schema entirely
// (the LLM never sees them and cannot supply them) and marks overridable
// parameters (those with a Locked=false ParamLock, i.e. a default but
// still settable) as non-required, attaching their default.
func projectSchema(raw json.RawMessage, locks map[string]coretypes.ParamLock) (json.RawMessage, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	if len(locks) == 0 {
		return raw, nil
	}

	var schema jsonSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return raw, err
	}
	if schema.Properties == nil {
		schema.Properties = make(map[string]json.RawMessage)
	}

	requiredOut := schema.Required[:0:0]
	for _, field := range schema.Required {
		if lock, locked := locks[field]; locked && lock.Locked {
			continue
		}
		requiredOut = append(requiredOut, field)
	}

	for name, lock := range locks {
		if lock.Locked {
			delete(schema.Properties, name)
			continue
		}
		prop, ok := schema.Properties[name]
		if !ok {
			continue
		}
		withDefault, err := attachDefault(prop, lock.Value)
		if err != nil {
			return raw, err
		}
		schema.Properties[name] = withDefault
	}
	schema.Required = requiredOut

	return json.Marshal(schema)
}

func attachDefault(propertySchema json.RawMessage, defaultValue json.RawMessage) (json.RawMessage, error) {
	var prop map[string]json.RawMessage
	if err := json.Unmarshal(propertySchema, &prop); err != nil {
		return propertySchema, err
	}
	prop["default"] = defaultValue
	return json.Marshal(prop)
}

// mergeParams implements spec §4.8 step 3's precedence: LLM args
// (lowest) ← overridable defaults (already baked into the schema seen
// by the LLM, so nothing to do here) ← locked values (highest). Any
// locked field present in llmArgs is overwritten and a warning name is
// returned for the caller to log.
func mergeParams(llmArgs map[string]json.RawMessage, locks map[string]coretypes.ParamLock) (merged map[string]json.RawMessage, overridden []string) {
	merged = make(map[string]json.RawMessage, len(llmArgs)+len(locks))
	for k, v := range llmArgs {
		merged[k] = v
	}
	for name, lock := range locks {
		if !lock.Locked {
			continue
		}
		if _, present := merged[name]; present {
			overridden = append(overridden, name)
		}
		merged[name] = lock.Value
	}
	return merged, overridden
}
