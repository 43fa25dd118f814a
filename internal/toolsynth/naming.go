// Package toolsynth builds the per-agent tool list AgentEngine hands to
// an LLMProvider and dispatches the calls that provider requests back
// out to their destination (function execution, a sub-agent, a skill,
// an MCP server, the state store, or a paused execution's resume path).
//
// Grounded on the teacher's agent/tool_registry.go (ToolRegistry,
// AsLLMTools, NormalizeTool), generalized from a flat tool registry
// into a per-agent synthesis pass over five source kinds plus
// dispatch-time routing.
package toolsynth

import "strings"

// Flatten renders a namespace/name ref as the flat identifier LLM
// function-calling APIs require (letters, digits, underscore only).
func Flatten(namespace, name string) string {
	return namespace + "__" + name
}

// Unflatten parses a flattened namespace__name identifier back into its
// constituent parts. ok is false if the identifier has no "__"
// separator.
func Unflatten(flat string) (namespace, name string, ok bool) {
	idx := strings.Index(flat, "__")
	if idx < 0 {
		return "", "", false
	}
	return flat[:idx], flat[idx+2:], true
}
