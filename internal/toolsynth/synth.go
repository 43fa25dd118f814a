package toolsynth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexora-ai/core/internal/resources"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// Synthesiser builds the active tool list for one agent, from the five
// declarative sources plus the continuation tool, per spec §4.7.
type Synthesiser struct {
	store resources.Store
	mcp   MCPClient
}

// New constructs a Synthesiser over a resource store and an MCP client.
// mcp may be nil if no agent in this deployment enables MCP tools.
func New(store resources.Store, mcp MCPClient) *Synthesiser {
	return &Synthesiser{store: store, mcp: mcp}
}

// Synthesize assembles the tool list for agent, given the execution_ids
// of any of this chat's paused (awaiting_input) executions.
func (s *Synthesiser) Synthesize(ctx context.Context, agent *coretypes.Agent, pausedExecutionIDs []string) ([]Tool, error) {
	var tools []Tool

	for _, ref := range agent.EnabledFunctions {
		t, err := s.functionTool(ctx, agent, ref)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}

	for _, ref := range agent.EnabledAgents {
		t, err := s.subAgentTool(ctx, ref)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}

	for _, ref := range agent.EnabledSkills {
		t, preload, err := s.skillTool(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !preload {
			tools = append(tools, t)
		}
	}

	if s.mcp != nil {
		for _, server := range agent.EnabledMCPTools {
			serverTools, err := s.mcp.ListTools(ctx, server)
			if err != nil {
				return nil, fmt.Errorf("toolsynth: list mcp tools for %s: %w", server, err)
			}
			for _, def := range serverTools {
				tools = append(tools, Tool{
					Name:        Flatten(server, def.Name),
					Description: def.Description,
					Schema:      def.Schema,
					Meta:        Meta{Kind: KindMCP, Namespace: server, Name: def.Name, MCPServer: server, MCPToolName: def.Name},
				})
			}
		}
	}

	if len(agent.StateNamespacesReadonly) > 0 || len(agent.StateNamespacesReadwrite) > 0 {
		tools = append(tools, s.stateTools(agent)...)
	}

	if len(pausedExecutionIDs) > 0 {
		tools = append(tools, s.continuationTool(pausedExecutionIDs))
	}

	return tools, nil
}

// PreloadedSkillContent returns the markdown content of every enabled
// skill marked Preload, for AgentEngine to splice into the system
// prompt (spec §4.6 step 4).
func (s *Synthesiser) PreloadedSkillContent(ctx context.Context, agent *coretypes.Agent) ([]string, error) {
	var out []string
	for _, ref := range agent.EnabledSkills {
		ns, name, ok := splitRef(ref)
		if !ok {
			continue
		}
		sk, err := s.store.GetSkill(ctx, ns, name)
		if err != nil {
			return nil, err
		}
		if sk.Preload {
			out = append(out, sk.Content)
		}
	}
	return out, nil
}

func (s *Synthesiser) functionTool(ctx context.Context, agent *coretypes.Agent, ref string) (Tool, error) {
	ns, name, ok := splitRef(ref)
	if !ok {
		return Tool{}, fmt.Errorf("toolsynth: malformed function ref %q", ref)
	}
	fn, err := s.store.GetFunction(ctx, ns, name)
	if err != nil {
		return Tool{}, err
	}
	locks := agent.FunctionParameters[ref]
	schema, err := projectSchema(fn.InputSchema, locks)
	if err != nil {
		return Tool{}, fmt.Errorf("toolsynth: project schema for %s: %w", ref, err)
	}
	return Tool{
		Name:        Flatten(ns, name),
		Description: fmt.Sprintf("Invoke the %s/%s function.", ns, name),
		Schema:      schema,
		Meta:        Meta{Kind: KindFunction, Namespace: ns, Name: name, Locked: locks, RequiresApproval: fn.RequiresApproval},
	}, nil
}

func (s *Synthesiser) subAgentTool(ctx context.Context, ref string) (Tool, error) {
	ns, name, ok := splitRef(ref)
	if !ok {
		return Tool{}, fmt.Errorf("toolsynth: malformed agent ref %q", ref)
	}
	sub, err := s.store.GetAgent(ctx, ns, name)
	if err != nil {
		return Tool{}, err
	}
	return Tool{
		Name:        Flatten(ns, name),
		Description: fmt.Sprintf("Delegate to the %s/%s sub-agent.", ns, name),
		Schema:      sub.InputSchema,
		Meta:        Meta{Kind: KindSubAgent, Namespace: ns, Name: name, SubAgentRef: ref},
	}, nil
}

func (s *Synthesiser) skillTool(ctx context.Context, ref string) (Tool, bool, error) {
	ns, name, ok := splitRef(ref)
	if !ok {
		return Tool{}, false, fmt.Errorf("toolsynth: malformed skill ref %q", ref)
	}
	sk, err := s.store.GetSkill(ctx, ns, name)
	if err != nil {
		return Tool{}, false, err
	}
	if sk.Preload {
		return Tool{}, true, nil
	}
	return Tool{
		Name:        "get_skill_" + Flatten(ns, name),
		Description: fmt.Sprintf("Retrieve the %s/%s skill's reference content.", ns, name),
		Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
		Meta:        Meta{Kind: KindSkill, Namespace: ns, Name: name},
	}, false, nil
}

func (s *Synthesiser) stateTools(agent *coretypes.Agent) []Tool {
	namespaces := make([]string, 0, len(agent.StateNamespacesReadonly)+len(agent.StateNamespacesReadwrite))
	namespaces = append(namespaces, agent.StateNamespacesReadonly...)
	namespaces = append(namespaces, agent.StateNamespacesReadwrite...)
	readwriteNamespaces := agent.StateNamespacesReadwrite

	namespaceEnum, _ := json.Marshal(namespaces)
	readwriteEnum, _ := json.Marshal(readwriteNamespaces)

	readSchema := json.RawMessage(fmt.Sprintf(`{"type":"object","required":["namespace","key"],"properties":{"namespace":{"type":"string","enum":%s},"key":{"type":"string"}}}`, namespaceEnum))
	writeSchema := json.RawMessage(fmt.Sprintf(`{"type":"object","required":["namespace","key","value"],"properties":{"namespace":{"type":"string","enum":%s},"key":{"type":"string"},"value":{}}}`, readwriteEnum))
	deleteSchema := json.RawMessage(fmt.Sprintf(`{"type":"object","required":["namespace","key"],"properties":{"namespace":{"type":"string","enum":%s},"key":{"type":"string"}}}`, readwriteEnum))

	meta := Meta{Kind: KindState, StateNamespaceReadonly: agent.StateNamespacesReadonly, StateNamespaceReadwrite: agent.StateNamespacesReadwrite}

	return []Tool{
		{Name: "retrieve_state", Description: "Read a stored key/value record.", Schema: readSchema, Meta: meta},
		{Name: "save_state", Description: "Create a stored key/value record.", Schema: writeSchema, Meta: meta},
		{Name: "update_state", Description: "Overwrite a stored key/value record.", Schema: writeSchema, Meta: meta},
		{Name: "delete_state", Description: "Delete a stored key/value record.", Schema: deleteSchema, Meta: meta},
	}
}

func (s *Synthesiser) continuationTool(pausedExecutionIDs []string) Tool {
	idsEnum, _ := json.Marshal(pausedExecutionIDs)
	schema := json.RawMessage(fmt.Sprintf(`{"type":"object","required":["execution_id","resume_data"],"properties":{"execution_id":{"type":"string","enum":%s},"resume_data":{}}}`, idsEnum))
	return Tool{
		Name:        "continue_execution",
		Description: "Resume a paused execution in this chat with resume_data.",
		Schema:      schema,
		Meta:        Meta{Kind: KindContinuation, PausedExecutionIDs: pausedExecutionIDs},
	}
}

func splitRef(ref string) (namespace, name string, ok bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}
