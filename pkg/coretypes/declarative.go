package coretypes

import "encoding/json"

// ParamLock describes how one function parameter is pinned by an Agent's
// function_parameters configuration.
type ParamLock struct {
	Value  json.RawMessage `json:"value" yaml:"value"`
	Locked bool            `json:"locked" yaml:"locked"`
}

// Agent is the declarative contract for a conversational workflow. It is
// sourced from the resources.Store, never constructed or mutated by the
// execution core itself.
type Agent struct {
	Namespace   string `json:"namespace" yaml:"namespace"`
	Name        string `json:"name" yaml:"name"`

	// SystemPrompt is a Jinja-style template rendered against
	// Chat.AgentInput plus, optionally, a readable-state block.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`

	InputSchema  json.RawMessage `json:"input_schema" yaml:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`

	LLMProviderRef string  `json:"llm_provider_ref,omitempty" yaml:"llm_provider_ref,omitempty"`
	Model          string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature    float64 `json:"temperature" yaml:"temperature"`
	MaxTokens      int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	EnabledFunctions []string `json:"enabled_functions,omitempty" yaml:"enabled_functions,omitempty"`
	EnabledAgents    []string `json:"enabled_agents,omitempty" yaml:"enabled_agents,omitempty"`
	EnabledSkills    []string `json:"enabled_skills,omitempty" yaml:"enabled_skills,omitempty"`
	EnabledMCPTools  []string `json:"enabled_mcp_tools,omitempty" yaml:"enabled_mcp_tools,omitempty"`

	// FunctionParameters maps a function ref (namespace/name) to a map of
	// parameter name -> lock configuration.
	FunctionParameters map[string]map[string]ParamLock `json:"function_parameters,omitempty" yaml:"function_parameters,omitempty"`

	StateNamespacesReadonly  []string  `json:"state_namespaces_readonly,omitempty" yaml:"state_namespaces_readonly,omitempty"`
	StateNamespacesReadwrite []string  `json:"state_namespaces_readwrite,omitempty" yaml:"state_namespaces_readwrite,omitempty"`
	InitialMessages          []Message `json:"initial_messages,omitempty" yaml:"initial_messages,omitempty"`
}

// Ref returns the flat namespace/name reference used throughout the
// resource store and tool synthesiser.
func (a Agent) Ref() string { return a.Namespace + "/" + a.Name }

// Function is the declarative contract for a piece of executable code.
type Function struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`

	Code     string `json:"code" yaml:"code"`
	Language string `json:"language" yaml:"language"`

	InputSchema  json.RawMessage `json:"input_schema" yaml:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`

	EnabledNamespaces []string `json:"enabled_namespaces,omitempty" yaml:"enabled_namespaces,omitempty"`
	RequiresApproval  bool     `json:"requires_approval" yaml:"requires_approval"`

	// SharedPool marks the function as trusted: it runs in the
	// SharedWorkerPool rather than a recycled sandbox container.
	SharedPool bool `json:"shared_pool" yaml:"shared_pool"`
}

// Ref returns the flat namespace/name reference.
func (f Function) Ref() string { return f.Namespace + "/" + f.Name }

// Skill is a reusable block of markdown content an agent can either
// preload into its system prompt or expose on-demand as a get_skill_*
// tool.
type Skill struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
	Content   string `json:"content" yaml:"content"`
	Preload   bool   `json:"preload" yaml:"preload"`
}

// Ref returns the flat namespace/name reference.
func (s Skill) Ref() string { return s.Namespace + "/" + s.Name }
