// Package resources defines ResourceStore: the interface AgentEngine,
// ToolSynthesiser, and the tool dispatcher use to load declarative
// Functions/Agents, read and append Chat history, and read/write agent
// state namespaces. The execution core never constructs or mutates
// these resources itself — it only consumes them through this
// interface, same as spec.md §2 describes it as an external
// collaborator.
package resources

import (
	"context"
	"fmt"

	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// Store is the leaf dependency every component needing declarative
// resources or conversation state depends on.
type Store interface {
	GetFunction(ctx context.Context, namespace, name string) (*coretypes.Function, error)
	GetAgent(ctx context.Context, namespace, name string) (*coretypes.Agent, error)
	GetSkill(ctx context.Context, namespace, name string) (*coretypes.Skill, error)
	GetChat(ctx context.Context, chatID string) (*coretypes.Chat, error)

	AppendMessage(ctx context.Context, chatID string, msg *coretypes.Message) error
	ListMessages(ctx context.Context, chatID string, limit int) ([]coretypes.Message, error)

	// GetState/SetState back the state tools (§4.7 source 5). namespace
	// is scoped per-agent by the caller via Agent.StateNamespaces*.
	GetState(ctx context.Context, namespace, key string) ([]byte, bool, error)
	SetState(ctx context.Context, namespace, key string, value []byte) error
	DeleteState(ctx context.Context, namespace, key string) error

	// ListStateKeys returns every key/value pair currently stored under
	// namespace, used to render the system-prompt state-context block
	// (§4.6 context assembly step 3) over an agent's readable namespaces.
	ListStateKeys(ctx context.Context, namespace string) (map[string][]byte, error)

	// ResolveLLMProvider looks up a provider by its configured ref
	// (llm_provider_ref) and reports whether it is registered; a
	// registered but inactive provider comes back as found together with
	// an *ErrProviderInactive error. AgentEngine
	// must fail fast, per spec §4.6, when a resolved provider exists
	// but is inactive rather than silently falling back.
	ResolveLLMProvider(ctx context.Context, ref string) (llm.Provider, bool, error)
}

// ErrNotFound is returned by Store lookups that find nothing.
type ErrNotFound struct {
	Kind string
	Ref  string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("resources: %s %q not found", e.Kind, e.Ref)
}

// ErrProviderInactive is returned by ResolveLLMProvider when a named
// provider is registered but has been deactivated.
type ErrProviderInactive struct {
	Ref string
}

func (e *ErrProviderInactive) Error() string {
	return fmt.Sprintf("resources: llm provider %q is registered but inactive", e.Ref)
}
