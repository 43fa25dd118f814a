package resources

import (
	"context"
	"strings"
	"sync"

	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// MemoryStore is an in-process Store for tests and local development,
// grounded on the teacher's internal/jobs/store.go MemoryStore (clone-on-read,
// mutex-guarded maps).
type MemoryStore struct {
	mu sync.RWMutex

	functions map[string]*coretypes.Function
	agents    map[string]*coretypes.Agent
	skills    map[string]*coretypes.Skill
	chats     map[string]*coretypes.Chat
	messages  map[string][]coretypes.Message
	state     map[string][]byte // namespace + "\x00" + key

	providers       map[string]llm.Provider
	inactiveProviders map[string]bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		functions:         make(map[string]*coretypes.Function),
		agents:            make(map[string]*coretypes.Agent),
		skills:            make(map[string]*coretypes.Skill),
		chats:             make(map[string]*coretypes.Chat),
		messages:          make(map[string][]coretypes.Message),
		state:             make(map[string][]byte),
		providers:         make(map[string]llm.Provider),
		inactiveProviders: make(map[string]bool),
	}
}

// PutFunction seeds a Function for tests.
func (s *MemoryStore) PutFunction(f *coretypes.Function) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functions[f.Ref()] = f
}

// PutAgent seeds an Agent for tests.
func (s *MemoryStore) PutAgent(a *coretypes.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.Ref()] = a
}

// PutSkill seeds a Skill for tests.
func (s *MemoryStore) PutSkill(sk *coretypes.Skill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skills[sk.Ref()] = sk
}

// PutChat seeds a Chat for tests.
func (s *MemoryStore) PutChat(c *coretypes.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[c.ChatID] = c
}

// PutProvider registers a provider under ref, reachable via
// ResolveLLMProvider. Marking inactive=true simulates a deactivated
// provider for the fail-fast path.
func (s *MemoryStore) PutProvider(ref string, p llm.Provider, inactive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[ref] = p
	s.inactiveProviders[ref] = inactive
}

func (s *MemoryStore) GetFunction(_ context.Context, namespace, name string) (*coretypes.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref := namespace + "/" + name
	f, ok := s.functions[ref]
	if !ok {
		return nil, &ErrNotFound{Kind: "function", Ref: ref}
	}
	clone := *f
	return &clone, nil
}

func (s *MemoryStore) GetAgent(_ context.Context, namespace, name string) (*coretypes.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref := namespace + "/" + name
	a, ok := s.agents[ref]
	if !ok {
		return nil, &ErrNotFound{Kind: "agent", Ref: ref}
	}
	clone := *a
	return &clone, nil
}

func (s *MemoryStore) GetSkill(_ context.Context, namespace, name string) (*coretypes.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref := namespace + "/" + name
	sk, ok := s.skills[ref]
	if !ok {
		return nil, &ErrNotFound{Kind: "skill", Ref: ref}
	}
	clone := *sk
	return &clone, nil
}

func (s *MemoryStore) GetChat(_ context.Context, chatID string) (*coretypes.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, &ErrNotFound{Kind: "chat", Ref: chatID}
	}
	clone := *c
	return &clone, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, chatID string, msg *coretypes.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[chatID] = append(s.messages[chatID], *msg)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, chatID string, limit int) ([]coretypes.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[chatID]
	if limit <= 0 || limit >= len(all) {
		out := make([]coretypes.Message, len(all))
		copy(out, all)
		return out, nil
	}
	start := len(all) - limit
	out := make([]coretypes.Message, limit)
	copy(out, all[start:])
	return out, nil
}

func stateKey(namespace, key string) string { return namespace + "\x00" + key }

func (s *MemoryStore) GetState(_ context.Context, namespace, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[stateKey(namespace, key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *MemoryStore) SetState(_ context.Context, namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.state[stateKey(namespace, key)] = v
	return nil
}

func (s *MemoryStore) DeleteState(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, stateKey(namespace, key))
	return nil
}

func (s *MemoryStore) ListStateKeys(_ context.Context, namespace string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := namespace + "\x00"
	out := make(map[string][]byte)
	for k, v := range s.state {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		value := make([]byte, len(v))
		copy(value, v)
		out[strings.TrimPrefix(k, prefix)] = value
	}
	return out, nil
}

func (s *MemoryStore) ResolveLLMProvider(_ context.Context, ref string) (llm.Provider, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[ref]
	if !ok {
		return nil, false, nil
	}
	if s.inactiveProviders[ref] {
		return nil, true, &ErrProviderInactive{Ref: ref}
	}
	return p, true, nil
}
