package resources

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexora-ai/core/internal/llm"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// CockroachConfig holds connection pool tuning, identical in shape to
// internal/execution.CockroachConfig and the teacher's jobs.CockroachConfig.
type CockroachConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultCockroachConfig mirrors the teacher's defaults.
func DefaultCockroachConfig() *CockroachConfig {
	return &CockroachConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// CockroachStore implements Store over CockroachDB/Postgres, grounded on
// the teacher's jobs.CockroachStore connection-pool/config idiom. LLM
// provider resolution is delegated to an injected llm.Registry rather
// than a database table — provider configuration is operator-supplied
// at process start, not a declarative resource the store persists.
type CockroachStore struct {
	db        *sql.DB
	providers *llm.Registry
	inactive  map[string]bool
}

// NewCockroachStoreFromDSN opens a pooled connection and pings it before
// returning.
func NewCockroachStoreFromDSN(dsn string, config *CockroachConfig, providers *llm.Registry) (*CockroachStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultCockroachConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &CockroachStore{db: db, providers: providers, inactive: make(map[string]bool)}, nil
}

// Close releases database resources.
func (s *CockroachStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MarkProviderInactive flags a registered provider ref as deactivated,
// so ResolveLLMProvider fails fast instead of silently using it.
func (s *CockroachStore) MarkProviderInactive(ref string, inactive bool) {
	s.inactive[ref] = inactive
}

func (s *CockroachStore) GetFunction(ctx context.Context, namespace, name string) (*coretypes.Function, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, name, code, language, input_schema, output_schema,
			enabled_namespaces, requires_approval, shared_pool
		FROM functions WHERE namespace = $1 AND name = $2
	`, namespace, name)

	var (
		f                 coretypes.Function
		inputSchema       []byte
		outputSchema      []byte
		enabledNamespaces []byte
	)
	if err := row.Scan(&f.Namespace, &f.Name, &f.Code, &f.Language, &inputSchema, &outputSchema,
		&enabledNamespaces, &f.RequiresApproval, &f.SharedPool); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Kind: "function", Ref: namespace + "/" + name}
		}
		return nil, fmt.Errorf("get function: %w", err)
	}
	f.InputSchema = inputSchema
	f.OutputSchema = outputSchema
	if len(enabledNamespaces) > 0 {
		_ = json.Unmarshal(enabledNamespaces, &f.EnabledNamespaces)
	}
	return &f, nil
}

func (s *CockroachStore) GetAgent(ctx context.Context, namespace, name string) (*coretypes.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, name, system_prompt, input_schema, output_schema,
			llm_provider_ref, model, temperature, max_tokens,
			enabled_functions, enabled_agents, enabled_skills, enabled_mcp_tools,
			function_parameters, state_namespaces_readonly, state_namespaces_readwrite
		FROM agents WHERE namespace = $1 AND name = $2
	`, namespace, name)

	var (
		a                                                                            coretypes.Agent
		inputSchema, outputSchema                                                    []byte
		enabledFunctions, enabledAgents, enabledSkills, enabledMCPTools              []byte
		functionParameters                                                           []byte
		stateReadonly, stateReadwrite                                                []byte
	)
	if err := row.Scan(&a.Namespace, &a.Name, &a.SystemPrompt, &inputSchema, &outputSchema,
		&a.LLMProviderRef, &a.Model, &a.Temperature, &a.MaxTokens,
		&enabledFunctions, &enabledAgents, &enabledSkills, &enabledMCPTools,
		&functionParameters, &stateReadonly, &stateReadwrite); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Kind: "agent", Ref: namespace + "/" + name}
		}
		return nil, fmt.Errorf("get agent: %w", err)
	}
	a.InputSchema = inputSchema
	a.OutputSchema = outputSchema
	_ = json.Unmarshal(enabledFunctions, &a.EnabledFunctions)
	_ = json.Unmarshal(enabledAgents, &a.EnabledAgents)
	_ = json.Unmarshal(enabledSkills, &a.EnabledSkills)
	_ = json.Unmarshal(enabledMCPTools, &a.EnabledMCPTools)
	_ = json.Unmarshal(functionParameters, &a.FunctionParameters)
	_ = json.Unmarshal(stateReadonly, &a.StateNamespacesReadonly)
	_ = json.Unmarshal(stateReadwrite, &a.StateNamespacesReadwrite)
	return &a, nil
}

func (s *CockroachStore) GetSkill(ctx context.Context, namespace, name string) (*coretypes.Skill, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, name, content, preload FROM skills WHERE namespace = $1 AND name = $2
	`, namespace, name)

	var sk coretypes.Skill
	if err := row.Scan(&sk.Namespace, &sk.Name, &sk.Content, &sk.Preload); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Kind: "skill", Ref: namespace + "/" + name}
		}
		return nil, fmt.Errorf("get skill: %w", err)
	}
	return &sk, nil
}

func (s *CockroachStore) GetChat(ctx context.Context, chatID string) (*coretypes.Chat, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chat_id, user_id, agent_ref, agent_input, created_at
		FROM chats WHERE chat_id = $1
	`, chatID)

	var c coretypes.Chat
	var agentInput []byte
	if err := row.Scan(&c.ChatID, &c.UserID, &c.AgentRef, &agentInput, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Kind: "chat", Ref: chatID}
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if len(agentInput) > 0 {
		_ = json.Unmarshal(agentInput, &c.AgentInput)
	}
	return &c, nil
}

func (s *CockroachStore) AppendMessage(ctx context.Context, chatID string, msg *coretypes.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, tool_calls, tool_call_id, name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, msg.ID, chatID, string(msg.Role), content, toolCalls, nullableString(msg.ToolCallID), nullableString(msg.Name), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *CockroachStore) ListMessages(ctx context.Context, chatID string, limit int) ([]coretypes.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, tool_calls, tool_call_id, name, created_at
		FROM (
			SELECT id, chat_id, role, content, tool_calls, tool_call_id, name, created_at
			FROM messages WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2
		) AS recent ORDER BY created_at ASC
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []coretypes.Message
	for rows.Next() {
		var (
			m                        coretypes.Message
			role                     string
			content, toolCalls       []byte
			toolCallID, name         sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &content, &toolCalls, &toolCallID, &name, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = coretypes.Role(role)
		_ = json.Unmarshal(content, &m.Content)
		_ = json.Unmarshal(toolCalls, &m.ToolCalls)
		if toolCallID.Valid {
			m.ToolCallID = toolCallID.String
		}
		if name.Valid {
			m.Name = name.String
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (s *CockroachStore) GetState(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM agent_state WHERE namespace = $1 AND key = $2`, namespace, key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get state: %w", err)
	}
	return value, true, nil
}

func (s *CockroachStore) SetState(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_state (namespace, key, value, updated_at) VALUES ($1,$2,$3,now())
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (s *CockroachStore) DeleteState(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_state WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

func (s *CockroachStore) ListStateKeys(ctx context.Context, namespace string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM agent_state WHERE namespace = $1`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list state keys: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list state keys: %w", err)
	}
	return out, nil
}

func (s *CockroachStore) ResolveLLMProvider(_ context.Context, ref string) (llm.Provider, bool, error) {
	if s.providers == nil {
		return nil, false, nil
	}
	if s.inactive[ref] {
		return nil, true, &ErrProviderInactive{Ref: ref}
	}
	p, err := s.providers.Resolve(ref, "")
	if err != nil {
		return nil, false, nil
	}
	return p, true, nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
