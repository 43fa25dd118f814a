package toolsynth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/core/pkg/coretypes"
)

func TestProjectSchemaRemovesLockedAndDefaultsOverridable(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","properties":{"amount":{"type":"number"},"currency":{"type":"string"},"memo":{"type":"string"}},"required":["amount","currency"]}`)
	locks := map[string]coretypes.ParamLock{
		"currency": {Locked: true, Value: json.RawMessage(`"usd"`)},
		"memo":     {Locked: false, Value: json.RawMessage(`"default memo"`)},
	}

	out, err := projectSchema(raw, locks)
	require.NoError(t, err)

	var schema jsonSchema
	require.NoError(t, json.Unmarshal(out, &schema))

	_, hasCurrency := schema.Properties["currency"]
	require.False(t, hasCurrency, "locked property must be removed from the LLM-facing schema")
	require.NotContains(t, schema.Required, "currency")
	require.Contains(t, schema.Required, "amount")

	var memoProp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(schema.Properties["memo"], &memoProp))
	require.Equal(t, json.RawMessage(`"default memo"`), memoProp["default"])
}

func TestProjectSchemaNoLocksReturnsInputUnchanged(t *testing.T) {
	raw := json.RawMessage(`{"type":"object","properties":{"x":{"type":"string"}}}`)
	out, err := projectSchema(raw, nil)
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(out))
}

func TestMergeParamsLockedValueAlwaysWins(t *testing.T) {
	llmArgs := map[string]json.RawMessage{
		"currency": json.RawMessage(`"eur"`),
		"amount":   json.RawMessage(`100`),
	}
	locks := map[string]coretypes.ParamLock{
		"currency": {Locked: true, Value: json.RawMessage(`"usd"`)},
	}

	merged, overridden := mergeParams(llmArgs, locks)
	require.Equal(t, json.RawMessage(`"usd"`), merged["currency"])
	require.Equal(t, json.RawMessage(`100`), merged["amount"])
	require.Equal(t, []string{"currency"}, overridden)
}

func TestMergeParamsNoOverrideAttemptReportsNone(t *testing.T) {
	llmArgs := map[string]json.RawMessage{"amount": json.RawMessage(`5`)}
	locks := map[string]coretypes.ParamLock{
		"currency": {Locked: true, Value: json.RawMessage(`"usd"`)},
	}
	merged, overridden := mergeParams(llmArgs, locks)
	require.Empty(t, overridden)
	require.Equal(t, json.RawMessage(`"usd"`), merged["currency"])
}
