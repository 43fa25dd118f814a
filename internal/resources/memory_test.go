package resources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/core/pkg/coretypes"
)

func TestMemoryStoreFunctionRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	s.PutFunction(&coretypes.Function{Namespace: "billing", Name: "charge"})

	f, err := s.GetFunction(context.Background(), "billing", "charge")
	require.NoError(t, err)
	require.Equal(t, "billing/charge", f.Ref())

	_, err = s.GetFunction(context.Background(), "billing", "missing")
	require.Error(t, err)
}

func TestMemoryStoreMessageHistoryRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendMessage(ctx, "chat-1", &coretypes.Message{ID: string(rune('a' + i))}))
	}

	all, err := s.ListMessages(ctx, "chat-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)

	last2, err := s.ListMessages(ctx, "chat-1", 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	require.Equal(t, "d", last2[0].ID)
	require.Equal(t, "e", last2[1].ID)
}

func TestMemoryStoreStateRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.GetState(ctx, "ns", "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetState(ctx, "ns", "k", []byte("v1")))
	v, ok, err := s.GetState(ctx, "ns", "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", string(v))

	require.NoError(t, s.DeleteState(ctx, "ns", "k"))
	_, ok, err = s.GetState(ctx, "ns", "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreResolveLLMProviderReportsInactive(t *testing.T) {
	s := NewMemoryStore()
	s.PutProvider("openai", nil, true)

	_, found, err := s.ResolveLLMProvider(context.Background(), "openai")
	require.True(t, found)
	require.Error(t, err)

	_, found, err = s.ResolveLLMProvider(context.Background(), "unknown")
	require.False(t, found)
	require.NoError(t, err)
}
