package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGet_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	value, found, err := s.GetField(ctx, "nonexistent")

	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "", value)
}

func TestMemorySetAndGet_Success(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	err := s.SetField(ctx, "api_token", "token-value")
	require.NoError(t, err)

	value, found, err := s.GetField(ctx, "api_token")

	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "token-value", value)
}

func TestMemorySet_Overwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.SetField(ctx, "user_name", "first"))
	require.NoError(t, s.SetField(ctx, "user_name", "second"))

	value, _, err := s.GetField(ctx, "user_name")
	assert.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestMemoryClearAll_RemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.SetField(ctx, "api_token", "token-value"))
	require.NoError(t, s.SetField(ctx, "user_email", "ada@example.com"))

	err := s.ClearAll(ctx)
	require.NoError(t, err)

	for _, key := range []string{"api_token", "user_email"} {
		_, found, err := s.GetField(ctx, key)
		assert.NoError(t, err)
		assert.False(t, found, key)
	}

	assert.NoError(t, s.Close())
}
