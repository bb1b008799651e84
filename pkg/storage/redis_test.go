package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisClient_Success(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	config := DefaultConfig()
	config.RedisURL = "redis://" + mr.Addr()

	client, err := NewRedisClient(context.Background(), config)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	config := DefaultConfig()
	config.RedisURL = "not a url"

	_, err := NewRedisClient(context.Background(), config)
	assert.Error(t, err)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	config := DefaultConfig()
	config.RedisURL = "redis://" + addr

	_, err = NewRedisClient(context.Background(), config)
	assert.Error(t, err)
}
