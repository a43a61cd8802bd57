package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisURL = "redis://:secret@localhost:6380/2"

	opts, err := RedisOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.RedisDB = 4
	opts, err = RedisOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, opts.DB)

	_, err = RedisOptions(Config{})
	assert.Error(t, err)

	_, err = RedisOptions(Config{RedisURL: "http://nope"})
	assert.Error(t, err)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := OpenRedis(context.Background(), Config{RedisURL: "redis://" + mr.Addr(), RedisDB: -1})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()).Err())
}
