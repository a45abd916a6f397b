package port

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nobletooth/pantry/pkg/cache"
	"github.com/nobletooth/pantry/pkg/config"
	"github.com/nobletooth/pantry/pkg/storage"
)

func newTestEngine(t *testing.T) *cache.Engine[[]byte] {
	t.Helper()
	store, err := storage.NewBlobStore(storage.NewInMemoryKeyValueHolder(), "snapshot")
	require.NoError(t, err)
	engine, err := cache.New[[]byte](context.Background(), cache.Options{
		Name: t.Name(), MaxSize: 100, DefaultTTL: time.Hour, SchemaVersion: "1.0.0",
	}, store, cache.BytesCodec{})
	require.NoError(t, err)
	return engine
}

func TestRedisHandler(t *testing.T) {
	handler, err := newRedisHandler(newTestEngine(t))
	require.NoError(t, err)
	run := func(command string, args ...string) redisOutput {
		return handler.handle(redisCommand{command: command, args: args})
	}
	intOf := func(output redisOutput) int {
		require.NotNil(t, output.writeInt)
		return *output.writeInt
	}

	assert.Equal(t, "PONG", run("PING").writeString)
	assert.Equal(t, []byte("hello"), run("PING", "hello").writeBulk)

	assert.Equal(t, RedisOk, run("SET", "activities_home", "1").writeString)
	assert.Equal(t, RedisOk, run("SET", "activities_all", "2", "EX", "60").writeString)
	assert.Equal(t, RedisOk, run("SET", "gallery_all", "3", "px", "60000").writeString)
	assert.Equal(t, []byte("1"), run("GET", "activities_home").writeBulk)
	assert.True(t, run("GET", "missing").writeNil)
	assert.Equal(t, 3, intOf(run("DBSIZE")))

	assert.Equal(t, []string{"activities_home", "activities_all"}, run("KEYS", "activities*").writeArray)
	assert.Equal(t, []string{}, run("KEYS", "nothing*").writeArray)
	assert.Equal(t, 2, intOf(run("INVALIDATE", "activities")))
	assert.Equal(t, 1, intOf(run("DEL", "gallery_all", "missing")))
	assert.Equal(t, 0, intOf(run("DBSIZE")))

	run("SET", "k", "v")
	assert.Equal(t, RedisOk, run("FLUSHALL").writeString)
	assert.True(t, run("GET", "k").writeNil)

	infoOutput := string(run("INFO").writeBulk)
	assert.Contains(t, infoOutput, "# Cache\r\n")
	assert.Contains(t, infoOutput, "total_entries:0\r\n")

	output := run("QUIT")
	assert.True(t, output.closeConnection)
	assert.Equal(t, RedisOk, output.writeString)
}

func TestRedisHandler_Errors(t *testing.T) {
	handler, err := newRedisHandler(cache.NewNoOp[[]byte]())
	require.NoError(t, err)

	for _, testCase := range []struct {
		name        string
		cmd         redisCommand
		expectedErr string
	}{
		{name: "unknown command", cmd: redisCommand{command: "HSET"}, expectedErr: "ERR unknown command 'hset'"},
		{name: "get arity", cmd: redisCommand{command: "GET"}, expectedErr: "ERR wrong number of arguments for 'get' command"},
		{name: "set arity", cmd: redisCommand{command: "SET", args: []string{"k"}}, expectedErr: "ERR wrong number of arguments for 'set' command"},
		{name: "del arity", cmd: redisCommand{command: "DEL"}, expectedErr: "ERR wrong number of arguments for 'del' command"},
		{name: "set bad option", cmd: redisCommand{command: "SET", args: []string{"k", "v", "KEEPTTL", "1"}}, expectedErr: "ERR syntax error"},
		{name: "set dangling option", cmd: redisCommand{command: "SET", args: []string{"k", "v", "EX"}}, expectedErr: "ERR syntax error"},
		{name: "set bad expiry", cmd: redisCommand{command: "SET", args: []string{"k", "v", "EX", "-5"}}, expectedErr: "ERR invalid expire time in 'set' command"},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			output := handler.handle(testCase.cmd)
			require.NotNil(t, output.err)
			assert.Equal(t, testCase.expectedErr, *output.err)
		})
	}

	_, err = newRedisHandler(nil)
	assert.Error(t, err)
}

func TestParseSetTTL(t *testing.T) {
	for _, testCase := range []struct {
		options  []string
		expected time.Duration
	}{
		{options: nil, expected: 0},
		{options: []string{"EX", "10"}, expected: 10 * time.Second},
		{options: []string{"px", "250"}, expected: 250 * time.Millisecond},
	} {
		ttl, err := parseSetTTL(testCase.options)
		require.NoError(t, err)
		assert.Equal(t, testCase.expected, ttl)
	}
}

// freeAddress returns a local address nobody listens on.
func freeAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

func TestRunRedisServer(t *testing.T) {
	addr := freeAddress(t)
	config.SetTestFlag(t, "address", addr)
	engine := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() { serverErr <- RunRedisServer(ctx, engine) }()

	client := redis.NewClient(&redis.Options{Addr: addr, Protocol: 2, DisableIdentity: true})
	defer func() { _ = client.Close() }()
	require.Eventually(t, func() bool {
		return client.Ping(ctx).Err() == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Set(ctx, "gallery_all", "pictures", 0).Err())
	require.NoError(t, client.Set(ctx, "activities_all", "hikes", time.Minute).Err())
	value, err := client.Get(ctx, "gallery_all").Result()
	require.NoError(t, err)
	assert.Equal(t, "pictures", value)
	_, err = client.Get(ctx, "missing").Result()
	assert.ErrorIs(t, err, redis.Nil)

	keys, err := client.Keys(ctx, "*_all").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gallery_all", "activities_all"}, keys)

	removed, err := client.Do(ctx, "INVALIDATE", "^activities").Int()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	size, err := client.DBSize(ctx).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	infoOutput, err := client.Info(ctx).Result()
	require.NoError(t, err)
	assert.True(t, strings.Contains(infoOutput, "keyspace_hits:1"), infoOutput)

	deleted, err := client.Del(ctx, "gallery_all").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 0, engine.Stats().TotalEntries)

	cancel()
	select {
	case err := <-serverErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Redis server did not stop after cancellation.")
	}
}

func TestRunRedisServer_EmptyAddress(t *testing.T) {
	config.SetTestFlag(t, "address", "")
	assert.Error(t, RunRedisServer(context.Background(), cache.NewNoOp[[]byte]()))
}
