// Pantry exposes its cache over the Redis protocol, so any Redis client can read, fill and invalidate it.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/redcon"

	"github.com/nobletooth/pantry/pkg/cache"
	"github.com/nobletooth/pantry/pkg/scan"
	"github.com/nobletooth/pantry/pkg/utils"
)

const RedisOk = "OK"

var address = flag.String("address", ":6380", "The ip:port to listen on for Redis protocol.")

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string // Upper-cased command name.
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection after writing if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       []byte   // Writes a bulk string if set.
	writeArray      []string // Writes an array of bulk strings if not nil.
	writeString     string   // Writes a simple string otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisBulk(b []byte) redisOutput {
	if b == nil {
		b = []byte{}
	}
	return redisOutput{writeBulk: b}
}

func writeRedisArray(items []string) redisOutput {
	if items == nil {
		items = []string{}
	}
	return redisOutput{writeArray: items}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArity(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// writeTo writes the output to a client connection.
func (o redisOutput) writeTo(conn redcon.Conn) {
	switch {
	case o.err != nil:
		conn.WriteError(*o.err)
	case o.writeNil:
		conn.WriteNull()
	case o.writeInt != nil:
		conn.WriteInt(*o.writeInt)
	case o.writeBulk != nil:
		conn.WriteBulk(o.writeBulk)
	case o.writeArray != nil:
		conn.WriteArray(len(o.writeArray))
		for _, item := range o.writeArray {
			conn.WriteBulkString(item)
		}
	default:
		conn.WriteString(o.writeString)
	}
}

type redisHandler struct {
	layer cache.Layer[[]byte]
}

func newRedisHandler(layer cache.Layer[[]byte]) (*redisHandler, error) {
	if layer == nil {
		return nil, errors.New("expected a non-nil cache layer")
	}
	return &redisHandler{layer: layer}, nil
}

// parseSetTTL reads the options following `SET key value`; no option means the default TTL.
func parseSetTTL(options []string) (time.Duration, error) {
	switch {
	case len(options) == 0:
		return 0, nil
	case len(options) != 2:
		return 0, errors.New("syntax error")
	}
	amount, err := strconv.ParseInt(options[1], 10, 64)
	if err != nil || amount <= 0 {
		return 0, errors.New("invalid expire time in 'set' command")
	}
	switch strings.ToUpper(options[0]) {
	case "EX":
		return time.Duration(amount) * time.Second, nil
	case "PX":
		return time.Duration(amount) * time.Millisecond, nil
	default:
		return 0, errors.New("syntax error")
	}
}

// info renders the cache statistics like the sections of Redis INFO.
func info(stats cache.Stats) string {
	var builder strings.Builder
	builder.WriteString("# Server\r\n")
	fmt.Fprintf(&builder, "pantry_version:%s\r\n", utils.Version)
	builder.WriteString("# Cache\r\n")
	for _, field := range []struct {
		name  string
		value any
	}{
		{"total_entries", stats.TotalEntries},
		{"expired_entries", stats.ExpiredEntries},
		{"average_access_count", strconv.FormatFloat(stats.AverageAccessCount, 'f', 2, 64)},
		{"memory_usage_bytes", stats.MemoryUsageBytes},
		{"keyspace_hits", stats.Hits},
		{"keyspace_misses", stats.Misses},
		{"evicted_keys", stats.Evictions},
		{"persist_failures", stats.PersistFailures},
	} {
		fmt.Fprintf(&builder, "%s:%v\r\n", field.name, field.value)
	}
	return builder.String()
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	switch cmd.command {
	case "PING":
		if len(cmd.args) == 1 {
			return writeRedisBulk([]byte(cmd.args[0]))
		}
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "SET":
		if len(cmd.args) < 2 {
			return wrongArity(cmd.command)
		}
		ttl, err := parseSetTTL(cmd.args[2:])
		if err != nil {
			return writeRedisError(err)
		}
		rh.layer.SetWithTTL(cmd.args[0], []byte(cmd.args[1]), ttl)
		return writeRedisString(RedisOk)
	case "GET":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		value, found := rh.layer.Get(cmd.args[0])
		if !found {
			return writeRedisNil()
		}
		return writeRedisBulk(value)
	case "DEL":
		if len(cmd.args) < 1 {
			return wrongArity(cmd.command)
		}
		deletedCount := 0
		for _, key := range cmd.args {
			if rh.layer.Invalidate(key) {
				deletedCount++
			}
		}
		return writeRedisInt(deletedCount)
	case "INVALIDATE":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		removed, err := rh.layer.InvalidatePattern(cmd.args[0])
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisInt(removed)
	case "KEYS":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		return writeRedisArray(slices.Collect(scan.MatchKeys(cmd.args[0], slices.Values(rh.layer.Keys()))))
	case "DBSIZE":
		if len(cmd.args) != 0 {
			return wrongArity(cmd.command)
		}
		return writeRedisInt(len(rh.layer.Keys()))
	case "FLUSHDB", "FLUSHALL":
		rh.layer.Clear()
		return writeRedisString(RedisOk)
	case "INFO":
		return writeRedisBulk([]byte(info(rh.layer.Stats())))
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", strings.ToLower(cmd.command)))
	}
}

// RunRedisServer serves `layer` over the Redis protocol on --address until `ctx` is cancelled.
func RunRedisServer(ctx context.Context, layer cache.Layer[[]byte]) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(layer)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			// Convert redcon.Command to redisCommand.
			command := redisCommand{command: strings.ToUpper(string(cmd.Args[0])), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			output := redisHandler.handle(command)
			output.writeTo(conn)
			if output.closeConnection {
				if err := conn.Close(); err != nil {
					slog.Error("Failed to close connection.", "error", err)
				}
			}
		},
		/*accept*/ func(conn redcon.Conn) bool {
			return true // Accept all connections.
		},
		/*close*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Redis connection closed with an error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	serverErrSignal := make(chan error, 1)
	go func() {
		if err := redisServer.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()
	slog.Info("Serving the cache over the Redis protocol.", "address", *address)

	select {
	case <-ctx.Done():
		if err := redisServer.Close(); err != nil {
			return fmt.Errorf("failed to close the redis server: %w", err)
		}
	case err := <-serverErrSignal:
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
