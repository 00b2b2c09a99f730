package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptStub answers EvalSha with queued replies; the last reply repeats.
type scriptStub struct {
	mu      sync.Mutex
	replies []*redis.Cmd
	keys    [][]string
	args    [][]any
}

func (s *scriptStub) next(keys []string, args []any) *redis.Cmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, keys)
	s.args = append(s.args, args)
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply
}

func (s *scriptStub) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return s.next(keys, args)
}

func (s *scriptStub) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return s.next(keys, args)
}

func (s *scriptStub) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return s.next(keys, args)
}

func (s *scriptStub) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return s.next(keys, args)
}

func (s *scriptStub) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (s *scriptStub) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func reply(ok int64) *redis.Cmd {
	return redis.NewCmdResult([]any{ok, int64(0)}, nil)
}

func TestRedisBucketAcquires(t *testing.T) {
	stub := &scriptStub{replies: []*redis.Cmd{reply(1)}}
	bucket := NewRedisBucket(stub, "inspect", 1, zerolog.Nop())

	require.True(t, bucket.Acquire(context.Background(), 1, time.Second))
	require.Len(t, stub.keys, 1)
	assert.Equal(t, []string{"ratelimit:inspect"}, stub.keys[0])
	assert.Equal(t, 2.0, stub.args[0][0], "capacity is twice the rate")
	assert.Equal(t, 1.0, stub.args[0][1])
}

func TestRedisBucketWaitsForRefill(t *testing.T) {
	stub := &scriptStub{replies: []*redis.Cmd{reply(0), reply(0), reply(1)}}
	bucket := NewRedisBucket(stub, "inspect", 100, zerolog.Nop())

	assert.True(t, bucket.Acquire(context.Background(), 1, time.Second))
	assert.Len(t, stub.keys, 3)
}

func TestRedisBucketTimesOut(t *testing.T) {
	stub := &scriptStub{replies: []*redis.Cmd{reply(0)}}
	bucket := NewRedisBucket(stub, "inspect", 100, zerolog.Nop())

	start := time.Now()
	assert.False(t, bucket.Acquire(context.Background(), 1, 30*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRedisBucketFailureIsNotAcquired(t *testing.T) {
	stub := &scriptStub{replies: []*redis.Cmd{redis.NewCmdResult(nil, errors.New("connection refused"))}}
	bucket := NewRedisBucket(stub, "inspect", 1, zerolog.Nop())

	assert.False(t, bucket.Acquire(context.Background(), 1, time.Second))
	assert.Len(t, stub.keys, 1)
}
