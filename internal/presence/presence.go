// Package presence implements the cluster-wide Presence Store
// (spec.md §4.2) on top of Redis: the "online_users" set plus a
// "presence:{identity}" key carrying the opaque session_ref, both with
// the spec's safety TTL. Grounded on spec.md §4.2/§6 (bit-compatible key
// names) and github.com/redis/go-redis/v9, the Redis client the pack's
// other chat-shaped services (scalecode-solutions-mvChat2,
// uncord-chat-uncord-server) depend on directly.
//
// SetOnline/SetOffline are backed by a per-identity live-session counter
// (a key the distilled spec doesn't name, "online_count:{identity}") so
// that an identity with sessions on several instances, or several
// sessions on one instance, only goes offline once its last session
// everywhere disconnects — required to satisfy spec.md §8 invariant 1
// ("is_online(I) iff at least one active session ... on some instance"),
// which a single last-writer-wins key cannot guarantee on its own.
package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaymesh/relaymesh/internal/proto"
	"github.com/relaymesh/relaymesh/internal/relayerr"
)

const onlineSetKey = "online_users"

var onlineScript = redis.NewScript(`
local countKey = KEYS[1]
local onlineSet = KEYS[2]
local presKey = KEYS[3]
local identity = ARGV[1]
local presData = ARGV[2]
local ttl = tonumber(ARGV[3])

local count = redis.call('INCR', countKey)
redis.call('EXPIRE', countKey, ttl)
redis.call('SADD', onlineSet, identity)
redis.call('SET', presKey, presData, 'EX', ttl)
return count
`)

var offlineScript = redis.NewScript(`
local countKey = KEYS[1]
local onlineSet = KEYS[2]
local presKey = KEYS[3]
local identity = ARGV[1]

if redis.call('EXISTS', countKey) == 0 then
	redis.call('SREM', onlineSet, identity)
	redis.call('DEL', presKey)
	return 0
end

local count = redis.call('DECR', countKey)
if count <= 0 then
	redis.call('DEL', countKey)
	redis.call('SREM', onlineSet, identity)
	redis.call('DEL', presKey)
	return 0
end
return count
`)

// Store is the Redis-backed Presence Store.
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New constructs a Store. ttl is the safety TTL on presence records
// (spec.md §3, default 1h).
func New(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func presenceKey(identity string) string {
	return "presence:" + identity
}

func onlineCountKey(identity string) string {
	return "online_count:" + identity
}

// SetOnline atomically increments identity's live-session counter, adds
// it to the online set, and (re-)writes its session_ref with TTL
// (spec.md §4.2).
func (s *Store) SetOnline(ctx context.Context, identity string, ref proto.SessionRef) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return relayerr.New(relayerr.InvalidArgument, "encode session ref: "+err.Error())
	}

	keys := []string{onlineCountKey(identity), onlineSetKey, presenceKey(identity)}
	if err := onlineScript.Run(ctx, s.rdb, keys, identity, data, int64(s.ttl.Seconds())).Err(); err != nil {
		return relayerr.New(relayerr.KVUnavailable, "set_online: "+err.Error())
	}
	return nil
}

// SetOffline decrements identity's live-session counter; only once it
// reaches zero does it remove identity from the online set and delete
// its presence key. Each call counts as one session leaving, so two calls
// on an identity with two live sessions take it offline. Once the identity
// is offline, further calls change nothing and do not error.
func (s *Store) SetOffline(ctx context.Context, identity string) error {
	keys := []string{onlineCountKey(identity), onlineSetKey, presenceKey(identity)}
	if err := offlineScript.Run(ctx, s.rdb, keys, identity).Err(); err != nil {
		return relayerr.New(relayerr.KVUnavailable, "set_offline: "+err.Error())
	}
	return nil
}

// IsOnline reports whether identity is a member of the online set.
func (s *Store) IsOnline(ctx context.Context, identity string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, onlineSetKey, identity).Result()
	if err != nil {
		return false, relayerr.New(relayerr.KVUnavailable, "is_online: "+err.Error())
	}
	return ok, nil
}

// Lookup returns the session_ref for identity, or (nil, nil) if offline.
func (s *Store) Lookup(ctx context.Context, identity string) (*proto.SessionRef, error) {
	data, err := s.rdb.Get(ctx, presenceKey(identity)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, relayerr.New(relayerr.KVUnavailable, "lookup: "+err.Error())
	}

	var ref proto.SessionRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, relayerr.New(relayerr.KVUnavailable, "lookup: decode ref: "+err.Error())
	}
	return &ref, nil
}
