// Package redisstore implements store.Store on top of Redis, for
// deployments that want the sliding-window rate limiter, idempotency
// cache, and concurrency sentinel to live outside the primary Postgres
// database. Uses redis.Eval-based compare-and-act Lua scripting so the
// whole read-check-write sequence for a conditional Put runs inside one
// script and no concurrent writer can observe or create a
// half-applied conditional write.
package redisstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dxcp/dxcp/internal/store"
)

// Store is a Redis-backed store.Store implementation. Each partition is
// one Redis hash (key "dxcp:kv:<partition>"); each sort key is one hash
// field holding a JSON-encoded record. Expiry is checked by the Lua
// script on every write and lazily swept on read, the same trade-off
// memstore makes, since per-field TTL isn't available on the hash data
// structure this client targets.
type Store struct {
	client *redis.Client
}

// New wraps an existing go-redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func hashKey(partition string) string {
	return "dxcp:kv:" + partition
}

// putScript enforces req.Condition and writes the new record atomically,
// returning {status, version}: status 0 is success, 1 is "already
// exists", 2 is "does not exist", 3 is "version mismatch" — typed
// sentinels rather than a thrown Lua error, giving the caller a
// checkable return value instead of string-matching an error reply.
// KEYS[1] = hash key. ARGV: sortKey, condition, expectVersion,
// valueBase64, expiresAtUnixNano (0 = no expiry).
var putScript = redis.NewScript(`
local existing = redis.call("HGET", KEYS[1], ARGV[1])
local condition = ARGV[2]
local expectVersion = tonumber(ARGV[3])

local hasRow = false
local existingVersion = 0
if existing then
	local decoded = cjson.decode(existing)
	local expiresAt = tonumber(decoded.expiresAtUnixNano)
	local nowTime = redis.call("TIME")
	local nowNs = tonumber(nowTime[1]) * 1000000000 + tonumber(nowTime[2]) * 1000
	if expiresAt == 0 or expiresAt > nowNs then
		hasRow = true
		existingVersion = decoded.version
	end
end

if condition == "must_not_exist" and hasRow then
	return {1, 0}
end
if condition == "must_exist_with_version" then
	if not hasRow then
		return {2, 0}
	end
	if existingVersion ~= expectVersion then
		return {3, 0}
	end
end

local newVersion = existingVersion + 1
local newRecord = cjson.encode({value = ARGV[4], version = newVersion, expiresAtUnixNano = tonumber(ARGV[5])})
redis.call("HSET", KEYS[1], ARGV[1], newRecord)
return {0, newVersion}
`)

type wireRecord struct {
	Value             string `json:"value"`
	Version           int64  `json:"version"`
	ExpiresAtUnixNano int64  `json:"expiresAtUnixNano"`
}

func (s *Store) Get(ctx context.Context, partition, sortKey string) (store.Item, error) {
	raw, err := s.client.HGet(ctx, hashKey(partition), sortKey).Result()
	if err != nil {
		if err == redis.Nil {
			return store.Item{}, store.ErrNotFound
		}
		return store.Item{}, fmt.Errorf("redisstore: get: %w", err)
	}

	item, expired, err := decodeWireRecord(partition, sortKey, raw)
	if err != nil {
		return store.Item{}, err
	}
	if expired {
		s.client.HDel(ctx, hashKey(partition), sortKey)
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

func decodeWireRecord(partition, sortKey, raw string) (store.Item, bool, error) {
	var wr wireRecord
	if err := json.Unmarshal([]byte(raw), &wr); err != nil {
		return store.Item{}, false, fmt.Errorf("redisstore: decode: %w", err)
	}
	value, err := base64.StdEncoding.DecodeString(wr.Value)
	if err != nil {
		return store.Item{}, false, fmt.Errorf("redisstore: decode value: %w", err)
	}

	var expiresAt time.Time
	if wr.ExpiresAtUnixNano != 0 {
		expiresAt = time.Unix(0, wr.ExpiresAtUnixNano).UTC()
		if time.Now().After(expiresAt) {
			return store.Item{}, true, nil
		}
	}

	return store.Item{Partition: partition, Sort: sortKey, Value: value, Version: wr.Version, ExpiresAt: expiresAt}, false, nil
}

func (s *Store) Put(ctx context.Context, req store.PutRequest) (int64, error) {
	var expiresAtUnixNano int64
	if req.TTL > 0 {
		expiresAtUnixNano = time.Now().UTC().Add(req.TTL).UnixNano()
	}

	condition := "none"
	switch req.Condition {
	case store.MustNotExist:
		condition = "must_not_exist"
	case store.MustExistWithVersion:
		condition = "must_exist_with_version"
	}

	valueB64 := base64.StdEncoding.EncodeToString(req.Value)

	result, err := putScript.Run(ctx, s.client, []string{hashKey(req.Partition)},
		req.Sort, condition, req.ExpectVersion, valueB64, expiresAtUnixNano).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: put: %w", err)
	}

	pair, ok := result.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, fmt.Errorf("redisstore: unexpected script result %T", result)
	}
	status, ok := pair[0].(int64)
	if !ok {
		return 0, fmt.Errorf("redisstore: unexpected script status type %T", pair[0])
	}
	version, ok := pair[1].(int64)
	if !ok {
		return 0, fmt.Errorf("redisstore: unexpected script version type %T", pair[1])
	}

	switch status {
	case 1:
		return 0, &store.ErrConflict{Partition: req.Partition, Sort: req.Sort, Reason: "already exists"}
	case 2:
		return 0, &store.ErrConflict{Partition: req.Partition, Sort: req.Sort, Reason: "does not exist"}
	case 3:
		return 0, &store.ErrConflict{Partition: req.Partition, Sort: req.Sort, Reason: "version mismatch"}
	}
	return version, nil
}

func (s *Store) Delete(ctx context.Context, partition, sortKey string) error {
	if err := s.client.HDel(ctx, hashKey(partition), sortKey).Err(); err != nil {
		return fmt.Errorf("redisstore: delete: %w", err)
	}
	return nil
}

func (s *Store) ScanPrefix(ctx context.Context, partition, sortPrefix, cursor string, pageSize int) (store.Page, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	all, err := s.client.HGetAll(ctx, hashKey(partition)).Result()
	if err != nil {
		return store.Page{}, fmt.Errorf("redisstore: scan: %w", err)
	}

	var items []store.Item
	for sortKey, raw := range all {
		if !strings.HasPrefix(sortKey, sortPrefix) || sortKey < cursor {
			continue
		}
		item, expired, err := decodeWireRecord(partition, sortKey, raw)
		if err != nil {
			return store.Page{}, err
		}
		if expired {
			continue
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Sort < items[j].Sort })

	var next string
	if len(items) > pageSize {
		next = items[pageSize].Sort
		items = items[:pageSize]
	}

	return store.Page{Items: items, NextCursor: next}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
