package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"Flowcast/internal/domain/models"
	domrepo "Flowcast/internal/domain/repository"
	applogger "Flowcast/pkg/logger"
)

// casStatusScript flips a lock's status only when it still has the expected
// value. Running it server-side keeps the read-check-write atomic across
// replicas of this service.
var casStatusScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return -1
end
local lock = cjson.decode(raw)
if lock["status"] ~= ARGV[1] then
  return 0
end
lock["status"] = ARGV[2]
redis.call("SET", KEYS[1], cjson.encode(lock))
if ARGV[1] == "ACTIVE" then
  redis.call("SREM", KEYS[2], lock["id"])
  local idx = redis.call("GET", KEYS[3])
  if idx == lock["id"] then
    redis.call("DEL", KEYS[3])
  end
end
return 1
`)

// RedisRecordStore keeps price locks and cart entries in Redis so multiple
// service replicas share one lock space. Conditional insert rides on SET NX;
// compare-and-swap transitions run as a Lua script.
type RedisRecordStore struct {
	client  *redis.Client
	prefix  string
	lockTTL time.Duration
	l       *applogger.Logger
}

// NewRedisRecordStore wraps an existing client. recordTTL bounds how long
// terminal lock records stay readable; active index keys expire with it too,
// as a backstop under the authoritative status CAS.
func NewRedisRecordStore(client *redis.Client, prefix string, recordTTL time.Duration) *RedisRecordStore {
	if prefix == "" {
		prefix = "flowcast"
	}
	if recordTTL <= 0 {
		recordTTL = 7 * 24 * time.Hour
	}
	return &RedisRecordStore{client: client, prefix: prefix, lockTTL: recordTTL}
}

// SetLogger injects a structured logger.
func (s *RedisRecordStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *RedisRecordStore) lockKey(id string) string { return s.prefix + ":lock:" + id }
func (s *RedisRecordStore) indexKey(userID, productID string) string {
	return s.prefix + ":lockidx:" + userID + ":" + productID
}
func (s *RedisRecordStore) activeSetKey() string { return s.prefix + ":locks:active" }
func (s *RedisRecordStore) cartKey(userID string) string {
	return s.prefix + ":cart:" + userID
}

// --- LockStore ---

func (s *RedisRecordStore) InsertActive(ctx context.Context, l *models.PriceLock) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}

	// The index key is the ACTIVE-uniqueness guard: first SET NX wins.
	ok, err := s.client.SetNX(ctx, s.indexKey(l.UserID, l.ProductID), l.ID, s.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("reserve lock index: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %s product %s: %w", l.UserID, l.ProductID, models.ErrConflictingLock)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.lockKey(l.ID), data, s.lockTTL)
	pipe.SAdd(ctx, s.activeSetKey(), l.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store lock: %w", err)
	}
	return nil
}

func (s *RedisRecordStore) GetLock(ctx context.Context, id string) (*models.PriceLock, error) {
	data, err := s.client.Get(ctx, s.lockKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("lock %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("get lock: %w", err)
	}
	var l models.PriceLock
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("unmarshal lock %s: %w", id, err)
	}
	return &l, nil
}

func (s *RedisRecordStore) TransitionStatus(ctx context.Context, id string, from, to models.LockStatus) (bool, error) {
	l, err := s.GetLock(ctx, id)
	if err != nil {
		return false, err
	}
	res, err := casStatusScript.Run(ctx, s.client,
		[]string{s.lockKey(id), s.activeSetKey(), s.indexKey(l.UserID, l.ProductID)},
		string(from), string(to),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cas lock status: %w", err)
	}
	if res == -1 {
		return false, fmt.Errorf("lock %s: %w", id, models.ErrNotFound)
	}
	return res == 1, nil
}

func (s *RedisRecordStore) ActiveLocks(ctx context.Context) ([]*models.PriceLock, error) {
	ids, err := s.client.SMembers(ctx, s.activeSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active lock ids: %w", err)
	}
	out := make([]*models.PriceLock, 0, len(ids))
	for _, id := range ids {
		l, err := s.GetLock(ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				// record TTL fired before the set cleanup; drop the orphan
				s.client.SRem(ctx, s.activeSetKey(), id)
				continue
			}
			return nil, err
		}
		if l.Status != models.LockActive {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// --- CartStore ---

func (s *RedisRecordStore) UpsertEntry(ctx context.Context, e *models.CartEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cart entry: %w", err)
	}
	if err := s.client.HSet(ctx, s.cartKey(e.UserID), e.ProductID, data).Err(); err != nil {
		return fmt.Errorf("upsert cart entry: %w", err)
	}
	return nil
}

func (s *RedisRecordStore) RemoveEntry(ctx context.Context, userID, productID string) error {
	removed, err := s.client.HDel(ctx, s.cartKey(userID), productID).Result()
	if err != nil {
		return fmt.Errorf("remove cart entry: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("cart %s/%s: %w", userID, productID, models.ErrNotFound)
	}
	return nil
}

func (s *RedisRecordStore) ListEntries(ctx context.Context, userID string) ([]*models.CartEntry, error) {
	raw, err := s.client.HGetAll(ctx, s.cartKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list cart entries: %w", err)
	}
	out := make([]*models.CartEntry, 0, len(raw))
	for product, data := range raw {
		var e models.CartEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			if s.l != nil {
				s.l.Warn("skipping corrupt cart entry",
					applogger.String("user", userID),
					applogger.String("product", product),
				)
			}
			continue
		}
		out = append(out, &e)
	}
	sortEntriesByAddedAt(out)
	return out, nil
}

var (
	_ domrepo.LockStore = (*RedisRecordStore)(nil)
	_ domrepo.CartStore = (*RedisRecordStore)(nil)
)
