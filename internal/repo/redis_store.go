package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xxxsen/lavadoc/internal/model"
	appErr "github.com/xxxsen/lavadoc/internal/pkg/errors"
)

const (
	defaultRedisPrefix = "lava:"
	maxWatchRetries    = 5
)

// RedisStore keeps the head, each version record and the version index under
// separate keys so every piece can be read on its own:
//
//	<prefix>document      head JSON
//	<prefix>version:<n>   version record JSON
//	<prefix>versions      sorted set of retained version numbers
//	<prefix>messages      list of message JSON, oldest first
//
// Mutations run inside WATCH/MULTI/EXEC so readers never see a partial update.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) headKey() string {
	return s.prefix + "document"
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "versions"
}

func (s *RedisStore) versionKey(version int) string {
	return s.prefix + "version:" + strconv.Itoa(version)
}

func (s *RedisStore) messagesKey() string {
	return s.prefix + "messages"
}

func (s *RedisStore) GetHead(ctx context.Context) (*model.Document, error) {
	return readHead(ctx, s.client, s.headKey())
}

func readHead(ctx context.Context, c redis.Cmdable, key string) (*model.Document, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc model.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode head: %w", err)
	}
	return &doc, nil
}

func (s *RedisStore) InitHead(ctx context.Context, doc *model.Document, keep int) (*model.Document, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	headData, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	recData, err := json.Marshal(doc.Record())
	if err != nil {
		return nil, err
	}
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		_, err := readHead(ctx, tx, s.headKey())
		if err == nil {
			return nil
		}
		if !appErr.IsNotFound(err) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.headKey(), headData, 0)
			pipe.Set(ctx, s.versionKey(doc.Version), recData, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(doc.Version), Member: strconv.Itoa(doc.Version)})
			return nil
		})
		return err
	}, s.headKey())
	// A failed transaction means another writer initialized the head first.
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return nil, err
	}
	return s.GetHead(ctx)
}

func (s *RedisStore) Commit(ctx context.Context, c *Commit) (*CommitResult, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	nextHead, err := json.Marshal(c.Next)
	if err != nil {
		return nil, err
	}
	nextRec, err := json.Marshal(c.Next.Record())
	if err != nil {
		return nil, err
	}
	var prevRec []byte
	if c.Previous != nil {
		if prevRec, err = json.Marshal(c.Previous); err != nil {
			return nil, err
		}
	}

	result := &CommitResult{}
	txf := func(tx *redis.Tx) error {
		head, err := readHead(ctx, tx, s.headKey())
		if err != nil {
			return err
		}
		if head.Version != c.ExpectedVersion {
			return conflictFrom(c.ExpectedVersion, head)
		}
		added := []int{c.Next.Version}
		if c.Previous != nil {
			added = append(added, c.Previous.Version)
		}
		versions, evicted, err := s.planIndex(ctx, tx, added, c.Keep)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if c.Previous != nil {
				pipe.SetNX(ctx, s.versionKey(c.Previous.Version), prevRec, 0)
				pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(c.Previous.Version), Member: strconv.Itoa(c.Previous.Version)})
			}
			pipe.Set(ctx, s.versionKey(c.Next.Version), nextRec, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(c.Next.Version), Member: strconv.Itoa(c.Next.Version)})
			pipe.Set(ctx, s.headKey(), nextHead, 0)
			s.queueEviction(ctx, pipe, versions)
			return nil
		})
		if err == nil {
			result.Evicted = evicted
		}
		return err
	}
	if err := s.watchRetry(ctx, txf, s.headKey(), s.indexKey()); err != nil {
		return nil, err
	}
	return result, nil
}

// watchRetry reruns txf when a watched key changed between WATCH and EXEC. A head
// that moved shows up as a conflict on the next attempt.
func (s *RedisStore) watchRetry(ctx context.Context, txf func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction retries exhausted")
}

// planIndex reads the current index inside the watch and loads the records that
// would fall out of the retention window once added is inserted.
func (s *RedisStore) planIndex(ctx context.Context, tx *redis.Tx, added []int, keep int) ([]int, []model.VersionRecord, error) {
	members, err := tx.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, nil, err
	}
	index := make([]int, 0, len(members))
	for _, m := range members {
		v, err := strconv.Atoi(m)
		if err != nil {
			return nil, nil, fmt.Errorf("corrupt version index entry %q: %w", m, err)
		}
		index = append(index, v)
	}
	_, evictedVersions := planEviction(index, added, keep)
	evicted := make([]model.VersionRecord, 0, len(evictedVersions))
	for _, v := range evictedVersions {
		rec, err := readVersion(ctx, tx, s.versionKey(v))
		if appErr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		evicted = append(evicted, *rec)
	}
	return evictedVersions, evicted, nil
}

func (s *RedisStore) queueEviction(ctx context.Context, pipe redis.Pipeliner, versions []int) {
	if len(versions) == 0 {
		return
	}
	members := make([]interface{}, 0, len(versions))
	keys := make([]string, 0, len(versions))
	for _, v := range versions {
		members = append(members, strconv.Itoa(v))
		keys = append(keys, s.versionKey(v))
	}
	pipe.ZRem(ctx, s.indexKey(), members...)
	pipe.Del(ctx, keys...)
}

func (s *RedisStore) SaveVersion(ctx context.Context, record *model.VersionRecord, keep int) ([]model.VersionRecord, error) {
	if err := ValidateRecord(record); err != nil {
		return nil, err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var evicted []model.VersionRecord
	txf := func(tx *redis.Tx) error {
		versions, planned, err := s.planIndex(ctx, tx, []int{record.Version}, keep)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.versionKey(record.Version), data, 0)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(record.Version), Member: strconv.Itoa(record.Version)})
			s.queueEviction(ctx, pipe, versions)
			return nil
		})
		if err == nil {
			evicted = planned
		}
		return err
	}
	if err := s.watchRetry(ctx, txf, s.indexKey()); err != nil {
		return nil, err
	}
	return evicted, nil
}

func (s *RedisStore) PruneVersions(ctx context.Context, keep int) ([]model.VersionRecord, error) {
	var evicted []model.VersionRecord
	txf := func(tx *redis.Tx) error {
		versions, planned, err := s.planIndex(ctx, tx, nil, keep)
		if err != nil || len(versions) == 0 {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueEviction(ctx, pipe, versions)
			return nil
		})
		if err == nil {
			evicted = planned
		}
		return err
	}
	if err := s.watchRetry(ctx, txf, s.indexKey()); err != nil {
		return nil, err
	}
	return evicted, nil
}

func readVersion(ctx context.Context, c redis.Cmdable, key string) (*model.VersionRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec model.VersionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) GetVersion(ctx context.Context, version int) (*model.VersionRecord, error) {
	return readVersion(ctx, s.client, s.versionKey(version))
}

func (s *RedisStore) HasVersion(ctx context.Context, version int) (bool, error) {
	_, err := s.client.ZScore(ctx, s.indexKey(), strconv.Itoa(version)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) ListVersions(ctx context.Context, limit int) ([]model.VersionMeta, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	members, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.VersionMeta, 0, len(members))
	if len(members) == 0 {
		return out, nil
	}
	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, s.prefix+"version:"+m)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var rec model.VersionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode version: %w", err)
		}
		out = append(out, rec.Meta())
	}
	return out, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, msg *model.Message, keep int) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.messagesKey(), data)
		if keep > 0 {
			pipe.LTrim(ctx, s.messagesKey(), int64(-keep), -1)
		}
		return nil
	})
	return err
}

func (s *RedisStore) ListMessages(ctx context.Context, limit int) ([]model.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	values, err := s.client.LRange(ctx, s.messagesKey(), start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(values))
	for _, raw := range values {
		var msg model.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) TrimMessages(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	var size *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		size = pipe.LLen(ctx, s.messagesKey())
		pipe.LTrim(ctx, s.messagesKey(), int64(-keep), -1)
		return nil
	})
	if err != nil {
		return 0, err
	}
	dropped := int(size.Val()) - keep
	if dropped < 0 {
		dropped = 0
	}
	return dropped, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
