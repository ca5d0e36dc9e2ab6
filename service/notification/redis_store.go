package notification

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// —— 通知流：每个用户一个 Redis Stream ——

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	MaxLen   int64  `yaml:"max_len"` // 每个用户保留的条数（近似）
}

// NewRedisClient connects and pings, like the storage layer's InitRedis.
func NewRedisClient(ctx context.Context, c RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", c.Addr)
	}
	return rdb, nil
}

type RedisStore struct {
	rdb    redis.Cmdable
	maxLen int64
}

func NewRedisStore(rdb redis.Cmdable, maxLen int64) *RedisStore {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisStore{rdb: rdb, maxLen: maxLen}
}

func StreamKey(userID string) string { return "im:notify:" + userID }

func (s *RedisStore) Save(ctx context.Context, n *Notification) error {
	fields, err := toFields(n)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: StreamKey(n.UserID), Values: fields, Approx: true, MaxLen: s.maxLen}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return errors.Wrap(err, "xadd notification")
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	msgs, err := s.rdb.XRevRangeN(ctx, StreamKey(userID), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "xrevrange notifications")
	}
	out := make([]Notification, 0, len(msgs))
	for _, m := range msgs {
		n, err := fromFields(userID, m.Values)
		if err != nil {
			// 跳过损坏的条目
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func toFields(n *Notification) (map[string]any, error) {
	fields := map[string]any{
		"id":    n.ID,
		"type":  n.Type,
		"title": n.Title,
		"body":  n.Body,
		"ts":    strconv.FormatInt(n.CreatedAt.UnixMilli(), 10),
	}
	if len(n.Data) > 0 {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return nil, errors.Wrap(err, "marshal notification data")
		}
		fields["data"] = string(b)
	}
	return fields, nil
}

func fromFields(userID string, v map[string]any) (Notification, error) {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	n := Notification{
		ID:     str("id"),
		UserID: userID,
		Type:   str("type"),
		Title:  str("title"),
		Body:   str("body"),
	}
	if n.ID == "" {
		return n, errors.New("stream entry without id")
	}
	if ts, err := strconv.ParseInt(str("ts"), 10, 64); err == nil {
		n.CreatedAt = time.UnixMilli(ts).UTC()
	}
	if raw := str("data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &n.Data); err != nil {
			return n, errors.Wrap(err, "unmarshal notification data")
		}
	}
	return n, nil
}
