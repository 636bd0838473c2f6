package collect

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// Deduper guards against the same submission being applied twice when ODK
// Collect or the publisher resends it.
type Deduper interface {
	// Claim records submissionID as the owner of key. When another submission
	// already owns key its id is returned with claimed false.
	Claim(ctx context.Context, key, submissionID string) (owner string, claimed bool, err error)
	Release(ctx context.Context, key string) error
}

// DedupKey prefers the ODK instance id and falls back to a content hash.
func DedupKey(form Form, raw []byte) string {
	if id := InstanceID(form); id != "" {
		return form.Type.Tag() + ":" + id
	}
	return form.Type.Tag() + ":xxh:" + strconv.FormatUint(xxhash.Sum64(raw), 16)
}

type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl, prefix: "stt:submission:"}
}

func (d *RedisDeduper) Claim(ctx context.Context, key, submissionID string) (string, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := d.client.SetNX(ctx, d.prefix+key, submissionID, d.ttl).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return submissionID, true, nil
		}
		owner, err := d.client.Get(ctx, d.prefix+key).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, err
		}
		return owner, false, nil
	}
	return "", false, errors.New("dedup key contended")
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}
