package cache

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	NameBaseTTL     = 24 * time.Hour
	NameJitter      = 60 * time.Minute
	NameNullTTL     = 5 * time.Minute
	EmptyNameMarker = "\x00" // 空值标记，防止缓存穿透
)

// 回源接口，由 store.ProfileRepo 实现
type NameSource interface {
	DisplayName(ctx context.Context, userID uint64) (string, bool, error)
}

// DisplayNames：展示名 cache-aside（singleflight + 空值缓存 + 随机 TTL）
type DisplayNames struct {
	rdb redis.UniversalClient
	src NameSource
	sf  singleflight.Group
}

func NewDisplayNames(rdb redis.UniversalClient, src NameSource) *DisplayNames {
	return &DisplayNames{rdb: rdb, src: src}
}

// 获取随机TTL，防止缓存雪崩
func nameTTL() time.Duration {
	return NameBaseTTL + time.Duration(rand.Int63n(int64(NameJitter)))
}

// DisplayName 任何一步失败都退回 fallback，不影响入房
func (d *DisplayNames) DisplayName(ctx context.Context, userID uint64, fallback string) string {
	key := nameKey(userID)
	v, err, _ := d.sf.Do(key, func() (interface{}, error) {
		res, err := d.rdb.Get(ctx, key).Result()
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, redis.Nil) {
			log.Printf("display name cache read failed user=%d: %v", userID, err)
		}

		// 回源
		name, ok, err := d.src.DisplayName(ctx, userID)
		if err != nil {
			return "", err
		}
		if !ok {
			_ = d.rdb.Set(ctx, key, EmptyNameMarker, NameNullTTL).Err()
			return EmptyNameMarker, nil
		}
		_ = d.rdb.Set(ctx, key, name, nameTTL()).Err()
		return name, nil
	})
	if err != nil {
		log.Printf("display name lookup failed user=%d: %v", userID, err)
		return fallback
	}
	name, _ := v.(string)
	if name == "" || name == EmptyNameMarker {
		return fallback
	}
	return name
}
