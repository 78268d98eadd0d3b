package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// 房间在线名单的 redis 镜像，给跨实例的在线查询用；房间内权威名单在内存里
type PresenceCache interface {
	AddMember(ctx context.Context, docID string, m PresenceMember, ttl time.Duration) error
	RemoveMember(ctx context.Context, docID string, sessionID string) error
	GetAliveMembers(ctx context.Context, docID string) ([]PresenceMember, error)
	SetCursor(ctx context.Context, docID string, sessionID string, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, docID string, sessionID string) ([]byte, error)
}

type PresenceMember struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Color         string `json:"color"`
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// 清理过期成员
// KEYS[1] = roomKey, KEYS[2] = membersKey, ARGV[1] = now (unix seconds)
var pruneScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

// 刷新 TTL 也直接调用 AddMember
func (p *redisPresence) AddMember(ctx context.Context, docID string, m PresenceMember, ttl time.Duration) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	// score 使用 expireAt（Unix 秒），表达逻辑 TTL
	expireAt := time.Now().Add(ttl).Unix()
	tx := p.rdb.TxPipeline()
	tx.ZAdd(ctx, roomKey(docID), redis.Z{Score: float64(expireAt), Member: m.SessionID})
	tx.HSet(ctx, membersKey(docID), m.SessionID, b)
	// 整个房间都没人续期时，两个 key 自己过期
	tx.Expire(ctx, roomKey(docID), 2*ttl)
	tx.Expire(ctx, membersKey(docID), 2*ttl)
	_, err = tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, docID string, sessionID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(docID), sessionID)
	tx.HDel(ctx, membersKey(docID), sessionID)
	tx.Del(ctx, cursorKey(docID, sessionID))
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) SetCursor(ctx context.Context, docID string, sessionID string, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(docID, sessionID), jsonData, ttl).Err()
}

// 没有记录时返回 nil, nil
func (p *redisPresence) GetCursor(ctx context.Context, docID string, sessionID string) ([]byte, error) {
	cursor, err := p.rdb.Get(ctx, cursorKey(docID, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return cursor, err
}

func (p *redisPresence) GetAliveMembers(ctx context.Context, docID string) ([]PresenceMember, error) {
	// step1: 清理过期成员，expireAt <= now 视为过期
	now := time.Now().Unix()
	if err := pruneScript.Run(ctx, p.rdb, []string{roomKey(docID), membersKey(docID)}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// step2: 查询在线会话
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(docID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量取成员信息
	vals, err := p.rdb.HMGet(ctx, membersKey(docID), aliveIDs...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var m PresenceMember
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		if m.SessionID == "" {
			m.SessionID = aliveIDs[i]
		}
		members = append(members, m)
	}
	return members, nil
}
