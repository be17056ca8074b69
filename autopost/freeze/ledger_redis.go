package freeze

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/heraldhq/herald/autopost/transport"

	"github.com/redis/go-redis/v9"
)

var redisFreezePrefix string = "freeze/"

// Keeps freeze records in one redis hash per account, keyed by destination. Values are JSON-encoded records.
type RedisLedger struct {
	Client *redis.Client
}

var _ Ledger = (*RedisLedger)(nil)

// inserts the record, or replaces only the identity of an existing one
var freezeScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
local rec = cjson.decode(cur)
rec['identity'] = ARGV[3]
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(rec))
return 0
`)

var unfreezeScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
	return 0
end
if ARGV[2] ~= '' then
	local rec = cjson.decode(cur)
	if rec['identity'] ~= ARGV[2] then
		return 0
	end
end
redis.call('HDEL', KEYS[1], ARGV[1])
return 1
`)

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{
		Client: rdb,
	}
}

func (l *RedisLedger) Get(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) (*Record, error) {
	raw, err := l.Client.HGet(ctx, redisFreezePrefix+string(acct), string(dest)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (l *RedisLedger) Freeze(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, ident transport.IdentityID, at time.Time) (bool, error) {
	b, err := json.Marshal(Record{
		Account:     acct,
		Destination: dest,
		Identity:    ident,
		CreatedAt:   at,
	})
	if err != nil {
		return false, err
	}
	created, err := freezeScript.Run(ctx, l.Client, []string{redisFreezePrefix + string(acct)}, string(dest), string(b), string(ident)).Int()
	if err != nil {
		return false, err
	}
	return created == 1, nil
}

func (l *RedisLedger) Unfreeze(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, ident transport.IdentityID) (bool, error) {
	removed, err := unfreezeScript.Run(ctx, l.Client, []string{redisFreezePrefix + string(acct)}, string(dest), string(ident)).Int()
	if err != nil {
		return false, err
	}
	return removed == 1, nil
}

func (l *RedisLedger) List(ctx context.Context, acct transport.AccountID) ([]Record, error) {
	all, err := l.Client.HGetAll(ctx, redisFreezePrefix+string(acct)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(all))
	for _, raw := range all {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Destination < out[j].Destination })
	return out, nil
}

func (l *RedisLedger) Clear(ctx context.Context, acct transport.AccountID) (int, error) {
	key := redisFreezePrefix + string(acct)
	multi := l.Client.TxPipeline()
	count := multi.HLen(ctx, key)
	multi.Del(ctx, key)
	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}
	return int(count.Val()), nil
}
