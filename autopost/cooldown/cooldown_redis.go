package cooldown

import (
	"context"
	"time"

	"github.com/heraldhq/herald/autopost/transport"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var redisCooldownPrefix string = "cooldown/"

// Cooldown entries as redis keys which expire after the window. Presence of the key means "fired recently".
//
// Key values identify the gate instance which set them, so a Release from one node never clears a fire made by another.
type RedisGate struct {
	Client *redis.Client
	Window time.Duration
	// value written on fire
	Owner string
}

var _ Gate = (*RedisGate)(nil)

// deletes the key only if it still holds our value
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

func NewRedisGate(rdb *redis.Client, window time.Duration) *RedisGate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisGate{
		Client: rdb,
		Window: window,
		Owner:  uuid.NewString(),
	}
}

func (g *RedisGate) ShouldFire(ctx context.Context, dest transport.DestinationID, sender transport.IdentityID, keyword string) (bool, error) {
	key := redisCooldownPrefix + entryKey(dest, sender, keyword)
	ok, err := g.Client.SetNX(ctx, key, g.Owner, g.Window).Result()
	if err != nil {
		return false, err
	}
	if ok {
		cooldownFires.Inc()
	} else {
		cooldownSuppressed.Inc()
	}
	return ok, nil
}

// Deletes the key if it still holds this gate's token. There is no earlier fire time to restore: the key could only be set once the previous one expired.
func (g *RedisGate) Release(ctx context.Context, dest transport.DestinationID, sender transport.IdentityID, keyword string) error {
	key := redisCooldownPrefix + entryKey(dest, sender, keyword)
	if err := releaseScript.Run(ctx, g.Client, []string{key}, g.Owner).Err(); err != nil {
		return err
	}
	cooldownReleases.Inc()
	return nil
}
