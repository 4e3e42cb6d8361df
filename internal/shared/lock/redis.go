package lock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds a SET NX lease per contract, for deployments sharing one
// contract across several databases or read replicas.
type RedisLocker struct {
	rdb    *redis.Client
	opts   Options
	prefix string
	logger *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, opts Options, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{rdb: rdb, opts: opts.withDefaults(), prefix: "ipc:lock:", logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, _ *gorm.DB, contractID string) (func(), error) {
	key := l.prefix + contractID
	token := uuid.New().String()

	err := poll(ctx, l.opts, contractID, func() (bool, error) {
		ok, err := l.rdb.SetNX(ctx, key, token, l.opts.LeaseTTL).Result()
		if err != nil {
			return false, fmt.Errorf("redis lock: %w", err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	return func() {
		if err := releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release contract lock", zap.String("contract_id", contractID), zap.Error(err))
		}
	}, nil
}
