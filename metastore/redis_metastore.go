package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// unlockScript deletes the lock only when it still carries the caller's owner value.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type (
	RedisMetaStore struct {
		client *redis.Client
	}
)

func NewRedisMetaStore(ctx context.Context) (*RedisMetaStore, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("connecting to redis metastore")
	rms := NewRedisMetaStoreFromClient(redis.NewClient(&redis.Options{
		Addr:        os.Getenv("REDIS_ADDR"),
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          0,
		DialTimeout: time.Second * 3,
	}))

	// Ping test first to ensure valid connection
	if os.Getenv("REDIS_PING_TEST") == "1" {
		logger.Debug().Msg("running redis ping test")
		s := time.Now()
		_, err := rms.client.Ping(ctx).Result()
		if err != nil {
			rms.client.Close()
			return nil, fmt.Errorf("error pinging redis: %w", err)
		}
		logger.Debug().Msgf("redis ping test successful in %s", time.Since(s))
	}

	return rms, nil
}

func NewRedisMetaStoreFromClient(client *redis.Client) *RedisMetaStore {
	return &RedisMetaStore{client: client}
}

func (rms *RedisMetaStore) SiteKey(siteID int64) string {
	return "site_" + strconv.FormatInt(siteID, 10)
}

func (rms *RedisMetaStore) LockSite(ctx context.Context, siteID int64, owner string, ttl time.Duration) (bool, error) {
	ok, err := rms.client.SetNX(ctx, rms.SiteKey(siteID)+"_lock", owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("error in redis SETNX: %w", err)
	}
	return ok, nil
}

func (rms *RedisMetaStore) UnlockSite(ctx context.Context, siteID int64, owner string) error {
	n, err := unlockScript.Run(ctx, rms.client, []string{rms.SiteKey(siteID) + "_lock"}, owner).Int()
	if err != nil {
		return fmt.Errorf("error running unlock script: %w", err)
	}
	if n == 0 {
		zerolog.Ctx(ctx).Warn().Int64("siteID", siteID).Str("owner", owner).Msg("site lock was not held by owner")
	}
	return nil
}

func (rms *RedisMetaStore) RecordRun(ctx context.Context, run RunSummary) error {
	jsonBytes, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}

	_, err = rms.client.HSet(ctx, rms.SiteKey(run.SiteID)+"_runs", run.RunKey, string(jsonBytes)).Result()
	if err != nil {
		return fmt.Errorf("error in redis HSET: %w", err)
	}

	return nil
}

func (rms *RedisMetaStore) ListRuns(ctx context.Context, siteID int64) ([]RunSummary, error) {
	logger := zerolog.Ctx(ctx)

	var cursorPos uint64 = 0
	var returnedCursor uint64 = 1
	runs := make([]RunSummary, 0)

	// Loop until we have all the results
	for returnedCursor != 0 {
		logger.Debug().Msgf("running redis HSCAN with cursor %d", cursorPos)
		rawRuns, newCursor, err := rms.client.HScan(ctx, rms.SiteKey(siteID)+"_runs", cursorPos, "", 0).Result()
		if err != nil {
			return nil, fmt.Errorf("error in redis HSCAN: %w", err)
		}

		// HSCAN replies with alternating field and value
		for i := 0; i+1 < len(rawRuns); i += 2 {
			run := RunSummary{}
			err = json.Unmarshal([]byte(rawRuns[i+1]), &run)
			if err != nil {
				return nil, fmt.Errorf("error unmarshalling run '%s' under site %d: %w", rawRuns[i], siteID, err)
			}
			runs = append(runs, run)
		}

		returnedCursor = newCursor
		cursorPos = newCursor
	}

	// run keys are k-sortable
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunKey < runs[j].RunKey
	})
	return runs, nil
}

func (rms *RedisMetaStore) Shutdown(_ context.Context) error {
	err := rms.client.Close()
	if err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}
