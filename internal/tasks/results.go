package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

const resultKeyPrefix = "task:result:"

// ResultStore mirrors terminal task states into redis so the HTTP plane can
// answer status polls without touching the workflow backend.
type ResultStore struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewResultStore(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) *ResultStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultStore{log: log.With("service", "TaskResultStore"), rdb: rdb, ttl: ttl}
}

// NewRedisClient dials the result backend from REDIS_* settings.
func NewRedisClient(ctx context.Context, log *logger.Logger) (*goredis.Client, error) {
	addr := utils.GetEnv("REDIS_ADDR", "redis:6379", log)
	password := utils.GetEnv("REDIS_PASSWORD", "", log)
	db := utils.GetEnvAsInt("REDIS_DB", 0, log)

	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (s *ResultStore) Set(ctx context.Context, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, resultKeyPrefix+state.ID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store task result %s: %w", state.ID, err)
	}
	return nil
}

func (s *ResultStore) Get(ctx context.Context, id string) (State, bool, error) {
	raw, err := s.rdb.Get(ctx, resultKeyPrefix+id).Bytes()
	if err == goredis.Nil {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load task result %s: %w", id, err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, false, fmt.Errorf("decode task result %s: %w", id, err)
	}
	return state, true, nil
}

// Check reports redis reachability for the health endpoint.
func (s *ResultStore) Check(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
