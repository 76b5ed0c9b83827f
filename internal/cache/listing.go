package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"enrollment/internal/model"
)

const (
	listingKey    = "enrollment:listing:v1"
	generationKey = "enrollment:listing:generation"
)

var errStaleGeneration = errors.New("listing generation moved")

// Listing stores the enrollment listing projection in Redis. Only the
// non-sensitive summary is ever written. Every Invalidate bumps a
// generation counter, and Set only lands while the counter still matches
// the value the caller observed before reading the store.
type Listing struct {
	client *redis.Client
	ttl    time.Duration
}

func NewListing(client *redis.Client, ttl time.Duration) (*Listing, error) {
	if client == nil {
		return nil, errors.New("redis_not_configured")
	}
	if ttl <= 0 {
		return nil, errors.New("listing cache ttl must be positive")
	}
	return &Listing{client: client, ttl: ttl}, nil
}

func (l *Listing) Get(ctx context.Context) ([]model.EnrollmentSummary, int64, bool, error) {
	values, err := l.client.MGet(ctx, listingKey, generationKey).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("read listing cache: %w", err)
	}
	generation, err := parseGeneration(values[1])
	if err != nil {
		return nil, 0, false, err
	}
	raw, ok := values[0].(string)
	if !ok {
		return nil, generation, false, nil
	}
	var items []model.EnrollmentSummary
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		_ = l.client.Del(ctx, listingKey).Err()
		return nil, 0, false, fmt.Errorf("decode listing cache: %w", err)
	}
	if items == nil {
		items = []model.EnrollmentSummary{}
	}
	return items, generation, true, nil
}

// Set writes items unless the generation has moved past generation. A
// dropped write is not an error.
func (l *Listing) Set(ctx context.Context, generation int64, items []model.EnrollmentSummary) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode listing cache: %w", err)
	}
	err = l.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, generationKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != generation {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, listingKey, data, l.ttl)
			return nil
		})
		return err
	}, generationKey)
	if errors.Is(err, errStaleGeneration) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write listing cache: %w", err)
	}
	return nil
}

func (l *Listing) Invalidate(ctx context.Context) error {
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey)
		pipe.Del(ctx, listingKey)
		return nil
	})
	return err
}

func parseGeneration(value interface{}) (int64, error) {
	if value == nil {
		return 0, nil
	}
	raw, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("listing generation has type %T", value)
	}
	generation, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse listing generation: %w", err)
	}
	return generation, nil
}
