package shadow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "shadow:"

// Redis persists each device shadow as a JSON document under shadow:{deviceId}.
// Merges run inside a WATCH loop so concurrent patches do not clobber each
// other.
type Redis struct {
	client *redis.Client
}

// NewRedis returns a redis-backed shadow store.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Merge applies the patch to the stored document.
func (r *Redis) Merge(ctx context.Context, deviceID string, patch map[string]interface{}) error {
	key := keyPrefix + deviceID

	merge := func(tx *redis.Tx) error {
		doc := make(map[string]interface{})
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("shadow: corrupt document for %s: %w", deviceID, err)
			}
		case errors.Is(err, redis.Nil):
			// first write for this device
		default:
			return err
		}

		doc = mergePatch(doc, patch)
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := r.client.Watch(ctx, merge, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("shadow: merge for %s lost optimistic lock too many times", deviceID)
}

// Document loads the current shadow document, or nil when absent.
func (r *Redis) Document(ctx context.Context, deviceID string) (map[string]interface{}, error) {
	raw, err := r.client.Get(ctx, keyPrefix+deviceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := make(map[string]interface{})
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
