package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akmatori/incidentflow/internal/incidents"
)

const (
	incidentIndexKey = "incidents"
	keyPrefix        = "incident:"
)

func incidentKey(id string) string { return keyPrefix + id }
func timelineKey(id string) string { return keyPrefix + id + ":timeline" }

// RedisRepository stores each incident as a JSON string and its timeline as a list.
// Writes for one incident go through a MULTI/EXEC pipeline.
type RedisRepository struct {
	client redis.UniversalClient
}

// NewRedisRepository connects to redisURL and verifies the connection
func NewRedisRepository(redisURL string) (*RedisRepository, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRepository{client: client}, nil
}

// NewRedisRepositoryWithClient wraps an existing client
func NewRedisRepositoryWithClient(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*incidents.Incident, error) {
	data, err := r.client.Get(ctx, incidentKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident %s: %w", id, err)
	}
	return decodeIncident(data)
}

func (r *RedisRepository) Save(ctx context.Context, incident *incidents.Incident, events ...incidents.TimelineEvent) error {
	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to encode incident: %w", err)
	}
	encoded, err := encodeEvents(events)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, incidentKey(incident.ID), data, 0)
		pipe.SAdd(ctx, incidentIndexKey, incident.ID)
		if len(encoded) > 0 {
			pipe.RPush(ctx, timelineKey(incident.ID), encoded...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save incident %s: %w", incident.ID, err)
	}
	return nil
}

func (r *RedisRepository) Append(ctx context.Context, event incidents.TimelineEvent) error {
	encoded, err := encodeEvents([]incidents.TimelineEvent{event})
	if err != nil {
		return err
	}
	if err := r.client.RPush(ctx, timelineKey(event.IncidentID), encoded...).Err(); err != nil {
		return fmt.Errorf("failed to append timeline event: %w", err)
	}
	return nil
}

func (r *RedisRepository) Timeline(ctx context.Context, id string) ([]incidents.TimelineEvent, error) {
	raw, err := r.client.LRange(ctx, timelineKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline for %s: %w", id, err)
	}

	events := make([]incidents.TimelineEvent, 0, len(raw))
	for _, item := range raw {
		var e incidents.TimelineEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to decode timeline event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *RedisRepository) List(ctx context.Context) ([]*incidents.Incident, error) {
	ids, err := r.client.SMembers(ctx, incidentIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	if len(ids) == 0 {
		return []*incidents.Incident{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = incidentKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load incidents: %w", err)
	}

	list := make([]*incidents.Incident, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // removed between SMEMBERS and MGET
		}
		inc, err := decodeIncident([]byte(s))
		if err != nil {
			return nil, err
		}
		list = append(list, inc)
	}
	incidents.SortByCreation(list)
	return list, nil
}

// Close closes the underlying client
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func decodeIncident(data []byte) (*incidents.Incident, error) {
	var inc incidents.Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return nil, fmt.Errorf("failed to decode incident: %w", err)
	}
	if inc.Metadata == nil {
		inc.Metadata = map[string]any{}
	}
	return &inc, nil
}

func encodeEvents(events []incidents.TimelineEvent) ([]interface{}, error) {
	out := make([]interface{}, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode timeline event: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}
