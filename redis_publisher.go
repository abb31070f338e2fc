package main

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ryansname/battery-proxy/estimator"
)

// RedisConfig holds the Redis mirror settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisPublisher mirrors battery state into a Redis hash and announces each write
type RedisPublisher struct {
	client *redis.Client
	key    string
}

// NewRedisPublisher connects to Redis and checks the connection
func NewRedisPublisher(ctx context.Context, config RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", config.Addr, err)
	}

	return &RedisPublisher{client: client, key: config.Key}, nil
}

// Publish writes the state fields into the hash and publishes on the key's channel
func (p *RedisPublisher) Publish(ctx context.Context, state estimator.State) error {
	fields := redisFields(buildStatePayload(state))

	pipe := p.client.Pipeline()
	pipe.HSet(ctx, p.key, fields)
	pipe.Publish(ctx, p.key, "state")
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// redisFields flattens a state payload into hash field values
func redisFields(payload map[string]any) map[string]any {
	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		switch value := v.(type) {
		case bool:
			if value {
				fields[k] = "1"
			} else {
				fields[k] = "0"
			}
		case float64:
			fields[k] = strconv.FormatFloat(value, 'f', -1, 64)
		default:
			fields[k] = fmt.Sprint(value)
		}
	}
	return fields
}

// redisPublishWorker mirrors each state received into Redis
func redisPublishWorker(ctx context.Context, stateChan <-chan estimator.State, publisher *RedisPublisher) {
	log.Println("Redis publisher started")
	defer func() {
		_ = publisher.Close()
	}()

	failing := false

	for {
		select {
		case state := <-stateChan:
			err := publisher.Publish(ctx, state)
			if err != nil && !failing {
				log.Printf("Failed to publish state to Redis: %v\n", err)
			} else if err == nil && failing {
				log.Println("Redis publishing recovered")
			}
			failing = err != nil

		case <-ctx.Done():
			log.Println("Redis publisher stopped")
			return
		}
	}
}
