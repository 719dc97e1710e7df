// Package messagebus notifies the rest of the platform about committed
// writes. Every write appends one entry to the modified_fields redis
// stream; the autoupdate service and friends consume it to invalidate and
// push.
package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// StreamName is the redis stream downstream services listen on.
const StreamName = "modified_fields"

// Modified is one committed event as seen by downstream consumers.
type Modified struct {
	FQID string `json:"fqid"`
	Kind string `json:"kind"`
}

// Publisher appends write notifications to the stream. A nil Publisher is
// valid and drops everything, so callers need no guard when redis is not
// configured.
type Publisher struct {
	client *redis.Client
	log    zerolog.Logger
}

// New connects to the redis at url and verifies the connection. An empty
// url disables publishing; New then returns a nil Publisher.
func New(url string, log zerolog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(client, log), nil
}

// NewWithClient wraps an existing client. Used by tests and callers with
// their own connection setup.
func NewWithClient(client *redis.Client, log zerolog.Logger) *Publisher {
	return &Publisher{client: client, log: log}
}

// Publish appends the committed events as one stream entry. The write is
// already in the datastore when this runs, so delivery is best effort;
// callers log the error and move on.
func (p *Publisher) Publish(ctx context.Context, modified []Modified) error {
	if p == nil || len(modified) == 0 {
		return nil
	}
	data, err := json.Marshal(modified)
	if err != nil {
		return fmt.Errorf("encoding modified fields: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName,
		Values: map[string]interface{}{"modified": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending to %s: %w", StreamName, err)
	}
	p.log.Debug().Int("events", len(modified)).Msg("published modified fields")
	return nil
}

// Close releases the redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
