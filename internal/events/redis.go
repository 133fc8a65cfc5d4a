// Package events publishes job status changes for external consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// StatusEvent is the message published on every job transition.
type StatusEvent struct {
	ID         string       `json:"id"`
	Status     types.Status `json:"status"`
	Error      *string      `json:"error"`
	RetryCount int          `json:"retry_count"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// RedisPublisher publishes status events on a pub/sub channel and mirrors
// the latest status of each job in a hash with a TTL.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	prefix  string
	ttl     time.Duration
	logger  *slog.Logger
}

// RedisOptions configures the publisher.
type RedisOptions struct {
	Channel   string
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisPublisher creates a publisher on an existing client.
func NewRedisPublisher(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Channel == "" {
		opts.Channel = "transcription:jobs"
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "transcription:job:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	return &RedisPublisher{
		client:  client,
		channel: opts.Channel,
		prefix:  opts.KeyPrefix,
		ttl:     opts.TTL,
		logger:  logger,
	}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Notify publishes the job's current status. Errors are logged, never
// returned: event delivery must not affect job processing.
func (p *RedisPublisher) Notify(ctx context.Context, job *types.Job) {
	if err := p.Publish(ctx, job); err != nil {
		p.logger.Warn("failed to publish job status", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

// Publish writes the status hash and the pub/sub message.
func (p *RedisPublisher) Publish(ctx context.Context, job *types.Job) error {
	ev := StatusEvent{
		ID:         job.ID,
		Status:     job.Status,
		Error:      job.Error,
		RetryCount: job.RetryCount,
		UpdatedAt:  job.UpdatedAt,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}

	errMsg := ""
	if job.Error != nil {
		errMsg = *job.Error
	}

	key := p.Key(job.ID)
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":      string(job.Status),
		"error":       errMsg,
		"retry_count": job.RetryCount,
		"updated_at":  job.UpdatedAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, p.ttl)
	pipe.Publish(ctx, p.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Key returns the hash key holding a job's latest status.
func (p *RedisPublisher) Key(jobID string) string {
	return p.prefix + jobID
}

// Channel returns the pub/sub channel name.
func (p *RedisPublisher) Channel() string {
	return p.channel
}
