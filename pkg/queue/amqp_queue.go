package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"amberscan/internal/util"
)

// AMQPJobQueue implements TaskQueue on a durable RabbitMQ queue. Retries
// are tracked with an x-attempts header on republish; job status is kept
// in-process, so GetJob only reflects jobs this instance has seen.
type AMQPJobQueue struct {
	conn       *amqp.Connection
	pub        *amqp.Channel
	queue      string
	maxRetries int
	retryDelay time.Duration

	mu   sync.Mutex
	jobs map[string]Job
}

type AMQPQueueConfig struct {
	URL        string
	Queue      string
	MaxRetries int
	RetryDelay time.Duration
}

type amqpPayload struct {
	JobID     string `json:"job_id"`
	AssetPath string `json:"asset_path"`
	Kind      string `json:"kind"`
}

func NewAMQPJobQueue(cfg AMQPQueueConfig) (*AMQPJobQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	queueName := strings.TrimSpace(cfg.Queue)
	if queueName == "" {
		return nil, errors.New("queue name required")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := pub.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPJobQueue{
		conn:       conn,
		pub:        pub,
		queue:      queueName,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		jobs:       make(map[string]Job),
	}, nil
}

func (q *AMQPJobQueue) Enqueue(ctx context.Context, assetPath, kind string) (Job, error) {
	assetPath = strings.TrimSpace(assetPath)
	if assetPath == "" {
		return Job{}, errors.New("asset path required")
	}
	job := Job{
		ID:        util.NewID(),
		AssetPath: assetPath,
		Kind:      kind,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := q.publish(ctx, job, 0); err != nil {
		return Job{}, err
	}
	q.setJob(job)
	return job, nil
}

func (q *AMQPJobQueue) publish(ctx context.Context, job Job, attempts int) error {
	body, err := json.Marshal(amqpPayload{JobID: job.ID, AssetPath: job.AssetPath, Kind: job.Kind})
	if err != nil {
		return err
	}
	return q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Headers:      amqp.Table{"x-attempts": int32(attempts)},
		Body:         body,
	})
}

func (q *AMQPJobQueue) GetJob(_ context.Context, jobID string) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

func (q *AMQPJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		go q.consumeLoop(ctx, fmt.Sprintf("consumer-%d", i), handler)
	}
}

func (q *AMQPJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	ch, err := q.conn.Channel()
	if err != nil {
		return
	}
	defer ch.Close()
	if err := ch.Qos(1, 0, false); err != nil {
		return
	}
	deliveries, err := ch.Consume(q.queue, consumer, false, false, false, false, nil)
	if err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			q.handleDelivery(ctx, d, handler)
		}
	}
}

func (q *AMQPJobQueue) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	var payload amqpPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil || payload.JobID == "" || payload.AssetPath == "" {
		_ = d.Ack(false)
		return
	}
	attempts := deliveryAttempts(d) + 1
	job := Job{
		ID:        payload.JobID,
		AssetPath: payload.AssetPath,
		Kind:      payload.Kind,
		Status:    StatusProcessing,
		Attempts:  attempts,
		UpdatedAt: time.Now().UTC(),
	}
	q.setJob(job)

	err := handler(ctx, job)
	if err == nil {
		job.Status = StatusDone
		job.ErrorMessage = ""
		q.setJob(job)
		_ = d.Ack(false)
		return
	}
	if IsPermanent(err) || attempts >= q.maxRetries {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		q.setJob(job)
		_ = d.Ack(false)
		return
	}
	job.Status = StatusQueued
	job.ErrorMessage = err.Error()
	q.setJob(job)
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	if pubErr := q.publish(ctx, job, attempts); pubErr != nil {
		// keep the delivery pending so a reconnecting consumer can retry
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (q *AMQPJobQueue) setJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.jobs[job.ID]; ok && !existing.CreatedAt.IsZero() {
		job.CreatedAt = existing.CreatedAt
	} else if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = time.Now().UTC()
	q.jobs[job.ID] = job
}

// Close tears down the AMQP connection.
func (q *AMQPJobQueue) Close() error {
	return q.conn.Close()
}

func deliveryAttempts(d amqp.Delivery) int {
	if d.Headers == nil {
		return 0
	}
	switch v := d.Headers["x-attempts"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
