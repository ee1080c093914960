package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tg-journal-bot/internal/domain"
	"tg-journal-bot/internal/infra/metrics"
)

// AMQPGrantQueue реализует очередь задач выдачи доступа через RabbitMQ.
type AMQPGrantQueue struct {
	url   string
	queue string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	delivery <-chan amqp.Delivery
}

// NewAMQPGrantQueue создаёт очередь по AMQP URL и имени очереди.
func NewAMQPGrantQueue(url, queue string) (*AMQPGrantQueue, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	return &AMQPGrantQueue{url: url, queue: queue}, nil
}

func (q *AMQPGrantQueue) channel() (*amqp.Channel, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	start := time.Now()
	conn, err := amqp.Dial(q.url)
	metrics.ObserveNetworkRequest("rabbitmq", "dial", q.queue, start, err)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	q.conn = conn
	q.ch = ch
	q.delivery = nil
	return ch, nil
}

// Enqueue публикует задачу в очередь.
func (q *AMQPGrantQueue) Enqueue(ctx context.Context, job domain.GrantJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ch, err := q.channel()
	if err != nil {
		return err
	}
	start := time.Now()
	err = ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		q.reset()
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
// Возвращённый ack подтверждает обработку либо возвращает задачу в очередь.
func (q *AMQPGrantQueue) Receive(ctx context.Context) (domain.GrantJob, domain.GrantAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.GrantJob{}, nil, err
		}
		deliveries, err := q.consume()
		if err != nil {
			select {
			case <-ctx.Done():
				return domain.GrantJob{}, nil, ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return domain.GrantJob{}, nil, ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				q.reset()
				continue
			}
			var job domain.GrantJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				_ = msg.Nack(false, false)
				return domain.GrantJob{}, nil, fmt.Errorf("decode job: %w", err)
			}
			redelivered := msg.Redelivered
			ack := func(success bool) error {
				if success {
					return msg.Ack(false)
				}
				return msg.Nack(false, requeueOnFailure(redelivered))
			}
			return job, ack, nil
		}
	}
}

// requeueOnFailure решает судьбу задачи после сбоя обработчика: первая
// неудача возвращает её в очередь, повторная — выбрасывает. Застрявшая
// задача не должна крутиться в очереди бесконечно, состояние доведёт
// периодическая сверка.
func requeueOnFailure(redelivered bool) bool {
	return !redelivered
}

func (q *AMQPGrantQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	if q.delivery != nil && q.ch != nil && !q.ch.IsClosed() {
		delivery := q.delivery
		q.mu.Unlock()
		return delivery, nil
	}
	q.mu.Unlock()

	ch, err := q.channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		q.reset()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	start := time.Now()
	delivery, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	metrics.ObserveNetworkRequest("rabbitmq", "consume", q.queue, start, err)
	if err != nil {
		q.reset()
		return nil, fmt.Errorf("consume queue: %w", err)
	}
	q.mu.Lock()
	q.delivery = delivery
	q.mu.Unlock()
	return delivery, nil
}

func (q *AMQPGrantQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		_ = q.ch.Close()
		q.ch = nil
	}
	if q.conn != nil {
		_ = q.conn.Close()
		q.conn = nil
	}
	q.delivery = nil
}

// Close закрывает подключение к брокеру.
func (q *AMQPGrantQueue) Close() error {
	q.reset()
	return nil
}
