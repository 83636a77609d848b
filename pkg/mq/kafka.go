// Package mq 提供 Kafka producer/consumer 封装，供事件发布与 saga 延续队列使用。
// 消费按至少一次投递处理，幂等由上层的步骤标记保证。
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
)

// Config Kafka 配置。
type Config struct {
	Brokers        []string
	GroupID        string
	MaxRetries     int
	RetryBackoffMS int
}

// Producer Kafka 生产者。
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewProducer 创建生产者。RequireAll 等待所有副本确认，资金类消息不容丢失。
func NewProducer(cfg Config, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            max(cfg.MaxRetries, 1),
		WriteBackoffMin:        time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoffMS*10) * time.Millisecond,
	}
	return &Producer{writer: writer, logger: logger.With("module", "mq")}
}

// Publish 序列化并发送一条消息。
func (p *Producer) Publish(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	msg := kafka.Message{Topic: topic, Key: []byte(key), Value: data}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish message", "topic", topic, "key", key, "error", err)
		return err
	}
	return nil
}

// Close 关闭生产者。
func (p *Producer) Close() error { return p.writer.Close() }

// Handler 消息处理函数。返回错误表示处理失败，消息会被重新投递。
type Handler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer Kafka 消费者，读取失败时按指数退避重连。
type Consumer struct {
	reader *kafka.Reader
	logger *slog.Logger
}

// NewConsumer 创建指定主题的消费者。
func NewConsumer(cfg Config, topic string, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{reader: reader, logger: logger.With("module", "mq", "topic", topic)}
}

// Run 循环消费直到上下文取消。处理失败只记录不提交重试，
// 依赖消费组的重新投递；读取失败按退避曲线等待后重连。
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	retry := backoff.NewExponentialBackOff()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return c.reader.Close()
			}
			sleep := retry.NextBackOff()
			if sleep == backoff.Stop {
				retry.Reset()
				sleep = retry.NextBackOff()
			}
			c.logger.WarnContext(ctx, "fetch failed, backing off", "sleep", sleep, "error", err)
			select {
			case <-ctx.Done():
				return c.reader.Close()
			case <-time.After(sleep):
			}
			continue
		}
		retry.Reset()

		if err := handler.Handle(ctx, msg); err != nil {
			c.logger.ErrorContext(ctx, "handler failed, message will be redelivered",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.ErrorContext(ctx, "commit failed", "offset", msg.Offset, "error", err)
		}
	}
}
