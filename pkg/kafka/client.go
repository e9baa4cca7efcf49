// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"prepdocs-go/internal/config"
	"prepdocs-go/internal/model"
	"prepdocs-go/pkg/log"
	"prepdocs-go/pkg/tasks"
)

// maxAttempts 是单个任务的最大处理次数，达到后不再重新入队。
const maxAttempts = 3

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttemptCounter 使用 Redis 计数失败次数，计数 24 小时后过期。
type RedisAttemptCounter struct {
	rdb *redis.Client
}

// NewRedisAttemptCounter 创建基于 Redis 的计数器。
func NewRedisAttemptCounter(rdb *redis.Client) *RedisAttemptCounter {
	return &RedisAttemptCounter{rdb: rdb}
}

func attemptsKey(key string) string {
	return fmt.Sprintf("kafka:attempts:%s", key)
}

func (c *RedisAttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	k := attemptsKey(key)
	attempts, err := c.rdb.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, k, 24*time.Hour).Err()
	return attempts, nil
}

func (c *RedisAttemptCounter) Reset(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, attemptsKey(key)).Err()
}

// Producer 发送入库任务。
type Producer struct {
	writer *kafka.Writer
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// ProduceIngestTask 发送一个入库任务到 Kafka。
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.BlobName), Value: taskBytes})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// requeuer 把失败的任务重新放回队列。
type requeuer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// handleMessage 处理一条消息并返回是否应提交 offset。
// 失败次数未达到上限时任务被重新入队，原消息照常提交；计数不可用时不提交，交给 Kafka 重投。
func handleMessage(ctx context.Context, value []byte, processor TaskProcessor, counter AttemptCounter, requeue requeuer) bool {
	var task tasks.IngestTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}
	action, err := task.DocumentAction()
	if err != nil {
		log.Errorf("Kafka 消息的 action 无效: %v, value: %s", err, string(value))
		return true
	}
	// 只有 RemoveAll 不需要 blob 名
	if action != model.RemoveAll && task.BlobName == "" {
		log.Errorf("Kafka 消息缺少 blob_name, value: %s", string(value))
		return true
	}

	log.Infof("开始处理入库任务: Blob=%s, Action=%s", task.BlobName, task.Action)
	err = processor.Process(ctx, task)
	if err == nil {
		log.Infof("入库任务处理成功: Blob=%s", task.BlobName)
		if counter != nil {
			_ = counter.Reset(ctx, task.Key())
		}
		return true
	}

	log.Errorf("处理入库任务失败: Blob=%s, Error: %v", task.BlobName, err)
	if counter == nil || requeue == nil {
		return true
	}
	attempts, incErr := counter.Incr(ctx, task.Key())
	if incErr != nil {
		// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
		log.Errorf("记录任务失败次数失败: %v", incErr)
		return false
	}
	if attempts >= maxAttempts {
		log.Errorf("入库任务多次失败(>=%d)，不再重试: Blob=%s", maxAttempts, task.BlobName)
		return true
	}
	if err := requeue.ProduceIngestTask(ctx, task); err != nil {
		log.Errorf("任务重新入队失败: %v", err)
		return false
	}
	return true
}

// StartConsumer 启动一个 Kafka 消费者来处理入库任务，直到 ctx 被取消。
// requeue 与 counter 为 nil 时失败的任务不会重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, counter AttemptCounter, requeue *Producer) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	var rq requeuer
	if requeue != nil {
		rq = requeue
	}
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		if handleMessage(ctx, m.Value, processor, counter, rq) {
			// 任务处理完成后，手动提交 offset
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}
