// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"docqa-go/internal/config"
	"docqa-go/pkg/database"
	"docqa-go/pkg/events"
	"docqa-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

const maxAttempts = 3

// retryBackoff 是第 N 次失败后等待 N 倍该时长再重试。
var retryBackoff = time.Second

// committer 是 kafka.Reader 中提交 offset 的部分。
type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// EventProcessor 定义了处理审计事件的接口，使消费者与具体实现解耦。
type EventProcessor interface {
	Process(ctx context.Context, e events.QueryEvent) error
}

// Producer 将查询事件写入 Kafka，实现 events.Sink。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。写入为异步模式，失败只记录日志。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Errorf("[Kafka] 审计事件写入失败, 条数: %d, error: %v", len(messages), err)
			}
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一条查询事件，以 RequestID 作为消息键。
func (p *Producer) Publish(ctx context.Context, e events.QueryEvent) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.RequestID),
		Value: value,
	})
}

// Close 刷新缓冲并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动一个 Kafka 消费者来处理审计事件，ctx 取消后退出。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor EventProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		var e events.QueryEvent
		if err := json.Unmarshal(m.Value, &e); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, offset: %d", err, m.Offset)
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		handle(ctx, r, m, e, processor)
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// handle 同步处理一条事件，失败时按退避重试，累计失败次数达到上限后提交 offset 放弃该消息。
func handle(ctx context.Context, r committer, m kafka.Message, e events.QueryEvent, processor EventProcessor) {
	for attempt := 1; ; attempt++ {
		err := processor.Process(ctx, e)
		if err == nil {
			log.Debugf("审计事件处理成功: RequestID=%s", e.RequestID)
			if database.RDB != nil {
				_ = database.RDB.Del(ctx, attemptsKey(e.RequestID)).Err()
			}
			commit(ctx, r, m)
			return
		}
		log.Errorf("处理审计事件失败: RequestID=%s, Attempt=%d, Error: %v", e.RequestID, attempt, err)
		if recordFailure(ctx, e.RequestID, attempt) >= maxAttempts {
			log.Errorf("审计事件多次失败(>=%d)，提交 offset 终止重试: RequestID=%s", maxAttempts, e.RequestID)
			commit(ctx, r, m)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
}

// recordFailure 使用 Redis 累计失败次数，使重启后的消费者也能看到之前的尝试；Redis 不可用时退回本地计数。
func recordFailure(ctx context.Context, requestID string, local int) int64 {
	if database.RDB == nil {
		return int64(local)
	}
	key := attemptsKey(requestID)
	attempts, err := database.RDB.Incr(ctx, key).Result()
	if err != nil {
		return int64(local)
	}
	_ = database.RDB.Expire(ctx, key, 24*time.Hour).Err()
	return attempts
}

func commit(ctx context.Context, r committer, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func attemptsKey(requestID string) string {
	return fmt.Sprintf("kafka:attempts:%s", requestID)
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
