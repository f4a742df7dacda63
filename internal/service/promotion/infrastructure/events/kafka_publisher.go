package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"promotoken/internal/pkg/mq"
	"promotoken/internal/service/promotion/domain"
	"promotoken/internal/service/promotion/port"
)

// KafkaPublisher 实现了 port.EventPublisher 接口，把领域事件写入 kafka。
// 同一个优惠码的事件使用相同的分区键，保证它们在分区内有序。
type KafkaPublisher struct {
	writer mq.MessageWriter
	closer func() error
}

// NewKafkaPublisher 基于 broker 列表和主题创建发布者
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := mq.NewKafkaWriter(brokers, topic)
	return &KafkaPublisher{writer: w, closer: w.Close}
}

// NewKafkaPublisherWithWriter 使用外部提供的 writer，测试中传入内存实现
func NewKafkaPublisherWithWriter(writer mq.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}
	key := []byte(strconv.FormatInt(event.PromoCodeID, 10))
	return mq.ProduceMessage(ctx, p.writer, key, payload)
}

// Close 关闭底层的Kafka writer。
func (p *KafkaPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)
