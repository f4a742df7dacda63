package port

import (
	"context"

	"promotoken/internal/service/promotion/domain"
)

// EventPublisher 是领域事件的出站端口。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// MultiPublisher 把事件依次投递给多个发布者，返回第一个错误但不中断后续投递。
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, event domain.Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NopPublisher 在未配置任何消息通道时使用。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.Event) error { return nil }
