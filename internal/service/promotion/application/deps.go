package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"promotoken/internal/pkg/logger"
	"promotoken/internal/pkg/metrics"
	"promotoken/internal/service/promotion/domain"
	"promotoken/internal/service/promotion/port"
)

const (
	backendDurable   = "durable"
	backendEphemeral = "ephemeral"
)

// Deps 是三个用例服务共享的依赖。
// Durable 和 Overlay 实现同一个 domain.Store 接口：每个写操作先尝试 Durable，
// 失败并且错误匹配 domain.ErrStoreUnavailable 时再落到 Overlay。
type Deps struct {
	Durable   domain.Store
	Overlay   domain.Overlay
	Publisher port.EventPublisher
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = port.NopPublisher{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("promotion")
	}
	return d
}

// publish 发送领域事件。事件是尽力而为的旁路输出，发送失败只记录日志，不影响用例结果。
func (d Deps) publish(ctx context.Context, event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := d.Publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event", string(event.Type)).Msg("failed to publish event")
	}
}

// fallback 记录一次退回覆盖层的操作
func (d Deps) fallback(ctx context.Context, op string, cause error) {
	d.Metrics.StoreFallbacks.WithLabelValues(op).Inc()
	logger.Ctx(ctx).Warn().Err(cause).Str("op", op).Msg("durable store unavailable, using ephemeral overlay")
}

func backendOf(ephemeral bool) string {
	if ephemeral {
		return backendEphemeral
	}
	return backendDurable
}
