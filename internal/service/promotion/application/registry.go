package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"promotoken/internal/pkg/logger"
	"promotoken/internal/service/promotion/domain"
)

const (
	deleteModeHard      = "hard"
	deleteModeOverlay   = "overlay"
	deleteModeTombstone = "tombstone"
)

// CodeRegistry 管理优惠码的增删查，保证 code 在持久存储和覆盖层两边合起来唯一。
type CodeRegistry struct {
	Deps
	seeds []domain.PromoCodeSeed
}

// NewCodeRegistry 创建优惠码注册表。seeds 是目录重置时写入的默认优惠码。
func NewCodeRegistry(deps Deps, seeds []domain.PromoCodeSeed) *CodeRegistry {
	return &CodeRegistry{Deps: deps.withDefaults(), seeds: seeds}
}

// Create 创建一个优惠码
func (r *CodeRegistry) Create(ctx context.Context, code, description string) (*domain.PromoCode, error) {
	ctx, span := r.Tracer.Start(ctx, "registry.Create")
	defer span.End()
	span.SetAttributes(attribute.String("promo.code", code))

	if err := domain.ValidatePromoCodeInput(code, description); err != nil {
		return nil, err
	}

	writeDurable, checked, err := r.checkAvailable(ctx, code)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var pc *domain.PromoCode
	if writeDurable {
		pc, err = r.Durable.CreatePromoCode(ctx, code, description)
		if errors.Is(err, domain.ErrStoreUnavailable) && !checked {
			// 持久存储读写都失败，无法确认 code 在持久存储中不存在，不能退回覆盖层
			span.RecordError(err)
			return nil, err
		}
		if errors.Is(err, domain.ErrStoreUnavailable) {
			r.fallback(ctx, "create_promo_code", err)
			writeDurable = false
		} else if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	if !writeDurable {
		if pc, err = r.Overlay.CreatePromoCode(ctx, code, description); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	backend := backendOf(pc.IsEphemeral())
	span.SetAttributes(attribute.Int64("promo.id", pc.ID), attribute.String("backend", backend))
	r.Metrics.PromoCodesCreated.WithLabelValues(backend).Inc()
	logger.Ctx(ctx).Info().Int64("promo_code_id", pc.ID).Str("code", pc.Code).Str("backend", backend).Msg("promo code created")
	r.publish(ctx, domain.Event{
		Type:        domain.EventPromoCodeCreated,
		PromoCodeID: pc.ID,
		Code:        pc.Code,
		Backend:     backend,
	})
	return pc, nil
}

// checkAvailable 在两个后端中检查 code 是否已被占用。
// writeDurable 表示是否应该写入持久存储：持久存储中存在同名但已被墓碑隐藏的记录时，
// 唯一索引会拒绝写入，只能写到覆盖层。checked 表示持久存储的查重确实完成了。
func (r *CodeRegistry) checkAvailable(ctx context.Context, code string) (writeDurable, checked bool, err error) {
	if _, err := r.Overlay.GetPromoCodeByCode(ctx, code); err == nil {
		return false, true, domain.ErrDuplicateCode
	}

	existing, err := r.Durable.GetPromoCodeByCode(ctx, code)
	switch {
	case err == nil:
		if r.Overlay.IsTombstoned(existing.ID) {
			return false, true, nil
		}
		return false, true, domain.ErrDuplicateCode
	case errors.Is(err, domain.ErrPromoCodeNotFound):
		return true, true, nil
	case errors.Is(err, domain.ErrStoreUnavailable):
		// 读不到持久存储时仍然尝试写入，唯一索引兜底；写入也失败时 Create 直接报错
		logger.Ctx(ctx).Warn().Err(err).Str("code", code).Msg("could not check durable store for duplicate code")
		return true, false, nil
	default:
		return false, false, err
	}
}

// Delete 删除优惠码：覆盖层中的直接移除；持久存储可写时硬删除，不可写时记录墓碑。
// 已签发的令牌不会被删除。
func (r *CodeRegistry) Delete(ctx context.Context, id int64) error {
	ctx, span := r.Tracer.Start(ctx, "registry.Delete")
	defer span.End()
	span.SetAttributes(attribute.Int64("promo.id", id))

	mode, pc, err := r.delete(ctx, id)
	if err != nil {
		span.RecordError(err)
		if !domain.IsNotFound(err) {
			span.SetStatus(codes.Error, "delete promo code failed")
		}
		return err
	}

	r.Metrics.PromoCodesDeleted.WithLabelValues(mode).Inc()
	logger.Ctx(ctx).Info().Int64("promo_code_id", id).Str("code", pc.Code).Str("mode", mode).Msg("promo code deleted")
	r.publish(ctx, domain.Event{
		Type:        domain.EventPromoCodeDeleted,
		PromoCodeID: id,
		Code:        pc.Code,
		Backend:     backendOf(pc.IsEphemeral()),
	})
	return nil
}

func (r *CodeRegistry) delete(ctx context.Context, id int64) (string, *domain.PromoCode, error) {
	if live, err := r.Overlay.GetPromoCodeByID(ctx, id); err == nil {
		if err := r.Overlay.DeletePromoCode(ctx, id); err != nil {
			return "", nil, err
		}
		return deleteModeOverlay, live, nil
	}
	if id < 0 || r.Overlay.IsTombstoned(id) {
		return "", nil, domain.ErrPromoCodeNotFound
	}

	pc, err := r.Durable.GetPromoCodeByID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	err = r.Durable.DeletePromoCode(ctx, id)
	switch {
	case err == nil:
		return deleteModeHard, pc, nil
	case errors.Is(err, domain.ErrStoreUnavailable):
		r.fallback(ctx, "delete_promo_code", err)
		if err := r.Overlay.Tombstone(ctx, pc); err != nil {
			return "", nil, err
		}
		return deleteModeTombstone, pc, nil
	default:
		return "", nil, err
	}
}

// List 返回合并视图：持久存储中未被墓碑隐藏的记录加上覆盖层中的存活记录，按 code、id 升序。
// 持久存储读取失败时只返回覆盖层的内容。
func (r *CodeRegistry) List(ctx context.Context) ([]*domain.PromoCode, error) {
	ctx, span := r.Tracer.Start(ctx, "registry.List")
	defer span.End()

	var durable, ephemeral []*domain.PromoCode
	var durableErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		durable, durableErr = r.Durable.ListPromoCodes(gctx)
		return nil
	})
	g.Go(func() error {
		var err error
		ephemeral, err = r.Overlay.ListPromoCodes(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if durableErr != nil {
		if !errors.Is(durableErr, domain.ErrStoreUnavailable) {
			span.RecordError(durableErr)
			return nil, durableErr
		}
		r.fallback(ctx, "list_promo_codes", durableErr)
	}

	merged := make([]*domain.PromoCode, 0, len(durable)+len(ephemeral))
	for _, pc := range durable {
		if !r.Overlay.IsTombstoned(pc.ID) {
			merged = append(merged, pc)
		}
	}
	merged = append(merged, ephemeral...)
	domain.SortPromoCodes(merged)
	span.SetAttributes(attribute.Int("promo.count", len(merged)))
	return merged, nil
}

// Resolve 按 id 查找一个存活的优惠码：先查覆盖层，再查持久存储，被墓碑隐藏的视为不存在。
func (r *CodeRegistry) Resolve(ctx context.Context, id int64) (*domain.PromoCode, error) {
	if r.Overlay.IsTombstoned(id) {
		return nil, domain.ErrPromoCodeNotFound
	}
	if pc, err := r.Overlay.GetPromoCodeByID(ctx, id); err == nil {
		return pc, nil
	}
	if id < 0 {
		return nil, domain.ErrPromoCodeNotFound
	}
	return r.Durable.GetPromoCodeByID(ctx, id)
}

// Reset 用默认目录替换持久存储中的优惠码并清空覆盖层。持久存储不可写时返回错误。
func (r *CodeRegistry) Reset(ctx context.Context) ([]*domain.PromoCode, error) {
	ctx, span := r.Tracer.Start(ctx, "registry.Reset")
	defer span.End()

	seeded, err := r.Durable.ReplacePromoCodes(ctx, r.seeds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reset catalogue failed")
		return nil, errors.Wrap(err, "reset promo code catalogue")
	}
	r.Overlay.Reset()
	logger.Ctx(ctx).Info().Int("count", len(seeded)).Msg("promo code catalogue reset")
	return seeded, nil
}
