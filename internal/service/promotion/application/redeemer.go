package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"promotoken/internal/pkg/logger"
	"promotoken/internal/service/promotion/domain"
)

const (
	outcomeConsumed      = "consumed"
	outcomeAlreadyUsed   = "already_used"
	outcomeNotFound      = "not_found"
	outcomeNotSuccessful = "not_successful"
	outcomeError         = "error"
)

// TokenRedeemer 负责令牌的校验和兑换。校验是只读的，只有 Redeem 会消费令牌。
//
// 优惠码被删除后，它名下的令牌仍然保留用于审计，但校验和兑换都按不存在处理。
type TokenRedeemer struct {
	Deps
	registry *CodeRegistry
	rule     domain.SuccessRule
}

func NewTokenRedeemer(deps Deps, registry *CodeRegistry, rule domain.SuccessRule) *TokenRedeemer {
	return &TokenRedeemer{Deps: deps.withDefaults(), registry: registry, rule: rule}
}

// lookup 先查覆盖层再查持久存储。
// 覆盖层中的正数 id 令牌是持久令牌被消费后的影子副本，它覆盖持久存储中未使用的那一份。
func (s *TokenRedeemer) lookup(ctx context.Context, token string) (*domain.Token, error) {
	if t, err := s.Overlay.GetToken(ctx, token); err == nil {
		return t, nil
	}
	return s.Durable.GetToken(ctx, token)
}

// active 查找一个可以兑换的令牌及其优惠码
func (s *TokenRedeemer) active(ctx context.Context, token string) (*domain.Token, *domain.PromoCode, error) {
	t, err := s.lookup(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if t.Used {
		return t, nil, domain.ErrTokenAlreadyUsed
	}
	pc, err := s.registry.Resolve(ctx, t.PromoCodeID)
	if errors.Is(err, domain.ErrPromoCodeNotFound) {
		return t, nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return t, nil, err
	}
	return t, pc, nil
}

// Validate 是只读校验，给不受信任的外部调用方使用。
// 令牌不存在（或优惠码已删除）时返回 IsValid=false，而不是错误。
func (s *TokenRedeemer) Validate(ctx context.Context, token string) (*ValidationResult, error) {
	ctx, span := s.Tracer.Start(ctx, "redeemer.Validate")
	defer span.End()
	span.SetAttributes(attribute.String("token.prefix", domain.TokenPrefix(token)))

	if token == "" {
		return nil, domain.ErrInvalidInput
	}
	_, pc, err := s.active(ctx, token)
	if domain.IsNotFound(err) {
		span.SetAttributes(attribute.Bool("token.valid", false))
		return &ValidationResult{IsValid: false}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("token.valid", true))
	return &ValidationResult{IsValid: true, PromoCode: pc}, nil
}

// Verify 与 Validate 相同，但令牌不存在时返回 domain.ErrTokenNotFound
func (s *TokenRedeemer) Verify(ctx context.Context, token string) (*domain.PromoCode, error) {
	ctx, span := s.Tracer.Start(ctx, "redeemer.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("token.prefix", domain.TokenPrefix(token)))

	if token == "" {
		return nil, domain.ErrInvalidInput
	}
	_, pc, err := s.active(ctx, token)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return pc, nil
}

// Redeem 兑换令牌。只有结果载荷满足成功规则时才会消费令牌；
// 否则令牌保持可用，允许下游动作失败后重试。
func (s *TokenRedeemer) Redeem(ctx context.Context, token string, result json.RawMessage) (*RedeemOutcome, error) {
	ctx, span := s.Tracer.Start(ctx, "redeemer.Redeem")
	defer span.End()
	span.SetAttributes(attribute.String("token.prefix", domain.TokenPrefix(token)))
	start := time.Now()
	defer func() { s.Metrics.RedeemDuration.Observe(time.Since(start).Seconds()) }()

	outcome, err := s.redeem(ctx, token, result)
	label := outcomeLabel(outcome, err)
	s.Metrics.TokenRedemptions.WithLabelValues(label).Inc()
	span.SetAttributes(attribute.String("redeem.outcome", label))

	log := logger.Ctx(ctx).With().Str("token", domain.TokenPrefix(token)).Str("outcome", label).Logger()
	if err != nil {
		span.RecordError(err)
		if label == outcomeError {
			log.Error().Err(err).Msg("token redemption failed")
		} else {
			log.Info().Err(err).Msg("token redemption rejected")
		}
		return nil, err
	}
	if !outcome.Consumed {
		log.Info().Msg("redemption result not successful, token left unconsumed")
		return outcome, nil
	}

	log.Info().Int64("promo_code_id", outcome.PromoCode.ID).Str("code", outcome.PromoCode.Code).Msg("token redeemed")
	s.publish(ctx, domain.Event{
		Type:        domain.EventTokenRedeemed,
		PromoCodeID: outcome.PromoCode.ID,
		Code:        outcome.PromoCode.Code,
		TokenPrefix: domain.TokenPrefix(token),
		Backend:     backendOf(outcome.Token.IsEphemeral()),
	})
	return outcome, nil
}

func (s *TokenRedeemer) redeem(ctx context.Context, token string, result json.RawMessage) (*RedeemOutcome, error) {
	if token == "" {
		return nil, domain.ErrInvalidInput
	}
	t, pc, err := s.active(ctx, token)
	if err != nil {
		return nil, err
	}

	ok, err := s.succeeded(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &RedeemOutcome{Consumed: false, Token: t, PromoCode: pc}, nil
	}

	var used *domain.Token
	if t.IsEphemeral() {
		used, err = s.Overlay.MarkTokenUsed(ctx, token, result)
	} else {
		used, err = s.Durable.MarkTokenUsed(ctx, token, result)
		// 只在持久存储明确只读时才做影子消费。其他失败直接返回，
		// 避免持久存储恢复后同一个令牌被再次消费。
		if errors.Is(err, domain.ErrStoreReadOnly) {
			s.fallback(ctx, "mark_token_used", err)
			used, err = s.Overlay.AdoptConsumed(ctx, t, result)
		}
	}
	if err != nil {
		return nil, err
	}
	return &RedeemOutcome{Consumed: true, Token: used, PromoCode: pc}, nil
}

// succeeded 把结果载荷交给成功规则判断。不是 JSON 对象的载荷一律视为不成功。
func (s *TokenRedeemer) succeeded(result json.RawMessage) (bool, error) {
	if len(result) == 0 {
		return false, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(result, &payload); err != nil || payload == nil {
		return false, nil
	}
	return s.rule.Succeeded(payload)
}

func outcomeLabel(outcome *RedeemOutcome, err error) string {
	switch {
	case err == nil && outcome.Consumed:
		return outcomeConsumed
	case err == nil:
		return outcomeNotSuccessful
	case errors.Is(err, domain.ErrTokenAlreadyUsed):
		return outcomeAlreadyUsed
	case domain.IsNotFound(err):
		return outcomeNotFound
	default:
		return outcomeError
	}
}

// ListTokens 返回两个后端合并后的令牌列表，按签发时间倒序。
// 覆盖层中的影子副本替换持久存储中的同一个令牌；code 为空时用墓碑快照补全。
func (s *TokenRedeemer) ListTokens(ctx context.Context) ([]*domain.TokenWithCode, error) {
	ctx, span := s.Tracer.Start(ctx, "redeemer.ListTokens")
	defer span.End()

	var durable, ephemeral []*domain.TokenWithCode
	var durableErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		durable, durableErr = s.Durable.ListTokens(gctx)
		return nil
	})
	g.Go(func() error {
		var err error
		ephemeral, err = s.Overlay.ListTokens(gctx)
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
		s.fallback(ctx, "list_tokens", durableErr)
	}

	merged := make([]*domain.TokenWithCode, 0, len(durable)+len(ephemeral))
	index := make(map[string]int, len(durable))
	for _, t := range durable {
		index[t.Token.Token] = len(merged)
		merged = append(merged, t)
	}
	for _, t := range ephemeral {
		if i, ok := index[t.Token.Token]; ok {
			if t.Code == "" {
				t.Code = merged[i].Code
			}
			merged[i] = t
			continue
		}
		merged = append(merged, t)
	}
	for _, t := range merged {
		if t.Code != "" {
			continue
		}
		if snap, ok := s.Overlay.TombstonedCode(t.PromoCodeID); ok {
			t.Code = snap.Code
		}
	}
	domain.SortTokens(merged)
	span.SetAttributes(attribute.Int("token.count", len(merged)))
	return merged, nil
}
