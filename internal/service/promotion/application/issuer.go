package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"promotoken/internal/pkg/logger"
	"promotoken/internal/service/promotion/domain"
)

const (
	// 16 个随机字节编码为 32 位十六进制串
	tokenBytes       = 16
	maxIssueAttempts = 5
)

// TokenIssuer 为优惠码签发一次性兑换令牌。
type TokenIssuer struct {
	Deps
	registry *CodeRegistry
	newToken func() (string, error)
}

func NewTokenIssuer(deps Deps, registry *CodeRegistry) *TokenIssuer {
	return &TokenIssuer{Deps: deps.withDefaults(), registry: registry, newToken: randomToken}
}

// Issue 签发一个令牌。优惠码在覆盖层时令牌也写入覆盖层；
// 否则写入持久存储，持久存储不可写时退回覆盖层。
func (s *TokenIssuer) Issue(ctx context.Context, promoCodeID int64) (*IssuedToken, error) {
	ctx, span := s.Tracer.Start(ctx, "issuer.Issue")
	defer span.End()
	span.SetAttributes(attribute.Int64("promo.id", promoCodeID))

	pc, err := s.registry.Resolve(ctx, promoCodeID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		value, err := s.newToken()
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "generate token")
		}
		tok, err := s.store(ctx, value, pc)
		if errors.Is(err, domain.ErrDuplicateToken) {
			logger.Ctx(ctx).Warn().Int("attempt", attempt).Msg("generated token collided, retrying")
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		backend := backendOf(tok.IsEphemeral())
		span.SetAttributes(attribute.String("backend", backend))
		s.Metrics.TokensIssued.WithLabelValues(backend).Inc()
		logger.Ctx(ctx).Info().
			Int64("promo_code_id", pc.ID).
			Str("code", pc.Code).
			Str("token", domain.TokenPrefix(tok.Token)).
			Str("backend", backend).
			Msg("token issued")
		s.publish(ctx, domain.Event{
			Type:        domain.EventTokenIssued,
			PromoCodeID: pc.ID,
			Code:        pc.Code,
			TokenPrefix: domain.TokenPrefix(tok.Token),
			Backend:     backend,
		})
		return &IssuedToken{Token: tok, PromoCode: pc}, nil
	}
	err = fmt.Errorf("token generation collided %d times: %w", maxIssueAttempts, domain.ErrDuplicateToken)
	span.RecordError(err)
	return nil, err
}

func (s *TokenIssuer) store(ctx context.Context, value string, pc *domain.PromoCode) (*domain.Token, error) {
	if !pc.IsEphemeral() {
		if s.takenIn(ctx, s.Overlay, value) {
			return nil, domain.ErrDuplicateToken
		}
		tok, err := s.Durable.CreateToken(ctx, value, pc.ID)
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return tok, err
		}
		s.fallback(ctx, "create_token", err)
	}
	if s.takenIn(ctx, s.Durable, value) {
		return nil, domain.ErrDuplicateToken
	}
	return s.Overlay.CreateToken(ctx, value, pc.ID)
}

// takenIn 检查另一个后端是否已经有这个令牌值。读取失败按未占用处理。
func (s *TokenIssuer) takenIn(ctx context.Context, store domain.Store, value string) bool {
	_, err := store.GetToken(ctx, value)
	return err == nil
}

// randomToken 从 crypto/rand 读取随机字节并编码为 32 位十六进制串
func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
