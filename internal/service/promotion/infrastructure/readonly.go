package infrastructure

import (
	"context"
	"encoding/json"

	"promotoken/internal/service/promotion/domain"
)

// ReadOnlyStore 包装一个持久存储：读请求透传，写请求一律返回 domain.ErrStoreReadOnly。
// 用于持久存储只能读取的部署环境，写入因此全部落到覆盖层。
type ReadOnlyStore struct {
	inner domain.Store
}

func NewReadOnlyStore(inner domain.Store) *ReadOnlyStore {
	return &ReadOnlyStore{inner: inner}
}

func (s *ReadOnlyStore) CreatePromoCode(context.Context, string, string) (*domain.PromoCode, error) {
	return nil, domain.ErrStoreReadOnly
}

func (s *ReadOnlyStore) GetPromoCodeByID(ctx context.Context, id int64) (*domain.PromoCode, error) {
	return s.inner.GetPromoCodeByID(ctx, id)
}

func (s *ReadOnlyStore) GetPromoCodeByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	return s.inner.GetPromoCodeByCode(ctx, code)
}

func (s *ReadOnlyStore) ListPromoCodes(ctx context.Context) ([]*domain.PromoCode, error) {
	return s.inner.ListPromoCodes(ctx)
}

func (s *ReadOnlyStore) DeletePromoCode(context.Context, int64) error {
	return domain.ErrStoreReadOnly
}

func (s *ReadOnlyStore) ReplacePromoCodes(context.Context, []domain.PromoCodeSeed) ([]*domain.PromoCode, error) {
	return nil, domain.ErrStoreReadOnly
}

func (s *ReadOnlyStore) CreateToken(context.Context, string, int64) (*domain.Token, error) {
	return nil, domain.ErrStoreReadOnly
}

func (s *ReadOnlyStore) GetToken(ctx context.Context, token string) (*domain.Token, error) {
	return s.inner.GetToken(ctx, token)
}

func (s *ReadOnlyStore) MarkTokenUsed(context.Context, string, json.RawMessage) (*domain.Token, error) {
	return nil, domain.ErrStoreReadOnly
}

func (s *ReadOnlyStore) ListTokens(ctx context.Context) ([]*domain.TokenWithCode, error) {
	return s.inner.ListTokens(ctx)
}

var _ domain.Store = (*ReadOnlyStore)(nil)
