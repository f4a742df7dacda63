// internal/service/promotion/domain/repository.go
package domain

import (
	"context"
	"encoding/json"
)

// Store 定义了优惠码与令牌的持久化接口。
// 持久存储（gorm / redis）、只读装饰器和临时覆盖层都实现它，
// 应用层只依赖这个接口：先尝试持久实现，失败后退回覆盖层。
type Store interface {
	CreatePromoCode(ctx context.Context, code, description string) (*PromoCode, error)
	GetPromoCodeByID(ctx context.Context, id int64) (*PromoCode, error)
	GetPromoCodeByCode(ctx context.Context, code string) (*PromoCode, error)
	// ListPromoCodes 按 code 升序返回，code 相同时按 id 升序。
	ListPromoCodes(ctx context.Context) ([]*PromoCode, error)
	DeletePromoCode(ctx context.Context, id int64) error
	// ReplacePromoCodes 用 seeds 整体替换优惠码目录，已签发的令牌保持不变。
	ReplacePromoCodes(ctx context.Context, seeds []PromoCodeSeed) ([]*PromoCode, error)

	CreateToken(ctx context.Context, token string, promoCodeID int64) (*Token, error)
	GetToken(ctx context.Context, token string) (*Token, error)
	// MarkTokenUsed 必须是原子的 check-and-set：并发调用中只有一个能把 used 从 false 置为 true，
	// 其余调用得到 ErrTokenAlreadyUsed（令牌不存在时得到 ErrTokenNotFound）。
	MarkTokenUsed(ctx context.Context, token string, result json.RawMessage) (*Token, error)
	// ListTokens 按 created_at 倒序返回，并带上所属优惠码的 code。
	ListTokens(ctx context.Context) ([]*TokenWithCode, error)
}

// Overlay 是进程内的临时存储，在持久存储不可写时接管写入。
// 它不持久化，也不在进程之间共享：重启即丢失，多实例之间互不可见。
type Overlay interface {
	Store

	// Tombstone 记录“持久存储中这个 id 的优惠码在逻辑上已删除”。
	Tombstone(ctx context.Context, code *PromoCode) error
	IsTombstoned(id int64) bool
	// TombstonedCode 返回墓碑保存的快照，用于审计和列表展示。
	TombstonedCode(id int64) (*PromoCode, bool)
	// AdoptConsumed 在持久存储只读时，以影子副本的形式消费一个持久令牌。
	AdoptConsumed(ctx context.Context, token *Token, result json.RawMessage) (*Token, error)
	// Reset 清空覆盖层的全部内容。
	Reset()
}

// SuccessRule 判断兑换方提交的结果是否表示下游动作成功。
type SuccessRule interface {
	Succeeded(result map[string]any) (bool, error)
}
