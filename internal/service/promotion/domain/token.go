// internal/service/promotion/domain/token.go
package domain

import (
	"encoding/json"
	"time"
)

// TokenStatus 是兑换令牌的生命周期状态。
// Issued 为初始状态，Consumed 为终态，不存在其他转换。
type TokenStatus string

const (
	TokenIssued   TokenStatus = "ISSUED"
	TokenConsumed TokenStatus = "CONSUMED"
)

// Token 是绑定到某个优惠码的一次性兑换凭证。
type Token struct {
	ID          int64
	Token       string
	PromoCodeID int64
	Used        bool
	CreatedAt   time.Time
	UsedAt      *time.Time
	// Result 在成功兑换之前为 nil，保存调用方提交的结果载荷。
	Result json.RawMessage
}

// TokenWithCode 是列表视图：令牌加上所属优惠码的 code 字符串。
// 优惠码已被删除时 Code 可能为空。
type TokenWithCode struct {
	*Token
	Code string
}

func (t *Token) Status() TokenStatus {
	if t.Used {
		return TokenConsumed
	}
	return TokenIssued
}

// IsEphemeral 报告令牌是否由临时覆盖层签发。
func (t *Token) IsEphemeral() bool {
	return t.ID < 0
}

// Consume 执行 Issued -> Consumed 的唯一一次状态转换。
func (t *Token) Consume(result json.RawMessage, at time.Time) error {
	if t.Used {
		return ErrTokenAlreadyUsed
	}
	usedAt := at
	t.Used = true
	t.UsedAt = &usedAt
	t.Result = append(json.RawMessage(nil), result...)
	return nil
}

// Clone 返回深拷贝。
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		c.UsedAt = &usedAt
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	return &c
}
