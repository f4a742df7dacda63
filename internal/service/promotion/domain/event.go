// internal/service/promotion/domain/event.go
package domain

import "time"

// EventType 是对外发布的领域事件类型。
type EventType string

const (
	EventPromoCodeCreated EventType = "promo_code.created"
	EventPromoCodeDeleted EventType = "promo_code.deleted"
	EventTokenIssued      EventType = "token.issued"
	EventTokenRedeemed    EventType = "token.redeemed"
)

// Event 是发布到 kafka 和管理端实时推送的统一事件结构。
// 令牌只携带前缀，完整值不离开服务。
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	PromoCodeID int64     `json:"promo_code_id"`
	Code        string    `json:"code,omitempty"`
	TokenPrefix string    `json:"token_prefix,omitempty"`
	Backend     string    `json:"backend,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// TokenPrefix 截取令牌前 8 个字符，用于日志和事件。
func TokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
